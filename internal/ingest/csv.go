// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

// Package ingest parses and validates uploaded CSV files and turns them
// into deduplicated event rows with derived idempotency keys.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tomtom215/metricus/internal/models"
)

// requiredColumns are the CSV columns every upload must carry, in their
// canonical spelling. Header matching is case-insensitive; any other
// column becomes event metadata under its original spelling.
var requiredColumns = []string{"userId", "eventType", "timestamp"}

// Row is one normalized CSV data row. Metadata holds every non-reserved
// column under its original header spelling, in header order.
type Row struct {
	UserID    string
	EventType string
	// RawTimestamp is the cell as uploaded; Timestamp is its parsed form,
	// valid only when validation passed.
	RawTimestamp string
	Timestamp    time.Time
	Metadata     models.Metadata
}

// timestampLayouts are the accepted ISO 8601 shapes. Zone-less layouts
// are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTimestamp parses an ISO 8601 timestamp cell.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ParseCSV reads and fully validates a CSV upload. It returns the
// normalized rows, or a *ValidationError carrying every structural and
// per-row failure found. Any other error means the payload was not
// parseable as CSV at all.
func ParseCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	if len(records) == 0 {
		return nil, &ValidationError{Errors: []FieldError{emptyFileError()}}
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = strings.TrimSpace(h)
	}

	if errs := validateStructure(headers); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	dataRecords := records[1:]
	if len(dataRecords) == 0 {
		return nil, &ValidationError{Errors: []FieldError{emptyFileError()}}
	}

	rows := make([]Row, 0, len(dataRecords))
	var allErrs []FieldError
	for i, record := range dataRecords {
		// Data rows are numbered from 2: row 1 is the header.
		rowNum := i + 2
		row, errs := normalizeRow(headers, record, rowNum)
		if len(errs) > 0 {
			allErrs = append(allErrs, errs...)
			continue
		}
		rows = append(rows, row)
	}

	if len(allErrs) > 0 {
		return nil, &ValidationError{Errors: allErrs}
	}

	return rows, nil
}

func emptyFileError() FieldError {
	return FieldError{Row: 0, Field: "file", Message: "CSV file is empty or contains no data rows"}
}

// validateStructure checks that every required column is present,
// reporting each missing column separately at row 0.
func validateStructure(headers []string) []FieldError {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[strings.ToLower(h)] = true
	}

	var errs []FieldError
	for _, required := range requiredColumns {
		if !present[strings.ToLower(required)] {
			errs = append(errs, FieldError{
				Row:     0,
				Field:   required,
				Message: fmt.Sprintf("Required column '%s' is missing", required),
			})
		}
	}
	return errs
}

// normalizeRow validates one record and extracts the reserved fields and
// metadata. All failures for the row are returned, not just the first.
func normalizeRow(headers, record []string, rowNum int) (Row, []FieldError) {
	cell := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	row := Row{}
	for i, header := range headers {
		switch strings.ToLower(header) {
		case "userid":
			row.UserID = cell(i)
		case "eventtype":
			row.EventType = cell(i)
		case "timestamp":
			row.RawTimestamp = cell(i)
		default:
			if header == "" {
				continue
			}
			row.Metadata = append(row.Metadata, models.MetadataField{Key: header, Value: cell(i)})
		}
	}

	var errs []FieldError
	if row.UserID == "" {
		errs = append(errs, FieldError{
			Row:     rowNum,
			Field:   "userId",
			Message: "userId is required and must be a non-empty string",
		})
	}
	if row.EventType == "" {
		errs = append(errs, FieldError{
			Row:     rowNum,
			Field:   "eventType",
			Message: "eventType is required and must be a non-empty string",
		})
	}
	switch {
	case row.RawTimestamp == "":
		errs = append(errs, FieldError{
			Row:     rowNum,
			Field:   "timestamp",
			Message: "timestamp is required and must be a non-empty string",
		})
	default:
		ts, err := parseTimestamp(row.RawTimestamp)
		if err != nil {
			errs = append(errs, FieldError{
				Row:     rowNum,
				Field:   "timestamp",
				Message: "timestamp must be a valid ISO 8601 date string",
			})
		} else {
			row.Timestamp = ts
		}
	}

	return row, errs
}
