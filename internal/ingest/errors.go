// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package ingest

import "fmt"

// FieldError pinpoints one validation failure in an uploaded CSV file.
// Row 0 marks file-level faults (missing column, empty file); data rows
// are numbered from 2 because row 1 is the header.
type FieldError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every FieldError found in a file. Validation
// is exhaustive: all rows are checked and all failures reported together,
// and a file with any error is rejected in full.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("CSV validation failed: %d error(s)", len(e.Errors))
}
