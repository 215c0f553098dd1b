// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

// Package models defines the domain types shared across ingestion,
// storage, dispatch, and the API surface.
package models

import (
	"bytes"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// MetadataField is one free-form event attribute, keyed by the original
// CSV column header spelling.
type MetadataField struct {
	Key   string
	Value string
}

// Metadata is an ordered set of free-form attributes. It round-trips
// through JSON as an object whose keys keep their column order.
type Metadata []MetadataField

// MarshalJSON writes the fields as an object in slice order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object's members in document order.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("metadata must be a JSON object")
	}

	var out Metadata
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("metadata key must be a string")
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("metadata value for %q: %w", key, err)
		}
		out = append(out, MetadataField{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

// Event is a single user event ingested from a CSV upload.
type Event struct {
	ID        string    `json:"id"`
	BatchID   string    `json:"batchId"`
	EventType string    `json:"eventType"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata,omitempty"`

	// Fingerprint is the sha256 idempotency key derived from
	// (userId, eventType, timestamp). Unique across the event store.
	Fingerprint string `json:"-"`

	// Processed is set once the event has been folded into the daily
	// metric counters.
	Processed bool      `json:"processed"`
	CreatedAt time.Time `json:"createdAt"`
}
