// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package models

import "time"

// MetricDateFormat is the canonical day key layout for metric counters.
const MetricDateFormat = "2006-01-02"

// Metric is a daily counter for one event type.
type Metric struct {
	// Date is the UTC day in YYYY-MM-DD form.
	Date        string    `json:"date"`
	EventType   string    `json:"eventType"`
	Count       int64     `json:"count"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// MetricIncrement is one upsert-increment applied to the metrics table.
type MetricIncrement struct {
	Date      string
	EventType string
	Delta     int64
}
