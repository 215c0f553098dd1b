// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package models

import "time"

// Job is the unit of work published to the job queue. Each job carries
// at most the dispatcher's chunk size of event IDs for one batch.
type Job struct {
	JobID         string    `json:"jobId"`
	BatchID       string    `json:"batchId"`
	EventIDs      []string  `json:"eventIds"`
	CorrelationID string    `json:"correlationId"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
}

// DLQEntry is a dead-lettered job persisted for inspection.
type DLQEntry struct {
	ID            string    `json:"id"`
	Queue         string    `json:"-"`
	BatchID       string    `json:"-"`
	Payload       []byte    `json:"-"`
	Reason        string    `json:"failedReason"`
	CorrelationID string    `json:"-"`
	FailedAt      time.Time `json:"timestamp"`
}
