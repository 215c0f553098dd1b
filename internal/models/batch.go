// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package models

import "time"

// BatchStatus is the lifecycle state of an uploaded batch.
type BatchStatus string

const (
	// BatchUploaded means the file was validated and its events persisted.
	BatchUploaded BatchStatus = "uploaded"
	// BatchProcessing means jobs have been enqueued for the batch.
	BatchProcessing BatchStatus = "processing"
	// BatchCompleted means every event of the batch has been processed.
	BatchCompleted BatchStatus = "completed"
	// BatchFailed means the batch's remaining events were dead-lettered.
	BatchFailed BatchStatus = "failed"
)

// Valid reports whether s is a known batch status.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchUploaded, BatchProcessing, BatchCompleted, BatchFailed:
		return true
	}
	return false
}

// Batch tracks one uploaded CSV file through the pipeline.
type Batch struct {
	BatchID         string      `json:"batchId"`
	FileName        string      `json:"fileName"`
	TotalEvents     int         `json:"totalEvents"`
	ProcessedEvents int         `json:"processedEvents"`
	Status          BatchStatus `json:"status"`
	UploadedAt      time.Time   `json:"uploadedAt"`
	ProcessedAt     *time.Time  `json:"processedAt,omitempty"`
}
