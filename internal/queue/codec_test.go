// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package queue

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/metricus/internal/models"
)

// ====== Job codec tests ======

func TestEncodeDecodeJob(t *testing.T) {
	job := &models.Job{
		JobID:         "job-1",
		BatchID:       "batch-1",
		EventIDs:      []string{"e1", "e2", "e3"},
		CorrelationID: "corr-1",
		EnqueuedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	msg, err := EncodeJob(job)
	if err != nil {
		t.Fatalf("EncodeJob: %v", err)
	}
	if msg.UUID != "job-1" {
		t.Errorf("message UUID = %q, want job ID", msg.UUID)
	}
	if got := msg.Metadata.Get(MetadataBatchID); got != "batch-1" {
		t.Errorf("batch_id metadata = %q, want %q", got, "batch-1")
	}
	if got := msg.Metadata.Get(MetadataCorrelationID); got != "corr-1" {
		t.Errorf("correlation_id metadata = %q, want %q", got, "corr-1")
	}

	decoded, err := DecodeJob(msg)
	if err != nil {
		t.Fatalf("DecodeJob: %v", err)
	}
	if decoded.JobID != job.JobID || decoded.BatchID != job.BatchID {
		t.Errorf("decoded job = %+v, want %+v", decoded, job)
	}
	if len(decoded.EventIDs) != 3 || decoded.EventIDs[0] != "e1" {
		t.Errorf("decoded event IDs = %v", decoded.EventIDs)
	}
	if decoded.CorrelationID != "corr-1" {
		t.Errorf("decoded correlation ID = %q", decoded.CorrelationID)
	}
}

func TestDecodeJobFallsBackToMessageFields(t *testing.T) {
	msg := message.NewMessage("msg-uuid", []byte(`{"batchId":"batch-2","eventIds":["e1"]}`))
	msg.Metadata.Set(MetadataCorrelationID, "corr-from-meta")

	job, err := DecodeJob(msg)
	if err != nil {
		t.Fatalf("DecodeJob: %v", err)
	}
	if job.JobID != "msg-uuid" {
		t.Errorf("job ID = %q, want message UUID fallback", job.JobID)
	}
	if job.CorrelationID != "corr-from-meta" {
		t.Errorf("correlation ID = %q, want metadata fallback", job.CorrelationID)
	}
}

func TestDecodeJobRejectsGarbage(t *testing.T) {
	msg := message.NewMessage("bad", []byte("not json"))
	if _, err := DecodeJob(msg); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
