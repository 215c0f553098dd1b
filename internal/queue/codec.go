// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package queue

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"

	"github.com/tomtom215/metricus/internal/models"
)

// Message metadata keys carried alongside job payloads.
const (
	MetadataBatchID       = "batch_id"
	MetadataCorrelationID = "correlation_id"
)

// EncodeJob serializes a job into a Watermill message. The message UUID
// is the job ID, so JetStream duplicate tracking dedups republished jobs.
func EncodeJob(job *models.Job) (*message.Message, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job %s: %w", job.JobID, err)
	}

	msg := message.NewMessage(job.JobID, payload)
	msg.Metadata.Set(MetadataBatchID, job.BatchID)
	if job.CorrelationID != "" {
		msg.Metadata.Set(MetadataCorrelationID, job.CorrelationID)
	}
	return msg, nil
}

// DecodeJob parses a job out of a Watermill message payload.
func DecodeJob(msg *message.Message) (*models.Job, error) {
	var job models.Job
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job payload for message %s: %w", msg.UUID, err)
	}
	if job.JobID == "" {
		job.JobID = msg.UUID
	}
	if job.CorrelationID == "" {
		job.CorrelationID = msg.Metadata.Get(MetadataCorrelationID)
	}
	return &job, nil
}
