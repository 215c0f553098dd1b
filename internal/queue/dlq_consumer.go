// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package queue

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/rs/zerolog"

	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/metrics"
	"github.com/tomtom215/metricus/internal/models"
)

// DLQStore is the storage surface the dead-letter archiver needs.
type DLQStore interface {
	SaveDLQEntry(ctx context.Context, entry *models.DLQEntry) error
	DLQBatchEventCount(ctx context.Context, queue, batchID string) (int, error)
	Batch(ctx context.Context, batchID string) (*models.Batch, error)
	CountProcessed(ctx context.Context, batchID string) (int, error)
	SetBatchStatus(ctx context.Context, batchID string, status models.BatchStatus) error
}

// DLQConsumer archives poisoned job messages into durable storage so
// they can be inspected over the API, and marks a batch failed once
// every one of its remaining events has been dead-lettered.
type DLQConsumer struct {
	store     DLQStore
	queueName string
}

// NewDLQConsumer builds the archiver for the named logical queue.
func NewDLQConsumer(store DLQStore, queueName string) *DLQConsumer {
	return &DLQConsumer{store: store, queueName: queueName}
}

// Handle persists one poisoned message. It always acks: an archiver
// error must not nack the message back onto the poison subject.
func (c *DLQConsumer) Handle(msg *message.Message) error {
	ctx := msg.Context()

	entry := &models.DLQEntry{
		ID:            msg.UUID,
		Queue:         c.queueName,
		Payload:       []byte(msg.Payload),
		Reason:        msg.Metadata.Get(middleware.ReasonForPoisonedKey),
		CorrelationID: msg.Metadata.Get(MetadataCorrelationID),
		FailedAt:      time.Now().UTC(),
	}
	if entry.Reason == "" {
		entry.Reason = "unknown failure"
	}

	job, err := DecodeJob(msg)
	if err == nil {
		entry.BatchID = job.BatchID
	}

	log := logging.Logger().With().
		Str("component", "dlq").
		Str("message_id", msg.UUID).
		Str("batch_id", entry.BatchID).
		Str("correlation_id", entry.CorrelationID).
		Logger()

	if err := c.store.SaveDLQEntry(ctx, entry); err != nil {
		log.Error().Err(err).Msg("Failed to archive dead-lettered job")
		return nil
	}

	metrics.JobsDeadLettered.Inc()
	log.Warn().Str("reason", entry.Reason).Msg("Archived dead-lettered job")

	if entry.BatchID != "" {
		c.maybeFailBatch(ctx, &log, entry.BatchID)
	}
	return nil
}

// maybeFailBatch marks the batch failed once its dead-lettered events
// account for everything that never processed. Batches that already
// reached a terminal status are left alone.
func (c *DLQConsumer) maybeFailBatch(ctx context.Context, log *zerolog.Logger, batchID string) {
	batch, err := c.store.Batch(ctx, batchID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load batch for failure check")
		return
	}
	if batch.Status == models.BatchCompleted || batch.Status == models.BatchFailed {
		return
	}

	processed, err := c.store.CountProcessed(ctx, batchID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to count processed events for failure check")
		return
	}
	remainder := batch.TotalEvents - processed
	if remainder <= 0 {
		return
	}

	deadLettered, err := c.store.DLQBatchEventCount(ctx, c.queueName, batchID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to count dead-lettered events for failure check")
		return
	}
	if deadLettered < remainder {
		return
	}

	if err := c.store.SetBatchStatus(ctx, batchID, models.BatchFailed); err != nil {
		log.Error().Err(err).Msg("Failed to mark batch failed")
		return
	}
	log.Error().
		Int("total_events", batch.TotalEvents).
		Int("processed", processed).
		Int("dead_lettered", deadLettered).
		Msg("Batch failed: all remaining events dead-lettered")
}
