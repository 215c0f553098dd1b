// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

// Package dispatch chunks a batch's unprocessed events into jobs and
// enqueues them for the worker pool.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/metrics"
	"github.com/tomtom215/metricus/internal/models"
)

// Store is the storage surface the dispatcher needs.
type Store interface {
	Batch(ctx context.Context, batchID string) (*models.Batch, error)
	UnprocessedEventIDs(ctx context.Context, batchID string, limit int) ([]string, error)
	SetBatchStatus(ctx context.Context, batchID string, status models.BatchStatus) error
}

// Publisher enqueues encoded jobs on a topic.
type Publisher interface {
	PublishJobs(ctx context.Context, topic string, jobs []*models.Job) (int, error)
}

// Result reports what one dispatch call enqueued.
type Result struct {
	BatchID      string `json:"batchId"`
	JobsEnqueued int    `json:"jobsEnqueued"`
	EventCount   int    `json:"eventCount"`
	Message      string `json:"message"`
}

// Dispatcher turns unprocessed batch events into queued jobs.
type Dispatcher struct {
	store     Store
	publisher Publisher
	topic     string

	// chunkSize is the number of events per job; maxEvents caps how
	// many events one dispatch call picks up. Larger batches drain over
	// repeated calls.
	chunkSize int
	maxEvents int
}

// New builds a dispatcher publishing to the given topic.
func New(store Store, publisher Publisher, topic string, chunkSize, maxEvents int) *Dispatcher {
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		topic:     topic,
		chunkSize: chunkSize,
		maxEvents: maxEvents,
	}
}

// Dispatch enqueues jobs for every unprocessed event of the batch, up to
// the per-call cap. A batch with nothing left to process returns a zero
// result without touching its status.
func (d *Dispatcher) Dispatch(ctx context.Context, batchID, correlationID string) (*Result, error) {
	batch, err := d.store.Batch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	ids, err := d.store.UnprocessedEventIDs(ctx, batchID, d.maxEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to load unprocessed events for batch %s: %w", batchID, err)
	}
	if len(ids) == 0 {
		return &Result{
			BatchID: batchID,
			Message: "No unprocessed events found in batch",
		}, nil
	}

	jobs := d.chunk(batchID, correlationID, ids)

	// The batch turns processing before the first job can race it.
	if batch.Status == models.BatchUploaded || batch.Status == models.BatchFailed {
		if err := d.store.SetBatchStatus(ctx, batchID, models.BatchProcessing); err != nil {
			return nil, fmt.Errorf("failed to mark batch %s processing: %w", batchID, err)
		}
	}

	published, err := d.publisher.PublishJobs(ctx, d.topic, jobs)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue jobs for batch %s (%d of %d published): %w",
			batchID, published, len(jobs), err)
	}

	metrics.JobsEnqueued.Add(float64(len(jobs)))
	metrics.DispatchEvents.Observe(float64(len(ids)))

	logging.Info().
		Str("component", "dispatch").
		Str("batch_id", batchID).
		Str("correlation_id", correlationID).
		Int("jobs", len(jobs)).
		Int("events", len(ids)).
		Msg("Dispatched batch")

	return &Result{
		BatchID:      batchID,
		JobsEnqueued: len(jobs),
		EventCount:   len(ids),
		Message:      fmt.Sprintf("Enqueued %d job(s) for batch", len(jobs)),
	}, nil
}

func (d *Dispatcher) chunk(batchID, correlationID string, ids []string) []*models.Job {
	size := d.chunkSize
	if size < 1 {
		size = len(ids)
	}

	now := time.Now().UTC()
	jobs := make([]*models.Job, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		jobs = append(jobs, &models.Job{
			JobID:         uuid.NewString(),
			BatchID:       batchID,
			EventIDs:      ids[start:end],
			CorrelationID: correlationID,
			EnqueuedAt:    now,
		})
	}
	return jobs
}
