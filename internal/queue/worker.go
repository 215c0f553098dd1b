// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package queue

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/metrics"
	"github.com/tomtom215/metricus/internal/models"
)

// WorkerStore is the storage surface the worker needs.
type WorkerStore interface {
	EventsByIDs(ctx context.Context, ids []string) ([]models.Event, error)
	FingerprintProcessed(ctx context.Context, fingerprint string) (bool, error)
	IncrementMetrics(ctx context.Context, increments []models.MetricIncrement) error
	MarkProcessed(ctx context.Context, ids []string) error
	RefreshBatchProgress(ctx context.Context, batchID string) (*models.Batch, error)
}

// Worker consumes job messages and folds their events into the daily
// metric counters. Handle is safe for concurrent use; all state lives in
// the store.
type Worker struct {
	store WorkerStore
}

// NewWorker builds a job worker over the given store.
func NewWorker(store WorkerStore) *Worker {
	return &Worker{store: store}
}

// Handle processes one job message. Returning a RetryableError triggers
// backoff and redelivery; a PermanentError dead-letters the message.
func (w *Worker) Handle(msg *message.Message) error {
	start := time.Now()
	ctx := msg.Context()

	job, err := DecodeJob(msg)
	if err != nil {
		metrics.JobsFailed.WithLabelValues("permanent").Inc()
		return NewPermanentError("invalid job payload", err)
	}

	log := logging.Logger().With().
		Str("component", "worker").
		Str("job_id", job.JobID).
		Str("batch_id", job.BatchID).
		Str("correlation_id", job.CorrelationID).
		Logger()

	events, err := w.store.EventsByIDs(ctx, job.EventIDs)
	if err != nil {
		return w.fail(&log, "failed to load job events", err)
	}

	// Events already marked processed are filtered by the query; a
	// redelivered job whose work completed acks cleanly here.
	if len(events) == 0 {
		log.Debug().Int("event_ids", len(job.EventIDs)).Msg("Job has no unprocessed events, acking")
		metrics.JobsProcessed.Inc()
		return nil
	}

	pending := make([]models.Event, 0, len(events))
	for _, ev := range events {
		done, err := w.store.FingerprintProcessed(ctx, ev.Fingerprint)
		if err != nil {
			return w.fail(&log, "failed to check event fingerprint", err)
		}
		if done {
			continue
		}
		pending = append(pending, ev)
	}

	if len(pending) == 0 {
		log.Debug().Msg("All job events already counted, acking")
		metrics.JobsProcessed.Inc()
		return nil
	}

	increments := aggregateIncrements(pending)
	if err := w.store.IncrementMetrics(ctx, increments); err != nil {
		return w.fail(&log, "failed to increment metrics", err)
	}

	ids := make([]string, len(pending))
	for i, ev := range pending {
		ids[i] = ev.ID
	}
	if err := w.store.MarkProcessed(ctx, ids); err != nil {
		return w.fail(&log, "failed to mark events processed", err)
	}

	// Progress tracking is advisory; a failure here must not trigger a
	// redelivery that would double-count nothing but churn the queue.
	if batch, err := w.store.RefreshBatchProgress(ctx, job.BatchID); err != nil {
		log.Warn().Err(err).Msg("Failed to refresh batch progress")
	} else if batch.Status == models.BatchCompleted {
		log.Info().Int("total_events", batch.TotalEvents).Msg("Batch completed")
	}

	metrics.JobsProcessed.Inc()
	metrics.EventsProcessed.Add(float64(len(pending)))
	metrics.JobDuration.Observe(time.Since(start).Seconds())

	log.Info().
		Int("events", len(pending)).
		Int("skipped", len(events)-len(pending)).
		Dur("duration", time.Since(start)).
		Msg("Processed job")
	return nil
}

func (w *Worker) fail(log *zerolog.Logger, reason string, err error) error {
	classified := ClassifyError(reason, err)
	if IsRetryableError(classified) {
		metrics.JobsFailed.WithLabelValues("retryable").Inc()
		log.Warn().Err(err).Str("category", string(CategoryOf(classified))).Msg("Job failed, will retry")
	} else {
		metrics.JobsFailed.WithLabelValues("permanent").Inc()
		log.Error().Err(err).Str("category", string(CategoryOf(classified))).Msg("Job failed permanently")
	}
	return classified
}

// aggregateIncrements folds events into one delta per (UTC date, event
// type) pair so each job issues a bounded number of upserts.
func aggregateIncrements(events []models.Event) []models.MetricIncrement {
	type key struct {
		date      string
		eventType string
	}
	counts := make(map[key]int64)
	order := make([]key, 0, len(events))
	for _, ev := range events {
		k := key{
			date:      ev.Timestamp.UTC().Format(models.MetricDateFormat),
			eventType: ev.EventType,
		}
		if _, seen := counts[k]; !seen {
			order = append(order, k)
		}
		counts[k]++
	}

	increments := make([]models.MetricIncrement, 0, len(order))
	for _, k := range order {
		increments = append(increments, models.MetricIncrement{
			Date:      k.date,
			EventType: k.eventType,
			Delta:     counts[k],
		})
	}
	return increments
}
