// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package queue

import (
	"context"
	"time"

	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/metrics"
)

// JanitorStore is the storage surface the retention sweeper needs.
type JanitorStore interface {
	DeleteExpiredDLQ(ctx context.Context, before time.Time) (int64, error)
}

// Janitor deletes archived dead-letter entries older than the retention
// window. JetStream MaxAge bounds the poison stream itself; this sweeps
// the durable copies exposed by the inspection API.
type Janitor struct {
	store     JanitorStore
	retention time.Duration
	interval  time.Duration
}

// NewJanitor builds the sweeper. Implements suture.Service.
func NewJanitor(store JanitorStore, retention, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{store: store, retention: retention, interval: interval}
}

// Serve sweeps immediately, then on every tick, until the context is
// cancelled.
func (j *Janitor) Serve(ctx context.Context) error {
	log := logging.WithComponent("dlq-janitor")
	log.Info().
		Dur("retention", j.retention).
		Dur("interval", j.interval).
		Msg("Dead-letter retention sweeper started")

	j.sweep(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Dead-letter retention sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.retention)
	deleted, err := j.store.DeleteExpiredDLQ(ctx, cutoff)
	if err != nil {
		logging.Warn().Err(err).Str("component", "dlq-janitor").Msg("Retention sweep failed")
		return
	}
	if deleted > 0 {
		metrics.DLQEntriesDeleted.Add(float64(deleted))
		logging.Info().
			Str("component", "dlq-janitor").
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("Purged expired dead-letter entries")
	}
}

func (j *Janitor) String() string { return "dlq-janitor" }
