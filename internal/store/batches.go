// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/metricus/internal/metrics"
	"github.com/tomtom215/metricus/internal/models"
)

// CreateBatch inserts a new batch record.
func (s *Store) CreateBatch(ctx context.Context, batch *models.Batch) error {
	start := time.Now()

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO batches (batch_id, file_name, total_events, processed_events, status, uploaded_at, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		batch.BatchID, batch.FileName, batch.TotalEvents, batch.ProcessedEvents,
		string(batch.Status), batch.UploadedAt, batch.ProcessedAt)
	metrics.ObserveDBQuery("insert", "batches", start, err)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// Batch loads one batch by ID, returning *NotFoundError when it does not
// exist.
func (s *Store) Batch(ctx context.Context, batchID string) (*models.Batch, error) {
	start := time.Now()

	var b models.Batch
	var status string
	var processedAt sql.NullTime
	err := s.conn.QueryRowContext(ctx,
		`SELECT batch_id, file_name, total_events, processed_events, status, uploaded_at, processed_at
		 FROM batches WHERE batch_id = ?`, batchID).
		Scan(&b.BatchID, &b.FileName, &b.TotalEvents, &b.ProcessedEvents, &status, &b.UploadedAt, &processedAt)
	metrics.ObserveDBQuery("select", "batches", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "Batch", Key: batchID}
	}
	if err != nil {
		return nil, fmt.Errorf("query batch: %w", err)
	}

	b.Status = models.BatchStatus(status)
	if processedAt.Valid {
		t := processedAt.Time
		b.ProcessedAt = &t
	}
	return &b, nil
}

// SetBatchStatus updates the lifecycle state of a batch.
func (s *Store) SetBatchStatus(ctx context.Context, batchID string, status models.BatchStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid batch status %q", status)
	}

	start := time.Now()
	res, err := s.conn.ExecContext(ctx,
		`UPDATE batches SET status = ? WHERE batch_id = ?`, string(status), batchID)
	metrics.ObserveDBQuery("update", "batches", start, err)
	if err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return &NotFoundError{Kind: "Batch", Key: batchID}
	}
	return nil
}

// RefreshBatchProgress recounts the batch's processed events and flips
// the batch to completed (stamping processed_at exactly once) when the
// count has reached the total. Progress never moves backwards: recounts
// reflect the monotone processed flags on the events themselves.
func (s *Store) RefreshBatchProgress(ctx context.Context, batchID string) (*models.Batch, error) {
	processed, err := s.CountProcessed(ctx, batchID)
	if err != nil {
		return nil, err
	}

	batch, err := s.Batch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if processed >= batch.TotalEvents && batch.Status != models.BatchCompleted {
		// DuckDB timestamps carry microseconds; truncate so the value
		// returned here matches every later read of the row.
		now := time.Now().UTC().Truncate(time.Microsecond)
		_, err = s.conn.ExecContext(ctx,
			`UPDATE batches
			 SET processed_events = ?, status = ?, processed_at = COALESCE(processed_at, ?)
			 WHERE batch_id = ?`,
			processed, string(models.BatchCompleted), now, batchID)
		metrics.ObserveDBQuery("update", "batches", start, err)
		if err != nil {
			return nil, fmt.Errorf("complete batch: %w", err)
		}
		batch.ProcessedEvents = processed
		batch.Status = models.BatchCompleted
		if batch.ProcessedAt == nil {
			batch.ProcessedAt = &now
		}
		return batch, nil
	}

	_, err = s.conn.ExecContext(ctx,
		`UPDATE batches SET processed_events = ? WHERE batch_id = ?`, processed, batchID)
	metrics.ObserveDBQuery("update", "batches", start, err)
	if err != nil {
		return nil, fmt.Errorf("update batch progress: %w", err)
	}
	batch.ProcessedEvents = processed
	return batch, nil
}
