// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/metricus/internal/metrics"
	"github.com/tomtom215/metricus/internal/models"
)

// SaveDLQEntry persists one dead-lettered job. Saving is idempotent on
// the entry ID so a redelivered poison message does not duplicate rows.
func (s *Store) SaveDLQEntry(ctx context.Context, entry *models.DLQEntry) error {
	start := time.Now()

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO dlq_entries (id, queue, batch_id, payload, reason, correlation_id, failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		entry.ID, entry.Queue, entry.BatchID, string(entry.Payload),
		entry.Reason, entry.CorrelationID, entry.FailedAt)
	metrics.ObserveDBQuery("insert", "dlq_entries", start, err)
	if err != nil {
		return fmt.Errorf("save dlq entry: %w", err)
	}
	return nil
}

// DLQEntries lists dead-lettered jobs for a queue, newest first.
func (s *Store) DLQEntries(ctx context.Context, queue string, limit int) ([]models.DLQEntry, error) {
	start := time.Now()

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, queue, batch_id, payload, reason, correlation_id, failed_at
		 FROM dlq_entries WHERE queue = ?
		 ORDER BY failed_at DESC
		 LIMIT ?`, queue, limit)
	metrics.ObserveDBQuery("select", "dlq_entries", start, err)
	if err != nil {
		return nil, fmt.Errorf("query dlq entries: %w", err)
	}
	defer closeRows(rows)

	var entries []models.DLQEntry
	for rows.Next() {
		var e models.DLQEntry
		var batchID, payload, reason, correlationID sql.NullString
		if err := rows.Scan(&e.ID, &e.Queue, &batchID, &payload, &reason, &correlationID, &e.FailedAt); err != nil {
			return nil, fmt.Errorf("scan dlq entry: %w", err)
		}
		e.BatchID = batchID.String
		e.Payload = []byte(payload.String)
		e.Reason = reason.String
		e.CorrelationID = correlationID.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteExpiredDLQ removes entries that failed before the cutoff and
// returns how many were deleted.
func (s *Store) DeleteExpiredDLQ(ctx context.Context, before time.Time) (int64, error) {
	start := time.Now()

	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM dlq_entries WHERE failed_at < ?`, before)
	metrics.ObserveDBQuery("delete", "dlq_entries", start, err)
	if err != nil {
		return 0, fmt.Errorf("delete expired dlq entries: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return deleted, nil
}

// DLQCount returns how many dead-letter entries a queue holds.
func (s *Store) DLQCount(ctx context.Context, queue string) (int, error) {
	start := time.Now()

	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dlq_entries WHERE queue = ?`, queue).Scan(&count)
	metrics.ObserveDBQuery("select", "dlq_entries", start, err)
	if err != nil {
		return 0, fmt.Errorf("count dlq entries: %w", err)
	}
	return count, nil
}

// DLQBatchEventCount returns how many distinct events are referenced by
// the dead-lettered jobs of one batch. The DLQ consumer uses it to
// decide when a batch has failed outright.
func (s *Store) DLQBatchEventCount(ctx context.Context, queue, batchID string) (int, error) {
	entries, err := s.DLQEntries(ctx, queue, 10000)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.BatchID != batchID {
			continue
		}
		var job models.Job
		if err := json.Unmarshal(e.Payload, &job); err != nil {
			continue
		}
		for _, id := range job.EventIDs {
			seen[id] = struct{}{}
		}
	}
	return len(seen), nil
}
