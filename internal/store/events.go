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
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/metrics"
	"github.com/tomtom215/metricus/internal/models"
)

// insertChunkSize bounds the placeholder count of one multi-row INSERT.
const insertChunkSize = 500

// InsertEvents persists events insert-if-absent and returns how many
// rows were actually inserted. Events whose fingerprint already exists
// are skipped by the ON CONFLICT clause, so the returned count is the
// number of genuinely new events.
func (s *Store) InsertEvents(ctx context.Context, events []models.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	start := time.Now()
	total := 0

	for offset := 0; offset < len(events); offset += insertChunkSize {
		end := offset + insertChunkSize
		if end > len(events) {
			end = len(events)
		}
		chunk := events[offset:end]

		placeholders := make([]string, 0, len(chunk))
		args := make([]interface{}, 0, len(chunk)*9)
		for _, ev := range chunk {
			var metadata sql.NullString
			if len(ev.Metadata) > 0 {
				raw, err := json.Marshal(ev.Metadata)
				if err != nil {
					return total, fmt.Errorf("marshal metadata for event %s: %w", ev.ID, err)
				}
				metadata = sql.NullString{String: string(raw), Valid: true}
			}

			placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				ev.ID, ev.BatchID, ev.EventType, ev.UserID, ev.Timestamp,
				metadata, ev.Processed, ev.Fingerprint, ev.CreatedAt)
		}

		query := `INSERT INTO events
			(id, batch_id, event_type, user_id, ts, metadata, processed, fingerprint, created_at)
			VALUES ` + strings.Join(placeholders, ", ") + `
			ON CONFLICT (fingerprint) DO NOTHING`

		res, err := s.conn.ExecContext(ctx, query, args...)
		if err != nil {
			metrics.ObserveDBQuery("insert", "events", start, err)
			return total, fmt.Errorf("insert events: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += int(affected)
	}

	metrics.ObserveDBQuery("insert", "events", start, nil)
	return total, nil
}

// UnprocessedEventIDs returns up to limit IDs of events in the batch that
// have not been processed yet, oldest first.
func (s *Store) UnprocessedEventIDs(ctx context.Context, batchID string, limit int) ([]string, error) {
	start := time.Now()

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id FROM events
		 WHERE batch_id = ? AND processed = false
		 ORDER BY created_at, id
		 LIMIT ?`,
		batchID, limit)
	metrics.ObserveDBQuery("select", "events", start, err)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed events: %w", err)
	}
	defer closeRows(rows)

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EventsByIDs fetches the given events, skipping any already processed.
// Workers use this as the first deduplication gate: a redelivered job
// sees an empty result for work that already completed.
func (s *Store) EventsByIDs(ctx context.Context, ids []string) ([]models.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	start := time.Now()
	query := `SELECT id, batch_id, event_type, user_id, ts, metadata, processed, fingerprint, created_at
		FROM events
		WHERE processed = false AND id IN (` + placeholderList(len(ids)) + `)
		ORDER BY created_at, id`

	rows, err := s.conn.QueryContext(ctx, query, stringArgs(ids)...)
	metrics.ObserveDBQuery("select", "events", start, err)
	if err != nil {
		return nil, fmt.Errorf("query events by ids: %w", err)
	}
	defer closeRows(rows)

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var metadata sql.NullString
		if err := rows.Scan(&ev.ID, &ev.BatchID, &ev.EventType, &ev.UserID, &ev.Timestamp,
			&metadata, &ev.Processed, &ev.Fingerprint, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata for event %s: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkProcessed flags the given events as folded into the metric
// counters.
func (s *Store) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	start := time.Now()
	query := `UPDATE events SET processed = true WHERE id IN (` + placeholderList(len(ids)) + `)`
	_, err := s.conn.ExecContext(ctx, query, stringArgs(ids)...)
	metrics.ObserveDBQuery("update", "events", start, err)
	if err != nil {
		return fmt.Errorf("mark events processed: %w", err)
	}
	return nil
}

// FingerprintProcessed reports whether the event carrying the given
// fingerprint has already been processed. This is the second
// deduplication gate: it catches the same logical event reaching a
// worker through a different batch.
func (s *Store) FingerprintProcessed(ctx context.Context, fingerprint string) (bool, error) {
	start := time.Now()

	var processed bool
	err := s.conn.QueryRowContext(ctx,
		`SELECT processed FROM events WHERE fingerprint = ?`, fingerprint).Scan(&processed)
	metrics.ObserveDBQuery("select", "events", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query fingerprint: %w", err)
	}
	return processed, nil
}

// CountProcessed returns how many events of the batch are processed.
func (s *Store) CountProcessed(ctx context.Context, batchID string) (int, error) {
	start := time.Now()

	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE batch_id = ? AND processed = true`, batchID).Scan(&count)
	metrics.ObserveDBQuery("select", "events", start, err)
	if err != nil {
		return 0, fmt.Errorf("count processed events: %w", err)
	}
	return count, nil
}

// placeholderList renders "?, ?, ..." with n placeholders.
func placeholderList(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close result rows")
	}
}
