// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/metricus/internal/metrics"
	"github.com/tomtom215/metricus/internal/models"
)

// IncrementMetrics applies the given (date, eventType) count increments
// as upserts: a missing counter row is created with the delta, an
// existing one is incremented. Existing counts are never overwritten, so
// workers folding different jobs into the same day accumulate correctly.
func (s *Store) IncrementMetrics(ctx context.Context, increments []models.MetricIncrement) error {
	if len(increments) == 0 {
		return nil
	}

	start := time.Now()
	now := time.Now().UTC()

	for _, inc := range increments {
		_, err := s.conn.ExecContext(ctx,
			`INSERT INTO metrics (date, event_type, count, last_updated)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (date, event_type)
			 DO UPDATE SET count = count + excluded.count, last_updated = excluded.last_updated`,
			inc.Date, inc.EventType, inc.Delta, now)
		if err != nil {
			metrics.ObserveDBQuery("upsert", "metrics", start, err)
			return fmt.Errorf("increment metric (%s, %s): %w", inc.Date, inc.EventType, err)
		}
	}

	metrics.ObserveDBQuery("upsert", "metrics", start, nil)
	return nil
}

// MetricsForDate returns all counters for one UTC day, sorted by event
// type.
func (s *Store) MetricsForDate(ctx context.Context, date string) ([]models.Metric, error) {
	start := time.Now()

	rows, err := s.conn.QueryContext(ctx,
		`SELECT date, event_type, count, last_updated
		 FROM metrics WHERE date = ?
		 ORDER BY event_type`, date)
	metrics.ObserveDBQuery("select", "metrics", start, err)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer closeRows(rows)

	var result []models.Metric
	for rows.Next() {
		var m models.Metric
		if err := rows.Scan(&m.Date, &m.EventType, &m.Count, &m.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
