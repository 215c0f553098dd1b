// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package ingest

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/metrics"
	"github.com/tomtom215/metricus/internal/models"
)

// Store is the slice of the event store the upload path needs.
type Store interface {
	InsertEvents(ctx context.Context, events []models.Event) (int, error)
	CreateBatch(ctx context.Context, batch *models.Batch) error
}

// UploadResult reports the outcome of a processed upload.
type UploadResult struct {
	BatchID     string `json:"batchId"`
	TotalEvents int    `json:"totalEvents"`
	Message     string `json:"message"`
}

// Service turns validated CSV uploads into stored events and a batch
// record.
type Service struct {
	store Store
}

// NewService creates an upload service backed by the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Upload validates the CSV payload, persists its events insert-if-absent,
// and creates the batch record. The whole file is rejected when any row
// fails validation; nothing is persisted in that case.
//
// TotalEvents counts only the events actually inserted: rows whose
// fingerprint already exists in the store, or that repeat within the
// file, are silently dropped. Re-uploading an identical file therefore
// yields a fresh batch with TotalEvents 0.
func (s *Service) Upload(ctx context.Context, fileName string, data []byte) (*UploadResult, error) {
	start := time.Now()
	log := logging.Ctx(ctx)

	log.Info().
		Str("file_name", fileName).
		Int("file_size", len(data)).
		Msg("CSV upload started")

	rows, err := ParseCSV(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	batchID := uuid.New().String()
	now := time.Now().UTC()

	events := make([]models.Event, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		fp := Fingerprint(row.UserID, row.EventType, row.Timestamp)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}

		events = append(events, models.Event{
			ID:          uuid.New().String(),
			BatchID:     batchID,
			EventType:   row.EventType,
			UserID:      row.UserID,
			Timestamp:   row.Timestamp.UTC(),
			Metadata:    row.Metadata,
			Fingerprint: fp,
			CreatedAt:   now,
		})
	}

	inserted, err := s.store.InsertEvents(ctx, events)
	if err != nil {
		return nil, fmt.Errorf("insert events: %w", err)
	}

	batch := &models.Batch{
		BatchID:     batchID,
		FileName:    fileName,
		TotalEvents: inserted,
		Status:      models.BatchUploaded,
		UploadedAt:  now,
	}
	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	metrics.EventsIngested.Add(float64(inserted))
	metrics.EventsDeduplicated.Add(float64(len(rows) - inserted))

	log.Info().
		Str("batch_id", batchID).
		Str("file_name", fileName).
		Int("total_rows", len(rows)).
		Int("inserted", inserted).
		Dur("duration", time.Since(start)).
		Msg("CSV upload completed")

	return &UploadResult{
		BatchID:     batchID,
		TotalEvents: inserted,
		Message:     fmt.Sprintf("Successfully uploaded %d events", inserted),
	}, nil
}
