// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

// Package store persists events, batches, daily metric counters, and
// dead-letter entries in DuckDB. Idempotency is enforced at the schema
// level: the events table carries a unique fingerprint index, and inserts
// use ON CONFLICT DO NOTHING so replays collapse silently.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // duckdb sql driver

	"github.com/tomtom215/metricus/internal/config"
	"github.com/tomtom215/metricus/internal/logging"
)

// NotFoundError reports a lookup for a key that does not exist.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Kind, e.Key)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Store wraps the DuckDB connection and owns the schema.
type Store struct {
	conn *sql.DB
}

// New opens (or creates) the database at cfg.Path and bootstraps the
// schema. An empty path opens an in-memory database, used by tests.
func New(cfg *config.DatabaseConfig) (*Store, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	} else {
		// The data directory may not exist on first start.
		dbDir := filepath.Dir(path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
	}

	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "2GB"
	}

	// Disable extension auto-install/auto-load to prevent hangs in
	// restricted network environments.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		path, numThreads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// DuckDB is embedded; a small pool is enough and avoids writer
	// contention.
	conn.SetMaxOpenConns(runtime.NumCPU())
	conn.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{conn: conn}
	if err := s.createTables(context.Background()); err != nil {
		if cerr := conn.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("Failed to close database after init error")
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// NewInMemory opens an in-memory store for tests.
func NewInMemory() (*Store, error) {
	return New(&config.DatabaseConfig{Path: "", MaxMemory: "512MB", Threads: 2})
}

// schemaStatements create the pipeline tables and their indexes. Executed
// one by one so a failure names the statement that broke.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id VARCHAR PRIMARY KEY,
		batch_id VARCHAR NOT NULL,
		event_type VARCHAR NOT NULL,
		user_id VARCHAR NOT NULL,
		ts TIMESTAMP NOT NULL,
		metadata VARCHAR,
		processed BOOLEAN NOT NULL DEFAULT false,
		fingerprint VARCHAR NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_batch_processed ON events (batch_id, processed)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events (event_type, ts)`,

	`CREATE TABLE IF NOT EXISTS batches (
		batch_id VARCHAR PRIMARY KEY,
		file_name VARCHAR NOT NULL,
		total_events INTEGER NOT NULL,
		processed_events INTEGER NOT NULL DEFAULT 0,
		status VARCHAR NOT NULL,
		uploaded_at TIMESTAMP NOT NULL,
		processed_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_status ON batches (status, uploaded_at)`,

	`CREATE TABLE IF NOT EXISTS metrics (
		date VARCHAR NOT NULL,
		event_type VARCHAR NOT NULL,
		count BIGINT NOT NULL,
		last_updated TIMESTAMP NOT NULL,
		PRIMARY KEY (date, event_type)
	)`,

	`CREATE TABLE IF NOT EXISTS dlq_entries (
		id VARCHAR PRIMARY KEY,
		queue VARCHAR NOT NULL,
		batch_id VARCHAR,
		payload VARCHAR,
		reason VARCHAR,
		correlation_id VARCHAR,
		failed_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dlq_queue_failed ON dlq_entries (queue, failed_at)`,
}

func (s *Store) createTables(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.conn.PingContext(ctx)
}

// Checkpoint flushes the WAL into the main database file.
func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, "CHECKPOINT")
	return err
}

// Close checkpoints and closes the database. The checkpoint is best
// effort: skipping it only means a WAL replay on next startup.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Checkpoint(ctx); err != nil {
		logging.Warn().Err(err).Msg("Failed to checkpoint database before close")
	}

	return s.conn.Close()
}
