// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

// Package config defines the Metricus configuration model and its layered
// loading: struct defaults, an optional YAML file, then environment
// variables, with ENV > file > defaults precedence.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Metricus server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	NATS     NATSConfig     `koanf:"nats"`
	Queue    QueueConfig    `koanf:"queue"`
	Dispatch DispatchConfig `koanf:"dispatch"`
	Worker   WorkerConfig   `koanf:"worker"`
	Upload   UploadConfig   `koanf:"upload"`
	DLQ      DLQConfig      `koanf:"dlq"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	// Path is the database file location. Empty means in-memory, which is
	// only useful for tests.
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	// Threads limits DuckDB worker threads. 0 = runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// NATSConfig holds broker connection settings. By default an embedded
// nats-server with JetStream is started in-process.
type NATSConfig struct {
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`
}

// QueueConfig holds JetStream stream and consumer settings for the job
// pipeline.
type QueueConfig struct {
	// Name is the logical queue name exposed on the DLQ inspection API.
	Name string `koanf:"name"`

	StreamName    string `koanf:"stream_name"`
	Subject       string `koanf:"subject"`
	DLQStreamName string `koanf:"dlq_stream_name"`
	PoisonSubject string `koanf:"poison_subject"`
	DurableName   string `koanf:"durable_name"`
	QueueGroup    string `koanf:"queue_group"`

	// CompletedRetention bounds how long acknowledged jobs stay in the
	// job stream; FailedRetention bounds the poison stream.
	CompletedRetention time.Duration `koanf:"completed_retention"`
	FailedRetention    time.Duration `koanf:"failed_retention"`

	AckWait      time.Duration `koanf:"ack_wait"`
	CloseTimeout time.Duration `koanf:"close_timeout"`
}

// DispatchConfig controls how a batch is cut into jobs.
type DispatchConfig struct {
	// ChunkSize is the number of event IDs carried by a single job.
	ChunkSize int `koanf:"chunk_size"`
	// MaxEventsPerDispatch caps how many unprocessed events one dispatch
	// call will enqueue; larger batches need repeated calls.
	MaxEventsPerDispatch int `koanf:"max_events_per_dispatch"`
}

// WorkerConfig controls job consumption.
type WorkerConfig struct {
	// Concurrency is the number of concurrent job handlers.
	Concurrency int `koanf:"concurrency"`

	RetryMaxAttempts     int           `koanf:"retry_max_attempts"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`
	RetryMultiplier      float64       `koanf:"retry_multiplier"`

	// ThrottlePerSecond caps job starts across all handlers.
	ThrottlePerSecond int64 `koanf:"throttle_per_second"`
}

// UploadConfig controls CSV ingestion limits.
type UploadConfig struct {
	MaxFileSize       int64         `koanf:"max_file_size"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// DLQConfig controls dead-letter persistence and retention.
type DLQConfig struct {
	Retention        time.Duration `koanf:"retention"`
	SweepInterval    time.Duration `koanf:"sweep_interval"`
	DefaultListLimit int           `koanf:"default_list_limit"`
	MaxListLimit     int           `koanf:"max_list_limit"`
}

// SecurityConfig holds the thin API-facing security settings. Full
// authentication is handled by an upstream gateway; only the admin key
// for dead-letter inspection lives here.
type SecurityConfig struct {
	AdminAPIKey       string        `koanf:"admin_api_key"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for internally inconsistent or
// out-of-range values. It is called by LoadWithKoanf but exported so
// hand-built configs in tests can use it too.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range 1-65535", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}

	switch c.Server.Environment {
	case "development", "production", "test":
	default:
		return fmt.Errorf("server.environment %q must be development, production, or test", c.Server.Environment)
	}

	if c.Dispatch.ChunkSize < 1 {
		return fmt.Errorf("dispatch.chunk_size must be at least 1, got %d", c.Dispatch.ChunkSize)
	}
	if c.Dispatch.MaxEventsPerDispatch < c.Dispatch.ChunkSize {
		return fmt.Errorf("dispatch.max_events_per_dispatch %d must be >= chunk_size %d",
			c.Dispatch.MaxEventsPerDispatch, c.Dispatch.ChunkSize)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.RetryMaxAttempts < 0 {
		return fmt.Errorf("worker.retry_max_attempts must not be negative, got %d", c.Worker.RetryMaxAttempts)
	}
	if c.Worker.RetryInitialInterval <= 0 {
		return fmt.Errorf("worker.retry_initial_interval must be positive, got %s", c.Worker.RetryInitialInterval)
	}
	if c.Worker.RetryMultiplier < 1 {
		return fmt.Errorf("worker.retry_multiplier must be at least 1, got %g", c.Worker.RetryMultiplier)
	}

	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload.max_file_size must be positive, got %d", c.Upload.MaxFileSize)
	}

	if c.Queue.Name == "" {
		return fmt.Errorf("queue.name must not be empty")
	}
	if c.Queue.Subject == "" || c.Queue.PoisonSubject == "" {
		return fmt.Errorf("queue.subject and queue.poison_subject must not be empty")
	}
	if c.Queue.Subject == c.Queue.PoisonSubject {
		return fmt.Errorf("queue.subject and queue.poison_subject must differ")
	}

	if c.DLQ.Retention <= 0 {
		return fmt.Errorf("dlq.retention must be positive, got %s", c.DLQ.Retention)
	}
	if c.DLQ.DefaultListLimit < 1 || c.DLQ.DefaultListLimit > c.DLQ.MaxListLimit {
		return fmt.Errorf("dlq.default_list_limit %d must be in range 1-%d",
			c.DLQ.DefaultListLimit, c.DLQ.MaxListLimit)
	}

	return nil
}
