// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/metricus/config.yaml",
	"/etc/metricus/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Default dispatch and worker parameters. These mirror the pipeline's
// documented contract: jobs carry up to 100 events, one dispatch call
// enqueues at most 10000 events, ten concurrent handlers consume at most
// 100 jobs per second with three retry attempts backing off from 1s.
const (
	DefaultChunkSize            = 100
	DefaultMaxEventsPerDispatch = 10000
	DefaultWorkerConcurrency    = 10
	DefaultThrottlePerSecond    = 100
	DefaultRetryMaxAttempts     = 3
)

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Database: DatabaseConfig{
			Path:      "/data/metricus.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = runtime.NumCPU()
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats/jetstream",
			MaxMemory:      1 << 30,  // 1GB
			MaxStore:       10 << 30, // 10GB
		},
		Queue: QueueConfig{
			Name:               "event-processing",
			StreamName:         "METRICUS_JOBS",
			Subject:            "jobs.process",
			DLQStreamName:      "METRICUS_DLQ",
			PoisonSubject:      "jobs.poison",
			DurableName:        "event-processor",
			QueueGroup:         "processors",
			CompletedRetention: 24 * time.Hour,
			FailedRetention:    7 * 24 * time.Hour,
			AckWait:            2 * time.Minute,
			CloseTimeout:       30 * time.Second,
		},
		Dispatch: DispatchConfig{
			ChunkSize:            DefaultChunkSize,
			MaxEventsPerDispatch: DefaultMaxEventsPerDispatch,
		},
		Worker: WorkerConfig{
			Concurrency:          DefaultWorkerConcurrency,
			RetryMaxAttempts:     DefaultRetryMaxAttempts,
			RetryInitialInterval: 1 * time.Second,
			RetryMaxInterval:     30 * time.Second,
			RetryMultiplier:      2.0,
			ThrottlePerSecond:    DefaultThrottlePerSecond,
		},
		Upload: UploadConfig{
			MaxFileSize:       10 << 20, // 10MB
			RateLimitRequests: 10,
			RateLimitWindow:   time.Minute,
		},
		DLQ: DLQConfig{
			Retention:        7 * 24 * time.Hour,
			SweepInterval:    time.Hour,
			DefaultListLimit: 100,
			MaxListLimit:     1000,
		},
		Security: SecurityConfig{
			AdminAPIKey:       "",
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file, honouring CONFIG_PATH first.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices
// when they arrive via environment variables.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields converts comma-separated env strings to slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unrecognized variables are ignored so unrelated environment noise never
// leaks into the config tree.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - DUCKDB_PATH -> database.path
//   - UPLOAD_RATE_LIMIT -> upload.rate_limit_requests
//   - ADMIN_API_KEY -> security.admin_api_key
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",

		// Database
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// NATS / queue
		"nats_url":             "nats.url",
		"nats_embedded_server": "nats.embedded_server",
		"nats_store_dir":       "nats.store_dir",
		"queue_name":           "queue.name",
		"queue_ack_wait":       "queue.ack_wait",

		// Dispatch / worker
		"events_per_job":          "dispatch.chunk_size",
		"max_events_per_dispatch": "dispatch.max_events_per_dispatch",
		"worker_concurrency":      "worker.concurrency",
		"worker_rate_limit":       "worker.throttle_per_second",
		"worker_retry_attempts":   "worker.retry_max_attempts",
		"worker_retry_backoff":    "worker.retry_initial_interval",

		// Upload
		"upload_max_file_size": "upload.max_file_size",
		"upload_rate_limit":    "upload.rate_limit_requests",

		// DLQ
		"dlq_retention": "dlq.retention",

		// Security
		"admin_api_key":       "security.admin_api_key",
		"cors_origins":        "security.cors_origins",
		"rate_limit_requests": "security.rate_limit_requests",
		"rate_limit_disabled": "security.rate_limit_disabled",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// METRICUS_SECTION_FIELD maps to section.field for anything without a
	// legacy alias.
	if rest, ok := strings.CutPrefix(key, "metricus_"); ok {
		if section, field, found := strings.Cut(rest, "_"); found {
			return section + "." + field
		}
	}

	return ""
}
