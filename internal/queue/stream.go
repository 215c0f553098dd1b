// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/metricus/internal/logging"
)

// StreamManager provisions the JetStream streams the pipeline relies on:
// the job stream and the dead-letter stream with its seven-day retention.
type StreamManager struct {
	nc *natsgo.Conn
	js jetstream.JetStream
}

// NewStreamManager connects to the broker for stream administration.
func NewStreamManager(url string) (*StreamManager, error) {
	nc, err := natsgo.Connect(url,
		natsgo.Name("metricus-stream-manager"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(5),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect for stream management: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &StreamManager{nc: nc, js: js}, nil
}

// EnsureStream creates the stream, or updates it in place when it already
// exists with different limits. Restarting with changed retention must not
// destroy queued messages.
func (m *StreamManager) EnsureStream(ctx context.Context, cfg StreamConfig) error {
	sc := jetstream.StreamConfig{
		Name:        cfg.Name,
		Subjects:    cfg.Subjects,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		MaxBytes:    cfg.MaxBytes,
		MaxMsgs:     cfg.MaxMsgs,
		Duplicates:  cfg.DuplicateWindow,
		Replicas:    cfg.Replicas,
		Storage:     jetstream.FileStorage,
		AllowDirect: true,
		Discard:     jetstream.DiscardOld,
	}
	if sc.Replicas == 0 {
		sc.Replicas = 1
	}

	if _, err := m.js.Stream(ctx, cfg.Name); err == nil {
		if _, err := m.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("failed to update stream %s: %w", cfg.Name, err)
		}
		logging.Info().
			Str("component", "queue").
			Str("stream", cfg.Name).
			Dur("max_age", cfg.MaxAge).
			Msg("Updated JetStream stream")
		return nil
	} else if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", cfg.Name, err)
	}

	if _, err := m.js.CreateStream(ctx, sc); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
	}
	logging.Info().
		Str("component", "queue").
		Str("stream", cfg.Name).
		Strs("subjects", cfg.Subjects).
		Dur("max_age", cfg.MaxAge).
		Msg("Created JetStream stream")
	return nil
}

// StreamInfo returns current stream state, for readiness reporting.
func (m *StreamManager) StreamInfo(ctx context.Context, name string) (*jetstream.StreamInfo, error) {
	s, err := m.js.Stream(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up stream %s: %w", name, err)
	}
	info, err := s.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stream info for %s: %w", name, err)
	}
	return info, nil
}

// Running reports whether the administrative connection is up. Used for
// readiness when the broker is external and no embedded server exists.
func (m *StreamManager) Running() bool {
	return m.nc != nil && m.nc.IsConnected()
}

// JetStreamEnabled probes the JetStream account.
func (m *StreamManager) JetStreamEnabled() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := m.js.AccountInfo(ctx)
	return err == nil
}

// Close releases the administrative connection.
func (m *StreamManager) Close() {
	if m.nc != nil && !m.nc.IsClosed() {
		m.nc.Close()
	}
}
