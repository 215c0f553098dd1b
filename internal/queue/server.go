// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package queue

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/tomtom215/metricus/internal/logging"
)

// EmbeddedServer runs a NATS server with JetStream inside the process.
// The pipeline does not depend on any external broker deployment.
type EmbeddedServer struct {
	ns     *server.Server
	cfg    ServerConfig
	mu     sync.Mutex
	closed bool
}

// NewEmbeddedServer starts an in-process NATS server and blocks until it
// accepts client connections.
func NewEmbeddedServer(cfg ServerConfig) (*EmbeddedServer, error) {
	if cfg.StoreDir != "" {
		if err := os.MkdirAll(cfg.StoreDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create JetStream store dir: %w", err)
		}
	}

	opts := &server.Options{
		ServerName:         "metricus",
		Host:               cfg.Host,
		Port:               cfg.Port,
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.JetStreamMaxMem,
		JetStreamMaxStore:  cfg.JetStreamMaxStore,
		DontListen:         false,
		MaxPayload:         8 * 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}

	ns.ConfigureLogger()
	go ns.Start()

	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server did not become ready within 30s")
	}

	logging.Info().
		Str("component", "queue").
		Str("client_url", ns.ClientURL()).
		Str("store_dir", cfg.StoreDir).
		Msg("Embedded NATS server ready")

	return &EmbeddedServer{ns: ns, cfg: cfg}, nil
}

// ClientURL returns the URL clients use to connect to this server.
func (s *EmbeddedServer) ClientURL() string {
	return s.ns.ClientURL()
}

// Running reports whether the server is accepting connections.
func (s *EmbeddedServer) Running() bool {
	return s.ns.Running()
}

// JetStreamEnabled reports whether JetStream came up.
func (s *EmbeddedServer) JetStreamEnabled() bool {
	return s.ns.JetStreamEnabled()
}

// Shutdown stops the server and waits for it to finish. Safe to call
// more than once.
func (s *EmbeddedServer) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	logging.Info().Str("component", "queue").Msg("Shutting down embedded NATS server")
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
