// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package services

import (
	"context"
	"errors"
	"fmt"
)

// MessageRouter matches the queue router's lifecycle methods.
type MessageRouter interface {
	Run(ctx context.Context) error
	Close() error
}

// RouterService runs the Watermill router under supervision. The router
// consumes jobs and dead letters; if it crashes, suture restarts it and
// JetStream redelivers whatever was in flight.
type RouterService struct {
	router MessageRouter
}

// NewRouterService wraps a message router for supervision.
func NewRouterService(router MessageRouter) *RouterService {
	return &RouterService{router: router}
}

// Serve implements suture.Service. Run blocks until the context is
// cancelled; a clean stop maps to ctx.Err() so the supervisor does not
// count shutdown as a failure.
func (r *RouterService) Serve(ctx context.Context) error {
	err := r.router.Run(ctx)
	if ctx.Err() != nil {
		if err != nil && !errors.Is(err, ctx.Err()) {
			return fmt.Errorf("message router stopped during shutdown: %w", err)
		}
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("message router failed: %w", err)
	}
	return nil
}

func (r *RouterService) String() string { return "message-router" }
