// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
)

// throttleWindow is the interval over which ThrottlePerSecond applies.
const throttleWindow = time.Second

// Router wraps the Watermill router with the pipeline's processing
// policy. Per-handler middleware, outermost first:
//
//  1. Recoverer        - panics become errors
//  2. PoisonQueue      - errors that survive the retry budget are
//                        dead-lettered instead of redelivered forever
//  3. Retry            - exponential backoff for transient failures
//  4. Poison filter    - permanent errors skip retries and go straight
//                        to the dead-letter queue
//  5. Throttle         - caps handler starts per second
type Router struct {
	router *message.Router
	cfg    RouterConfig

	processingChain []message.HandlerMiddleware
}

// NewRouter builds the router. poisonPub is the publisher used for
// dead-lettering.
func NewRouter(cfg RouterConfig, poisonPub message.Publisher, logger watermill.LoggerAdapter) (*Router, error) {
	if logger == nil {
		logger = NewWatermillLogger()
	}

	r, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.CloseTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create message router: %w", err)
	}

	r.AddPlugin(plugin.SignalsHandler)

	poisonAfterRetry, err := middleware.PoisonQueue(poisonPub, cfg.PoisonQueueTopic)
	if err != nil {
		return nil, fmt.Errorf("failed to create poison queue middleware: %w", err)
	}

	// Permanent errors are dead-lettered immediately; only retryable
	// errors reach the retry middleware above this one.
	poisonPermanent, err := middleware.PoisonQueueWithFilter(poisonPub, cfg.PoisonQueueTopic, IsPermanentError)
	if err != nil {
		return nil, fmt.Errorf("failed to create poison filter middleware: %w", err)
	}

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}

	chain := []message.HandlerMiddleware{
		middleware.Recoverer,
		poisonAfterRetry,
		retry.Middleware,
		poisonPermanent,
	}
	if cfg.ThrottlePerSecond > 0 {
		throttle := middleware.NewThrottle(cfg.ThrottlePerSecond, throttleWindow)
		chain = append(chain, throttle.Middleware)
	}

	return &Router{router: r, cfg: cfg, processingChain: chain}, nil
}

// AddProcessingHandler registers a consumer with the full retry and
// dead-letter chain. Used for the job worker.
func (r *Router) AddProcessingHandler(name, topic string, sub message.Subscriber, fn message.NoPublishHandlerFunc) {
	h := r.router.AddConsumerHandler(name, topic, sub, fn)
	h.AddMiddleware(r.processingChain...)
}

// AddConsumerHandler registers a plain consumer with only panic
// recovery. Used for the dead-letter archiver, which must never feed
// messages back into the poison topic.
func (r *Router) AddConsumerHandler(name, topic string, sub message.Subscriber, fn message.NoPublishHandlerFunc) {
	h := r.router.AddConsumerHandler(name, topic, sub, fn)
	h.AddMiddleware(middleware.Recoverer)
}

// Run blocks until the context is cancelled or the router stops.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running returns a channel closed once all handlers are started.
func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

// Close stops the router, waiting up to CloseTimeout for in-flight
// messages.
func (r *Router) Close() error {
	return r.router.Close()
}
