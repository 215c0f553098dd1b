// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/models"
)

// Publisher publishes job messages to JetStream. A circuit breaker in
// front of the broker sheds load fast when NATS is down instead of
// letting every upload request block on publish timeouts.
type Publisher struct {
	pub     *wmNats.Publisher
	breaker *gobreaker.CircuitBreaker[interface{}]
	limiter *rate.Limiter
	logger  watermill.LoggerAdapter
	mu      sync.Mutex
	closed  bool
}

// NewPublisher connects a Watermill NATS publisher.
func NewPublisher(cfg PublisherConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = NewWatermillLogger()
	}

	natsOptions := []natsgo.Option{
		natsgo.Name("metricus-publisher"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Str("component", "queue").Msg("Publisher disconnected from NATS")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("component", "queue").Str("url", nc.ConnectedUrl()).Msg("Publisher reconnected to NATS")
		}),
		natsgo.ErrorHandler(func(_ *natsgo.Conn, _ *natsgo.Subscription, err error) {
			logging.Error().Err(err).Str("component", "queue").Msg("Publisher NATS error")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOptions,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			TrackMsgId:    cfg.TrackMsgID,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "nats-publisher",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("component", "queue").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Publisher circuit breaker state changed")
		},
	})

	perSecond := cfg.PublishRatePerSecond
	if perSecond <= 0 {
		perSecond = defaultPublishRatePerSecond
	}

	return &Publisher{
		pub:     pub,
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
		logger:  logger,
	}, nil
}

// Publish sends one message to a topic through the circuit breaker.
func (p *Publisher) Publish(topic string, msg *message.Message) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.Unlock()

	// JetStream dedups on Nats-Msg-Id within the duplicate window.
	msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)

	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.pub.Publish(topic, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to publish message %s to %s: %w", msg.UUID, topic, err)
	}
	return nil
}

// PublishJobs encodes and publishes a set of jobs to a topic, paced by
// the publish rate limiter so a large dispatch cannot flood the broker.
// On the first failure it stops and reports how many jobs made it out,
// so the caller can surface a partial dispatch.
func (p *Publisher) PublishJobs(ctx context.Context, topic string, jobs []*models.Job) (int, error) {
	for i, job := range jobs {
		if err := p.limiter.Wait(ctx); err != nil {
			return i, fmt.Errorf("publish rate limit wait: %w", err)
		}
		msg, err := EncodeJob(job)
		if err != nil {
			return i, err
		}
		if err := p.Publish(topic, msg); err != nil {
			return i, err
		}
	}
	return len(jobs), nil
}

// WatermillPublisher exposes the raw publisher for router middleware that
// needs a message.Publisher, such as the poison queue.
func (p *Publisher) WatermillPublisher() message.Publisher {
	return p.pub
}

// Close shuts the publisher down. Safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.pub.Close()
}
