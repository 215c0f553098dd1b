// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package queue

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/metricus/internal/logging"
)

// NewSubscriber builds a durable JetStream consumer bound to an existing
// stream. SubscribersCount is the worker concurrency: each subscription
// feeds handler goroutines in parallel, while the queue group keeps every
// message on exactly one worker.
func NewSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (*wmNats.Subscriber, error) {
	if logger == nil {
		logger = NewWatermillLogger()
	}

	natsOptions := []natsgo.Option{
		natsgo.Name("metricus-subscriber-" + cfg.DurableName),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Str("component", "queue").Str("durable", cfg.DurableName).Msg("Subscriber disconnected from NATS")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("component", "queue").Str("durable", cfg.DurableName).Str("url", nc.ConnectedUrl()).Msg("Subscriber reconnected to NATS")
		}),
	}

	subscribeOptions := []natsgo.SubOpt{
		natsgo.MaxDeliver(cfg.MaxDeliver),
		natsgo.MaxAckPending(cfg.MaxAckPending),
		natsgo.AckWait(cfg.AckWaitTimeout),
		natsgo.DeliverNew(),
	}
	if cfg.StreamName != "" {
		subscribeOptions = append(subscribeOptions, natsgo.BindStream(cfg.StreamName))
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWaitTimeout,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOptions,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled: false,
			// Streams are provisioned up front by the StreamManager so
			// retention policy stays in one place.
			AutoProvision:    cfg.StreamName == "",
			AckAsync:         false,
			SubscribeOptions: subscribeOptions,
			DurablePrefix:    cfg.DurableName,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS subscriber %s: %w", cfg.DurableName, err)
	}
	return sub, nil
}
