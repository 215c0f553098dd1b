// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

// Package queue implements the asynchronous job pipeline: an embedded
// NATS JetStream broker, Watermill publisher and subscriber wrappers,
// the processing router with retry and poison-queue middleware, the job
// worker, and dead-letter persistence.
package queue

import (
	"time"

	"github.com/tomtom215/metricus/internal/config"
)

// ServerConfig holds the embedded NATS server settings.
type ServerConfig struct {
	Host              string
	Port              int
	StoreDir          string
	JetStreamMaxMem   int64
	JetStreamMaxStore int64
}

// DefaultServerConfig returns defaults for the embedded broker. Port -1
// asks the server to pick a free port, which keeps test instances from
// colliding.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "127.0.0.1",
		Port:              4222,
		StoreDir:          "/data/nats/jetstream",
		JetStreamMaxMem:   1 << 30,
		JetStreamMaxStore: 10 << 30,
	}
}

// defaultPublishRatePerSecond paces bulk job publication. Kept well
// above the worker throttle so publishing is never the bottleneck.
const defaultPublishRatePerSecond = 500

// PublisherConfig holds Watermill NATS publisher settings.
type PublisherConfig struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectBuffer int
	// TrackMsgID enables JetStream duplicate suppression keyed on the
	// message UUID.
	TrackMsgID bool
	// PublishRatePerSecond caps bulk publish throughput; 0 uses the
	// default.
	PublishRatePerSecond int
}

// DefaultPublisherConfig returns production defaults for the publisher.
func DefaultPublisherConfig(url string) PublisherConfig {
	return PublisherConfig{
		URL:                  url,
		MaxReconnects:        10,
		ReconnectWait:        2 * time.Second,
		ReconnectBuffer:      8 * 1024 * 1024,
		TrackMsgID:           true,
		PublishRatePerSecond: defaultPublishRatePerSecond,
	}
}

// SubscriberConfig holds Watermill NATS subscriber settings.
type SubscriberConfig struct {
	URL              string
	StreamName       string
	DurableName      string
	QueueGroup       string
	SubscribersCount int
	AckWaitTimeout   time.Duration
	CloseTimeout     time.Duration
	MaxDeliver       int
	MaxAckPending    int
	MaxReconnects    int
	ReconnectWait    time.Duration
}

// DefaultSubscriberConfig returns defaults for the job consumer.
func DefaultSubscriberConfig(url string) SubscriberConfig {
	return SubscriberConfig{
		URL:              url,
		StreamName:       "METRICUS_JOBS",
		DurableName:      "event-processor",
		QueueGroup:       "processors",
		SubscribersCount: config.DefaultWorkerConcurrency,
		AckWaitTimeout:   2 * time.Minute,
		CloseTimeout:     30 * time.Second,
		// Redeliveries beyond the retry budget only churn; the poison
		// queue owns terminal failures.
		MaxDeliver:    config.DefaultRetryMaxAttempts + 2,
		MaxAckPending: 256,
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
	}
}

// StreamConfig describes one JetStream stream.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	MaxBytes        int64
	MaxMsgs         int64
	DuplicateWindow time.Duration
	Replicas        int
}

// RouterConfig holds the Watermill router middleware settings.
type RouterConfig struct {
	CloseTimeout time.Duration

	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64

	// ThrottlePerSecond caps handler starts per second. 0 disables.
	ThrottlePerSecond int64

	PoisonQueueTopic string
}

// DefaultRouterConfig returns the pipeline's processing contract: three
// retry attempts backing off exponentially from one second, one hundred
// job starts per second, terminal failures to the poison subject.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      config.DefaultRetryMaxAttempts,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     30 * time.Second,
		RetryMultiplier:      2.0,
		ThrottlePerSecond:    config.DefaultThrottlePerSecond,
		PoisonQueueTopic:     "jobs.poison",
	}
}

// RouterConfigFromApp derives the router settings from app configuration.
func RouterConfigFromApp(cfg *config.Config) RouterConfig {
	return RouterConfig{
		CloseTimeout:         cfg.Queue.CloseTimeout,
		RetryMaxRetries:      cfg.Worker.RetryMaxAttempts,
		RetryInitialInterval: cfg.Worker.RetryInitialInterval,
		RetryMaxInterval:     cfg.Worker.RetryMaxInterval,
		RetryMultiplier:      cfg.Worker.RetryMultiplier,
		ThrottlePerSecond:    cfg.Worker.ThrottlePerSecond,
		PoisonQueueTopic:     cfg.Queue.PoisonSubject,
	}
}

// JobStreamConfig describes the main job stream for the app config.
func JobStreamConfig(cfg *config.Config) StreamConfig {
	return StreamConfig{
		Name:            cfg.Queue.StreamName,
		Subjects:        []string{cfg.Queue.Subject},
		MaxAge:          cfg.Queue.CompletedRetention,
		DuplicateWindow: 2 * time.Minute,
		Replicas:        1,
	}
}

// PoisonStreamConfig describes the dead-letter stream for the app config.
func PoisonStreamConfig(cfg *config.Config) StreamConfig {
	return StreamConfig{
		Name:            cfg.Queue.DLQStreamName,
		Subjects:        []string{cfg.Queue.PoisonSubject},
		MaxAge:          cfg.Queue.FailedRetention,
		DuplicateWindow: 2 * time.Minute,
		Replicas:        1,
	}
}
