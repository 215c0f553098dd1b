// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

// Command server runs the Metricus pipeline: the HTTP API for uploads,
// dispatch, batch status, daily metrics and dead-letter inspection, the
// JetStream-backed job workers, the dead-letter archiver, and the DLQ
// retention janitor, all under one supervision tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/metricus/internal/api"
	"github.com/tomtom215/metricus/internal/config"
	"github.com/tomtom215/metricus/internal/dispatch"
	"github.com/tomtom215/metricus/internal/ingest"
	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/queue"
	"github.com/tomtom215/metricus/internal/store"
	"github.com/tomtom215/metricus/internal/supervisor"
	"github.com/tomtom215/metricus/internal/supervisor/services"
)

const httpShutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Server exited with error")
	}
}

func run() error {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	log := logging.WithComponent("main")
	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("database", cfg.Database.Path).
		Bool("embedded_broker", cfg.NATS.EmbeddedServer).
		Msg("Starting metricus server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("Store close failed")
		}
	}()

	// Broker: either an embedded JetStream server or an external NATS
	// deployment reached over cfg.NATS.URL.
	natsURL := cfg.NATS.URL
	var broker api.BrokerStatus
	if cfg.NATS.EmbeddedServer {
		srv, serr := queue.NewEmbeddedServer(queue.ServerConfig{
			Host:              "127.0.0.1",
			Port:              4222,
			StoreDir:          cfg.NATS.StoreDir,
			JetStreamMaxMem:   cfg.NATS.MaxMemory,
			JetStreamMaxStore: cfg.NATS.MaxStore,
		})
		if serr != nil {
			return fmt.Errorf("start embedded broker: %w", serr)
		}
		defer srv.Shutdown()
		natsURL = srv.ClientURL()
		broker = srv
	}

	streams, err := queue.NewStreamManager(natsURL)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer streams.Close()
	if broker == nil {
		broker = streams
	}

	setupCtx, cancelSetup := context.WithTimeout(ctx, 30*time.Second)
	defer cancelSetup()
	if err := streams.EnsureStream(setupCtx, queue.JobStreamConfig(cfg)); err != nil {
		return fmt.Errorf("provision job stream: %w", err)
	}
	if err := streams.EnsureStream(setupCtx, queue.PoisonStreamConfig(cfg)); err != nil {
		return fmt.Errorf("provision dead-letter stream: %w", err)
	}

	wmLogger := queue.NewWatermillLogger()

	publisher, err := queue.NewPublisher(queue.DefaultPublisherConfig(natsURL), wmLogger)
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}
	defer func() {
		if cerr := publisher.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("Publisher close failed")
		}
	}()

	jobsSubCfg := queue.DefaultSubscriberConfig(natsURL)
	jobsSubCfg.StreamName = cfg.Queue.StreamName
	jobsSubCfg.DurableName = cfg.Queue.DurableName
	jobsSubCfg.QueueGroup = cfg.Queue.QueueGroup
	jobsSubCfg.SubscribersCount = cfg.Worker.Concurrency
	jobsSubCfg.AckWaitTimeout = cfg.Queue.AckWait
	jobsSubCfg.CloseTimeout = cfg.Queue.CloseTimeout
	jobsSubCfg.MaxDeliver = cfg.Worker.RetryMaxAttempts + 2
	jobsSub, err := queue.NewSubscriber(jobsSubCfg, wmLogger)
	if err != nil {
		return fmt.Errorf("create job subscriber: %w", err)
	}

	dlqSubCfg := queue.DefaultSubscriberConfig(natsURL)
	dlqSubCfg.StreamName = cfg.Queue.DLQStreamName
	dlqSubCfg.DurableName = "dlq-archiver"
	dlqSubCfg.QueueGroup = "dlq-archivers"
	dlqSubCfg.SubscribersCount = 1
	dlqSubCfg.CloseTimeout = cfg.Queue.CloseTimeout
	dlqSub, err := queue.NewSubscriber(dlqSubCfg, wmLogger)
	if err != nil {
		return fmt.Errorf("create dead-letter subscriber: %w", err)
	}

	router, err := queue.NewRouter(queue.RouterConfigFromApp(cfg), publisher.WatermillPublisher(), wmLogger)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}
	router.AddProcessingHandler("event-processor", cfg.Queue.Subject, jobsSub, queue.NewWorker(st).Handle)
	router.AddConsumerHandler("dlq-archiver", cfg.Queue.PoisonSubject, dlqSub, queue.NewDLQConsumer(st, cfg.Queue.Name).Handle)

	uploads := ingest.NewService(st)
	dispatcher := dispatch.New(st, publisher, cfg.Queue.Subject, cfg.Dispatch.ChunkSize, cfg.Dispatch.MaxEventsPerDispatch)
	handler := api.NewHandler(cfg, uploads, dispatcher, st, broker)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler.Routes(),
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(queue.NewJanitor(st, cfg.DLQ.Retention, cfg.DLQ.SweepInterval))
	tree.AddMessagingService(services.NewRouterService(router))
	tree.AddAPIService(services.NewHTTPServerService(httpSrv, httpShutdownTimeout))

	log.Info().
		Str("addr", httpSrv.Addr).
		Str("nats_url", natsURL).
		Int("worker_concurrency", cfg.Worker.Concurrency).
		Msg("Supervision tree starting")

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervision tree: %w", err)
	}

	log.Info().Msg("Shutdown complete")
	return nil
}
