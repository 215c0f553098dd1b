// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/metricus/internal/config"
	"github.com/tomtom215/metricus/internal/dispatch"
	"github.com/tomtom215/metricus/internal/ingest"
	"github.com/tomtom215/metricus/internal/metrics"
	"github.com/tomtom215/metricus/internal/middleware"
	"github.com/tomtom215/metricus/internal/models"
)

// UploadService ingests one CSV file.
type UploadService interface {
	Upload(ctx context.Context, fileName string, data []byte) (*ingest.UploadResult, error)
}

// BatchDispatcher enqueues jobs for a batch.
type BatchDispatcher interface {
	Dispatch(ctx context.Context, batchID, correlationID string) (*dispatch.Result, error)
}

// ReadStore is the storage surface the read endpoints need.
type ReadStore interface {
	Batch(ctx context.Context, batchID string) (*models.Batch, error)
	MetricsForDate(ctx context.Context, date string) ([]models.Metric, error)
	DLQEntries(ctx context.Context, queue string, limit int) ([]models.DLQEntry, error)
	DLQCount(ctx context.Context, queue string) (int, error)
	Ping(ctx context.Context) error
}

// BrokerStatus reports queue backend health for readiness checks.
type BrokerStatus interface {
	Running() bool
	JetStreamEnabled() bool
}

// Handler holds the API dependencies.
type Handler struct {
	cfg        *config.Config
	uploads    UploadService
	dispatcher BatchDispatcher
	store      ReadStore
	broker     BrokerStatus
}

// NewHandler wires the API handlers.
func NewHandler(cfg *config.Config, uploads UploadService, dispatcher BatchDispatcher, store ReadStore, broker BrokerStatus) *Handler {
	return &Handler{
		cfg:        cfg,
		uploads:    uploads,
		dispatcher: dispatcher,
		store:      store,
		broker:     broker,
	}
}

// Routes builds the chi router with the full middleware stack.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Correlation)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.Security.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.CorrelationHeader, "X-API-Key"},
		ExposedHeaders:   []string{middleware.CorrelationHeader, middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Compression)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Prometheus)
		if !h.cfg.Security.RateLimitDisabled {
			r.Use(httprate.Limit(
				h.cfg.Security.RateLimitRequests,
				h.cfg.Security.RateLimitWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(h.rateLimited),
			))
		}

		r.Route("/uploads", func(r chi.Router) {
			if !h.cfg.Security.RateLimitDisabled {
				r.Use(httprate.Limit(
					h.cfg.Upload.RateLimitRequests,
					h.cfg.Upload.RateLimitWindow,
					httprate.WithKeyFuncs(httprate.KeyByIP),
					httprate.WithLimitHandler(h.rateLimited),
				))
			}
			r.Post("/", h.Upload)
		})

		r.Post("/batches/{batchID}/process", h.ProcessBatch)
		r.Get("/batches/{batchID}", h.BatchStatus)
		r.Get("/metrics", h.Metrics)
		r.Get("/queues/{queueName}/dlq", h.DLQ)

		r.Get("/health", h.Health)
		r.Get("/health/ready", h.HealthReady)
	})

	// Prometheus scrape endpoint, outside the envelope and rate limits.
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

func (h *Handler) rateLimited(w http.ResponseWriter, r *http.Request) {
	metrics.APIRateLimitHits.WithLabelValues(r.URL.Path).Inc()
	respondError(w, r, http.StatusTooManyRequests, CodeRateLimited,
		"Too many requests, slow down", nil)
}
