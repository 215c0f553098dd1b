// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

// Package middleware provides HTTP middleware for the API server:
// correlation ID propagation, Prometheus instrumentation, and response
// compression.
package middleware

import (
	"context"
	"net/http"

	"github.com/tomtom215/metricus/internal/logging"
)

// CorrelationHeader is the header carrying the correlation ID across
// service boundaries. Jobs enqueued by a request inherit its value, so
// one upload can be traced from ingestion to dead letter.
const CorrelationHeader = "X-Correlation-ID"

// RequestIDHeader is the per-request ID header.
const RequestIDHeader = "X-Request-ID"

type contextKey string

const correlationKey contextKey = "correlation_id"

// Correlation honors an incoming correlation ID or generates one, echoes
// it on the response, and threads it through the logging context.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(CorrelationHeader)
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = logging.GenerateRequestID()
		}

		w.Header().Set(CorrelationHeader, correlationID)
		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), correlationKey, correlationID)
		ctx = logging.ContextWithCorrelationID(ctx, correlationID)
		ctx = logging.ContextWithRequestID(ctx, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CorrelationID extracts the correlation ID from a request context.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey).(string); ok {
		return id
	}
	return ""
}
