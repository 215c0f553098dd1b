// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/metricus/internal/middleware"
	"github.com/tomtom215/metricus/internal/store"
)

// ProcessBatch handles POST /api/v1/batches/{batchID}/process: chunk the
// batch's unprocessed events into jobs and enqueue them. Responds 202
// when jobs were enqueued, 200 when there was nothing left to do.
func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	if batchID == "" {
		respondError(w, r, http.StatusBadRequest, CodeValidationFailed,
			"Batch ID is required", nil)
		return
	}

	result, err := h.dispatcher.Dispatch(r.Context(), batchID, middleware.CorrelationID(r.Context()))
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, r, http.StatusNotFound, CodeNotFound,
				fmt.Sprintf("Batch %s not found", sanitizeLogValue(batchID)), nil)
			return
		}
		respondError(w, r, http.StatusInternalServerError, CodeQueueError,
			"Failed to enqueue batch for processing", nil)
		return
	}

	status := http.StatusAccepted
	if result.JobsEnqueued == 0 {
		status = http.StatusOK
	}
	respondSuccess(w, r, status, result)
}

// BatchStatus handles GET /api/v1/batches/{batchID}.
func (h *Handler) BatchStatus(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	batch, err := h.store.Batch(r.Context(), batchID)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, r, http.StatusNotFound, CodeNotFound,
				fmt.Sprintf("Batch %s not found", sanitizeLogValue(batchID)), nil)
			return
		}
		respondError(w, r, http.StatusInternalServerError, CodeDatabaseError,
			"Failed to load batch", nil)
		return
	}

	respondSuccess(w, r, http.StatusOK, batch)
}
