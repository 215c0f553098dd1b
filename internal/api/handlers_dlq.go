// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
)

type dlqJob struct {
	ID           string      `json:"id"`
	Data         interface{} `json:"data"`
	Error        string      `json:"error"`
	FailedReason string      `json:"failedReason"`
	Timestamp    time.Time   `json:"timestamp"`
}

type dlqResponse struct {
	QueueName  string   `json:"queueName"`
	Count      int      `json:"count"`
	FailedJobs []dlqJob `json:"failedJobs"`
}

// DLQ handles GET /api/v1/queues/{queueName}/dlq?limit=N. Dead-lettered
// jobs carry raw payloads, so the endpoint sits behind the admin key.
func (h *Handler) DLQ(w http.ResponseWriter, r *http.Request) {
	if !h.adminAuthorized(r) {
		respondError(w, r, http.StatusUnauthorized, CodeUnauthorized,
			"Valid API key required", nil)
		return
	}

	queueName := chi.URLParam(r, "queueName")
	if queueName != h.cfg.Queue.Name {
		respondError(w, r, http.StatusBadRequest, CodeValidationFailed,
			fmt.Sprintf("Unknown queue: %s", sanitizeLogValue(queueName)), map[string]interface{}{
				"knownQueues": []string{h.cfg.Queue.Name},
			})
		return
	}

	limit := h.cfg.DLQ.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, r, http.StatusBadRequest, CodeValidationFailed,
				"limit must be a positive integer", nil)
			return
		}
		if n > h.cfg.DLQ.MaxListLimit {
			n = h.cfg.DLQ.MaxListLimit
		}
		limit = n
	}

	entries, err := h.store.DLQEntries(r.Context(), queueName, limit)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, CodeDatabaseError,
			"Failed to load dead-letter entries", nil)
		return
	}

	resp := dlqResponse{
		QueueName:  queueName,
		Count:      len(entries),
		FailedJobs: make([]dlqJob, len(entries)),
	}
	for i, e := range entries {
		job := dlqJob{
			ID:           e.ID,
			Error:        e.Reason,
			FailedReason: e.Reason,
			Timestamp:    e.FailedAt,
		}
		// Payloads are job JSON; anything unparseable is exposed as the
		// raw string so nothing is hidden from inspection.
		var decoded interface{}
		if err := json.Unmarshal(e.Payload, &decoded); err == nil {
			job.Data = decoded
		} else {
			job.Data = string(e.Payload)
		}
		resp.FailedJobs[i] = job
	}

	respondSuccess(w, r, http.StatusOK, resp)
}

// adminAuthorized checks the admin key from the X-API-Key header, or the
// apiKey query parameter for browser access.
func (h *Handler) adminAuthorized(r *http.Request) bool {
	configured := h.cfg.Security.AdminAPIKey
	if configured == "" {
		return false
	}
	presented := r.Header.Get("X-API-Key")
	if presented == "" {
		presented = r.URL.Query().Get("apiKey")
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}
