// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package api

import (
	"net/http"
)

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health handles GET /api/v1/health: liveness only.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, http.StatusOK, healthResponse{Status: "ok"})
}

// HealthReady handles GET /api/v1/health/ready: the store must answer a
// ping and the broker must be up with JetStream before the instance
// takes traffic.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true

	if err := h.store.Ping(r.Context()); err != nil {
		checks["database"] = "unavailable"
		ready = false
	} else {
		checks["database"] = "ok"
	}

	switch {
	case h.broker == nil:
		checks["queue"] = "not configured"
		ready = false
	case !h.broker.Running():
		checks["queue"] = "down"
		ready = false
	case !h.broker.JetStreamEnabled():
		checks["queue"] = "jetstream disabled"
		ready = false
	default:
		checks["queue"] = "ok"
	}

	resp := healthResponse{Status: "ready", Checks: checks}
	if !ready {
		resp.Status = "not ready"
		respondJSON(w, r, http.StatusServiceUnavailable, &APIResponse{Success: false, Data: resp})
		return
	}
	respondSuccess(w, r, http.StatusOK, resp)
}
