// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/metricus/internal/models"
	"github.com/tomtom215/metricus/internal/validation"
)

type metricsQuery struct {
	Date string `validate:"omitempty,datetime=2006-01-02"`
}

type metricEntry struct {
	EventType string `json:"eventType"`
	Count     int64  `json:"count"`
}

type metricsResponse struct {
	Date    string        `json:"date"`
	Metrics []metricEntry `json:"metrics"`
}

// Metrics handles GET /api/v1/metrics?date=YYYY-MM-DD, defaulting to
// today in UTC. Counts are the daily per-event-type totals maintained by
// the workers.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	q := metricsQuery{Date: r.URL.Query().Get("date")}
	if verr := validation.ValidateStruct(&q); verr != nil {
		respondError(w, r, http.StatusBadRequest, CodeValidationFailed,
			"Invalid date format. Use YYYY-MM-DD", verr.Details())
		return
	}
	if q.Date == "" {
		q.Date = time.Now().UTC().Format(models.MetricDateFormat)
	}

	rows, err := h.store.MetricsForDate(r.Context(), q.Date)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, CodeDatabaseError,
			"Failed to load metrics", nil)
		return
	}

	resp := metricsResponse{
		Date:    q.Date,
		Metrics: make([]metricEntry, len(rows)),
	}
	for i, m := range rows {
		resp.Metrics[i] = metricEntry{EventType: m.EventType, Count: m.Count}
	}

	respondSuccess(w, r, http.StatusOK, resp)
}
