// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/tomtom215/metricus/internal/ingest"
	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/metrics"
)

// uploadFormField is the multipart field carrying the CSV file.
const uploadFormField = "file"

// Upload handles POST /api/v1/uploads: a multipart CSV whose rows become
// deduplicated events under a fresh batch.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	maxSize := h.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		metrics.UploadsRejected.Inc()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, http.StatusRequestEntityTooLarge, CodeValidationFailed,
				fmt.Sprintf("File exceeds the %d byte upload limit", maxSize), nil)
			return
		}
		respondError(w, r, http.StatusBadRequest, CodeValidationFailed,
			"Request must be multipart/form-data", nil)
		return
	}

	file, header, err := r.FormFile(uploadFormField)
	if err != nil {
		metrics.UploadsRejected.Inc()
		respondError(w, r, http.StatusBadRequest, CodeValidationFailed,
			"CSV file is required in multipart field 'file'", nil)
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close uploaded file")
		}
	}()

	if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != ".csv" {
		metrics.UploadsRejected.Inc()
		respondError(w, r, http.StatusBadRequest, CodeValidationFailed,
			"Only .csv files are accepted", map[string]interface{}{
				"fileName": sanitizeLogValue(header.Filename),
			})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		metrics.UploadsRejected.Inc()
		respondError(w, r, http.StatusBadRequest, CodeValidationFailed,
			"Failed to read uploaded file", nil)
		return
	}

	result, err := h.uploads.Upload(r.Context(), header.Filename, data)
	if err != nil {
		var verr *ingest.ValidationError
		if errors.As(err, &verr) {
			metrics.UploadsRejected.Inc()
			respondError(w, r, http.StatusBadRequest, CodeValidationFailed,
				verr.Error(), map[string]interface{}{
					"errors": verr.Errors,
				})
			return
		}
		respondError(w, r, http.StatusInternalServerError, CodeDatabaseError,
			"Failed to store uploaded events", nil)
		return
	}

	respondSuccess(w, r, http.StatusCreated, result)
}
