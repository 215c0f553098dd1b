// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/metricus/internal/config"
	"github.com/tomtom215/metricus/internal/dispatch"
	"github.com/tomtom215/metricus/internal/ingest"
	"github.com/tomtom215/metricus/internal/models"
	"github.com/tomtom215/metricus/internal/store"
)

// ====== API test fixtures ======

type fakeUploads struct {
	result      *ingest.UploadResult
	err         error
	gotFileName string
}

func (f *fakeUploads) Upload(_ context.Context, fileName string, _ []byte) (*ingest.UploadResult, error) {
	f.gotFileName = fileName
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeDispatcher struct {
	result         *dispatch.Result
	err            error
	gotCorrelation string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, batchID, correlationID string) (*dispatch.Result, error) {
	f.gotCorrelation = correlationID
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeReadStore struct {
	batch      *models.Batch
	metricRows []models.Metric
	dlqEntries []models.DLQEntry
	pingErr    error
}

func (f *fakeReadStore) Batch(_ context.Context, batchID string) (*models.Batch, error) {
	if f.batch == nil {
		return nil, &store.NotFoundError{Kind: "batch", Key: batchID}
	}
	return f.batch, nil
}

func (f *fakeReadStore) MetricsForDate(_ context.Context, _ string) ([]models.Metric, error) {
	return f.metricRows, nil
}

func (f *fakeReadStore) DLQEntries(_ context.Context, _ string, limit int) ([]models.DLQEntry, error) {
	if limit < len(f.dlqEntries) {
		return f.dlqEntries[:limit], nil
	}
	return f.dlqEntries, nil
}

func (f *fakeReadStore) DLQCount(_ context.Context, _ string) (int, error) {
	return len(f.dlqEntries), nil
}

func (f *fakeReadStore) Ping(_ context.Context) error { return f.pingErr }

type fakeBroker struct {
	running   bool
	jetstream bool
}

func (f *fakeBroker) Running() bool          { return f.running }
func (f *fakeBroker) JetStreamEnabled() bool { return f.jetstream }

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 8080, Timeout: 30 * time.Second, Environment: "test"},
		Queue:    config.QueueConfig{Name: "event-processing", Subject: "jobs.process", PoisonSubject: "jobs.poison"},
		Dispatch: config.DispatchConfig{ChunkSize: 100, MaxEventsPerDispatch: 10000},
		Upload:   config.UploadConfig{MaxFileSize: 10 << 20, RateLimitRequests: 10, RateLimitWindow: time.Minute},
		DLQ:      config.DLQConfig{Retention: 7 * 24 * time.Hour, DefaultListLimit: 100, MaxListLimit: 1000},
		Security: config.SecurityConfig{
			AdminAPIKey:       "test-admin-key",
			RateLimitDisabled: true,
		},
	}
}

type testServer struct {
	handler    http.Handler
	uploads    *fakeUploads
	dispatcher *fakeDispatcher
	store      *fakeReadStore
	broker     *fakeBroker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		uploads:    &fakeUploads{result: &ingest.UploadResult{BatchID: "batch-1", TotalEvents: 3, Message: "Successfully uploaded 3 events"}},
		dispatcher: &fakeDispatcher{result: &dispatch.Result{BatchID: "batch-1", JobsEnqueued: 2, EventCount: 150, Message: "Enqueued 2 job(s) for batch"}},
		store:      &fakeReadStore{},
		broker:     &fakeBroker{running: true, jetstream: true},
	}
	ts.handler = NewHandler(testConfig(), ts.uploads, ts.dispatcher, ts.store, ts.broker).Routes()
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, *APIResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return rec, &resp
}

func multipartCSV(t *testing.T, field, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, fileName)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

const sampleCSV = "userId,eventType,timestamp\nu1,click,2026-03-01T10:00:00Z\n"

// ====== Upload endpoint tests ======

func TestUploadSuccess(t *testing.T) {
	ts := newTestServer(t)
	body, contentType := multipartCSV(t, "file", "events.csv", sampleCSV)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec, resp := ts.do(t, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if !resp.Success {
		t.Fatalf("success = false: %+v", resp.Error)
	}

	data := resp.Data.(map[string]interface{})
	if data["batchId"] != "batch-1" {
		t.Errorf("batchId = %v", data["batchId"])
	}
	if data["message"] != "Successfully uploaded 3 events" {
		t.Errorf("message = %v", data["message"])
	}
	if ts.uploads.gotFileName != "events.csv" {
		t.Errorf("service got file name %q", ts.uploads.gotFileName)
	}
}

func TestUploadMissingFileField(t *testing.T) {
	ts := newTestServer(t)
	body, contentType := multipartCSV(t, "wrong", "events.csv", sampleCSV)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec, resp := ts.do(t, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != CodeValidationFailed {
		t.Fatalf("error = %+v", resp.Error)
	}
}

func TestUploadRejectsNonCSV(t *testing.T) {
	ts := newTestServer(t)
	body, contentType := multipartCSV(t, "file", "events.xlsx", "junk")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec, resp := ts.do(t, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(resp.Error.Message, ".csv") {
		t.Errorf("message = %q", resp.Error.Message)
	}
}

func TestUploadValidationErrorsInDetails(t *testing.T) {
	ts := newTestServer(t)
	ts.uploads.err = &ingest.ValidationError{Errors: []ingest.FieldError{
		{Row: 2, Field: "userId", Message: "userId is required and must be a non-empty string"},
		{Row: 3, Field: "timestamp", Message: "timestamp must be a valid ISO 8601 date string"},
	}}

	body, contentType := multipartCSV(t, "file", "events.csv", "userId,eventType,timestamp\n,click,bad\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec, resp := ts.do(t, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	rows, ok := resp.Error.Details["errors"].([]interface{})
	if !ok || len(rows) != 2 {
		t.Fatalf("details = %+v", resp.Error.Details)
	}
	first := rows[0].(map[string]interface{})
	if first["row"] != float64(2) || first["field"] != "userId" {
		t.Errorf("first error = %v", first)
	}
}

func TestUploadStorageFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.uploads.err = errors.New("duckdb: io error")

	body, contentType := multipartCSV(t, "file", "events.csv", sampleCSV)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec, resp := ts.do(t, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if resp.Error.Code != CodeDatabaseError {
		t.Errorf("code = %q", resp.Error.Code)
	}
}

// ====== Batch endpoint tests ======

func TestProcessBatchAccepted(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches/batch-1/process", nil)
	req.Header.Set("X-Correlation-ID", "corr-42")
	rec, resp := ts.do(t, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	data := resp.Data.(map[string]interface{})
	if data["jobsEnqueued"] != float64(2) {
		t.Errorf("jobsEnqueued = %v", data["jobsEnqueued"])
	}
	if ts.dispatcher.gotCorrelation != "corr-42" {
		t.Errorf("dispatcher correlation = %q, want corr-42", ts.dispatcher.gotCorrelation)
	}
}

func TestProcessBatchNothingLeft(t *testing.T) {
	ts := newTestServer(t)
	ts.dispatcher.result = &dispatch.Result{BatchID: "batch-1", Message: "No unprocessed events found in batch"}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches/batch-1/process", nil)
	rec, resp := ts.do(t, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	data := resp.Data.(map[string]interface{})
	if data["message"] != "No unprocessed events found in batch" {
		t.Errorf("message = %v", data["message"])
	}
}

func TestProcessBatchNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.dispatcher.err = &store.NotFoundError{Kind: "batch", Key: "missing"}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches/missing/process", nil)
	rec, resp := ts.do(t, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if resp.Error.Code != CodeNotFound {
		t.Errorf("code = %q", resp.Error.Code)
	}
}

func TestBatchStatus(t *testing.T) {
	ts := newTestServer(t)
	uploaded := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ts.store.batch = &models.Batch{
		BatchID:         "batch-1",
		FileName:        "events.csv",
		TotalEvents:     100,
		ProcessedEvents: 40,
		Status:          models.BatchProcessing,
		UploadedAt:      uploaded,
	}

	rec, resp := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/batches/batch-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	data := resp.Data.(map[string]interface{})
	if data["status"] != "processing" || data["processedEvents"] != float64(40) {
		t.Errorf("data = %v", data)
	}
}

func TestBatchStatusNotFound(t *testing.T) {
	ts := newTestServer(t)
	rec, _ := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/batches/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

// ====== Metrics endpoint tests ======

func TestMetricsForDate(t *testing.T) {
	ts := newTestServer(t)
	ts.store.metricRows = []models.Metric{
		{Date: "2026-03-01", EventType: "click", Count: 42},
		{Date: "2026-03-01", EventType: "purchase", Count: 7},
	}

	rec, resp := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/metrics?date=2026-03-01", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	data := resp.Data.(map[string]interface{})
	if data["date"] != "2026-03-01" {
		t.Errorf("date = %v", data["date"])
	}
	rows := data["metrics"].([]interface{})
	if len(rows) != 2 {
		t.Fatalf("metrics = %v", rows)
	}
	first := rows[0].(map[string]interface{})
	if first["eventType"] != "click" || first["count"] != float64(42) {
		t.Errorf("first metric = %v", first)
	}
}

func TestMetricsDefaultsToToday(t *testing.T) {
	ts := newTestServer(t)
	rec, resp := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	data := resp.Data.(map[string]interface{})
	want := time.Now().UTC().Format("2006-01-02")
	if data["date"] != want {
		t.Errorf("date = %v, want %s", data["date"], want)
	}
	if rows := data["metrics"].([]interface{}); len(rows) != 0 {
		t.Errorf("metrics = %v, want empty", rows)
	}
}

func TestMetricsRejectsBadDate(t *testing.T) {
	for _, date := range []string{"03-01-2026", "2026/03/01", "garbage"} {
		t.Run(date, func(t *testing.T) {
			ts := newTestServer(t)
			rec, resp := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/metrics?date="+date, nil))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if resp.Error.Message != "Invalid date format. Use YYYY-MM-DD" {
				t.Errorf("message = %q", resp.Error.Message)
			}
		})
	}
}

// ====== DLQ endpoint tests ======

func dlqRequest(queue, query, apiKey string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/queues/%s/dlq%s", queue, query), nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	return req
}

func TestDLQListsFailedJobs(t *testing.T) {
	ts := newTestServer(t)
	ts.store.dlqEntries = []models.DLQEntry{{
		ID:       "job-9",
		Queue:    "event-processing",
		BatchID:  "batch-1",
		Payload:  []byte(`{"jobId":"job-9","batchId":"batch-1","eventIds":["e1"]}`),
		Reason:   "failed to increment metrics: constraint violation",
		FailedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}

	rec, resp := ts.do(t, dlqRequest("event-processing", "", "test-admin-key"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	data := resp.Data.(map[string]interface{})
	if data["queueName"] != "event-processing" {
		t.Errorf("queueName = %v", data["queueName"])
	}
	jobs := data["failedJobs"].([]interface{})
	if len(jobs) != 1 {
		t.Fatalf("failedJobs = %v", jobs)
	}
	job := jobs[0].(map[string]interface{})
	if job["id"] != "job-9" {
		t.Errorf("id = %v", job["id"])
	}
	if job["failedReason"] != "failed to increment metrics: constraint violation" {
		t.Errorf("failedReason = %v", job["failedReason"])
	}
	payload := job["data"].(map[string]interface{})
	if payload["batchId"] != "batch-1" {
		t.Errorf("payload = %v", payload)
	}
}

func TestDLQRequiresAPIKey(t *testing.T) {
	ts := newTestServer(t)

	rec, resp := ts.do(t, dlqRequest("event-processing", "", ""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if resp.Error.Message != "Valid API key required" {
		t.Errorf("message = %q", resp.Error.Message)
	}

	rec, _ = ts.do(t, dlqRequest("event-processing", "", "wrong-key"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key status = %d, want 401", rec.Code)
	}
}

func TestDLQAcceptsQueryAPIKey(t *testing.T) {
	ts := newTestServer(t)
	rec, _ := ts.do(t, dlqRequest("event-processing", "?apiKey=test-admin-key", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestDLQUnknownQueue(t *testing.T) {
	ts := newTestServer(t)
	rec, resp := ts.do(t, dlqRequest("other-queue", "", "test-admin-key"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(resp.Error.Message, "Unknown queue") {
		t.Errorf("message = %q", resp.Error.Message)
	}
}

func TestDLQLimitValidation(t *testing.T) {
	ts := newTestServer(t)
	rec, _ := ts.do(t, dlqRequest("event-processing", "?limit=abc", "test-admin-key"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for non-numeric limit", rec.Code)
	}
	rec, _ = ts.do(t, dlqRequest("event-processing", "?limit=0", "test-admin-key"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for zero limit", rec.Code)
	}
}

// ====== Health endpoint tests ======

func TestHealthReady(t *testing.T) {
	ts := newTestServer(t)
	rec, _ := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHealthReadyDatabaseDown(t *testing.T) {
	ts := newTestServer(t)
	ts.store.pingErr = errors.New("database is closed")

	rec, _ := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHealthReadyBrokerDown(t *testing.T) {
	ts := newTestServer(t)
	ts.broker.running = false

	rec, _ := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

// ====== Envelope tests ======

func TestResponsesCarryCorrelationID(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Correlation-ID", "corr-envelope")

	rec, resp := ts.do(t, req)
	if rec.Header().Get("X-Correlation-ID") != "corr-envelope" {
		t.Error("correlation header not echoed")
	}
	if resp.Meta.CorrelationID != "corr-envelope" {
		t.Errorf("meta correlation = %q", resp.Meta.CorrelationID)
	}
	if resp.Meta.Timestamp.IsZero() {
		t.Error("meta timestamp missing")
	}
}

// ====== Rate limiting tests ======

func TestRateLimitedRequestsGet429(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RateLimitDisabled = false
	cfg.Security.RateLimitRequests = 1
	cfg.Security.RateLimitWindow = time.Minute

	ts := &testServer{
		uploads:    &fakeUploads{},
		dispatcher: &fakeDispatcher{},
		store:      &fakeReadStore{},
		broker:     &fakeBroker{running: true, jetstream: true},
	}
	ts.handler = NewHandler(cfg, ts.uploads, ts.dispatcher, ts.store, ts.broker).Routes()

	first := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	first.RemoteAddr = "10.1.2.3:4000"
	rec, _ := ts.do(t, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	second := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	second.RemoteAddr = "10.1.2.3:4000"
	rec, resp := ts.do(t, second)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != CodeRateLimited {
		t.Fatalf("error = %+v, want code %s", resp.Error, CodeRateLimited)
	}
}
