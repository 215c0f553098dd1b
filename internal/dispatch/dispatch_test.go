// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/tomtom215/metricus/internal/models"
	"github.com/tomtom215/metricus/internal/store"
)

// ====== Dispatcher test fixtures ======

type fakeDispatchStore struct {
	batch         *models.Batch
	unprocessed   []string
	statusChanges []models.BatchStatus
	statusErr     error
}

func (f *fakeDispatchStore) Batch(_ context.Context, batchID string) (*models.Batch, error) {
	if f.batch == nil {
		return nil, &store.NotFoundError{Kind: "batch", Key: batchID}
	}
	b := *f.batch
	return &b, nil
}

func (f *fakeDispatchStore) UnprocessedEventIDs(_ context.Context, _ string, limit int) ([]string, error) {
	if limit > 0 && len(f.unprocessed) > limit {
		return f.unprocessed[:limit], nil
	}
	return f.unprocessed, nil
}

func (f *fakeDispatchStore) SetBatchStatus(_ context.Context, _ string, status models.BatchStatus) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statusChanges = append(f.statusChanges, status)
	f.batch.Status = status
	return nil
}

type fakePublisher struct {
	published []*models.Job
	failAfter int
	err       error
}

func (f *fakePublisher) PublishJobs(_ context.Context, _ string, jobs []*models.Job) (int, error) {
	if f.err != nil {
		n := f.failAfter
		if n > len(jobs) {
			n = len(jobs)
		}
		f.published = append(f.published, jobs[:n]...)
		return n, f.err
	}
	f.published = append(f.published, jobs...)
	return len(jobs), nil
}

func eventIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("e%04d", i)
	}
	return ids
}

func uploadedBatch(total int) *models.Batch {
	return &models.Batch{BatchID: "batch-1", TotalEvents: total, Status: models.BatchUploaded}
}

// ====== Dispatcher tests ======

func TestDispatchChunksEvents(t *testing.T) {
	st := &fakeDispatchStore{batch: uploadedBatch(250), unprocessed: eventIDs(250)}
	pub := &fakePublisher{}
	d := New(st, pub, "jobs.process", 100, 10000)

	res, err := d.Dispatch(context.Background(), "batch-1", "corr-1")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if res.JobsEnqueued != 3 {
		t.Errorf("jobsEnqueued = %d, want 3", res.JobsEnqueued)
	}
	if res.EventCount != 250 {
		t.Errorf("eventCount = %d, want 250", res.EventCount)
	}
	if res.Message != "Enqueued 3 job(s) for batch" {
		t.Errorf("message = %q", res.Message)
	}

	if len(pub.published) != 3 {
		t.Fatalf("published %d jobs, want 3", len(pub.published))
	}
	sizes := []int{len(pub.published[0].EventIDs), len(pub.published[1].EventIDs), len(pub.published[2].EventIDs)}
	if sizes[0] != 100 || sizes[1] != 100 || sizes[2] != 50 {
		t.Errorf("chunk sizes = %v, want [100 100 50]", sizes)
	}

	seen := make(map[string]bool)
	for _, job := range pub.published {
		if job.JobID == "" {
			t.Error("job without an ID")
		}
		if seen[job.JobID] {
			t.Errorf("duplicate job ID %s", job.JobID)
		}
		seen[job.JobID] = true
		if job.BatchID != "batch-1" || job.CorrelationID != "corr-1" {
			t.Errorf("job = %+v", job)
		}
	}

	if len(st.statusChanges) != 1 || st.statusChanges[0] != models.BatchProcessing {
		t.Errorf("status changes = %v, want [processing]", st.statusChanges)
	}
}

func TestDispatchCapsEventsPerCall(t *testing.T) {
	st := &fakeDispatchStore{batch: uploadedBatch(15000), unprocessed: eventIDs(15000)}
	pub := &fakePublisher{}
	d := New(st, pub, "jobs.process", 100, 10000)

	res, err := d.Dispatch(context.Background(), "batch-1", "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.EventCount != 10000 {
		t.Errorf("eventCount = %d, want capped 10000", res.EventCount)
	}
	if res.JobsEnqueued != 100 {
		t.Errorf("jobsEnqueued = %d, want 100", res.JobsEnqueued)
	}
}

func TestDispatchNothingToDo(t *testing.T) {
	st := &fakeDispatchStore{batch: uploadedBatch(3), unprocessed: nil}
	pub := &fakePublisher{}
	d := New(st, pub, "jobs.process", 100, 10000)

	res, err := d.Dispatch(context.Background(), "batch-1", "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.JobsEnqueued != 0 {
		t.Errorf("jobsEnqueued = %d, want 0", res.JobsEnqueued)
	}
	if res.Message != "No unprocessed events found in batch" {
		t.Errorf("message = %q", res.Message)
	}
	if len(pub.published) != 0 {
		t.Error("nothing should be published")
	}
	if len(st.statusChanges) != 0 {
		t.Errorf("batch status must not change, got %v", st.statusChanges)
	}
}

func TestDispatchUnknownBatch(t *testing.T) {
	d := New(&fakeDispatchStore{}, &fakePublisher{}, "jobs.process", 100, 10000)

	_, err := d.Dispatch(context.Background(), "missing", "")
	if !store.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestDispatchPublishFailureSurfacesPartialCount(t *testing.T) {
	st := &fakeDispatchStore{batch: uploadedBatch(300), unprocessed: eventIDs(300)}
	pub := &fakePublisher{err: errors.New("connection refused"), failAfter: 1}
	d := New(st, pub, "jobs.process", 100, 10000)

	_, err := d.Dispatch(context.Background(), "batch-1", "")
	if err == nil {
		t.Fatal("expected publish error")
	}
	// Partial progress is reported so operators know a retry will pick
	// up the remainder.
	want := "1 of 3 published"
	if !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not mention %q", err, want)
	}
}

func TestDispatchResumesFailedBatch(t *testing.T) {
	st := &fakeDispatchStore{
		batch:       &models.Batch{BatchID: "batch-1", TotalEvents: 10, Status: models.BatchFailed},
		unprocessed: eventIDs(10),
	}
	pub := &fakePublisher{}
	d := New(st, pub, "jobs.process", 100, 10000)

	if _, err := d.Dispatch(context.Background(), "batch-1", ""); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(st.statusChanges) != 1 || st.statusChanges[0] != models.BatchProcessing {
		t.Errorf("failed batch should resume processing, got %v", st.statusChanges)
	}
}
