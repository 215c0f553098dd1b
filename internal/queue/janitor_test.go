// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeJanitorStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
	deleted int64
	err     error
}

func (f *fakeJanitorStore) DeleteExpiredDLQ(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	return f.deleted, f.err
}

func (f *fakeJanitorStore) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

// ====== Janitor tests ======

func TestJanitorSweepsImmediatelyAndStopsOnCancel(t *testing.T) {
	store := &fakeJanitorStore{deleted: 2}
	j := NewJanitor(store, 7*24*time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Serve(ctx) }()

	deadline := time.After(2 * time.Second)
	for store.sweepCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("no sweep before first tick")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}

	store.mu.Lock()
	cutoff := store.cutoffs[0]
	store.mu.Unlock()
	wantAround := time.Now().UTC().Add(-7 * 24 * time.Hour)
	if diff := cutoff.Sub(wantAround); diff > time.Minute || diff < -time.Minute {
		t.Errorf("cutoff = %v, want about %v", cutoff, wantAround)
	}
}

func TestJanitorSurvivesSweepErrors(t *testing.T) {
	store := &fakeJanitorStore{err: errors.New("database is locked")}
	j := NewJanitor(store, 24*time.Hour, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_ = j.Serve(ctx)

	if store.sweepCount() < 2 {
		t.Errorf("expected repeated sweeps despite errors, got %d", store.sweepCount())
	}
}

func TestJanitorDefaultsInterval(t *testing.T) {
	j := NewJanitor(&fakeJanitorStore{}, time.Hour, 0)
	if j.interval != time.Hour {
		t.Errorf("interval = %v, want 1h default", j.interval)
	}
}
