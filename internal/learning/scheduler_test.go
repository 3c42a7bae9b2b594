// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package learning

import (
	"context"
	"testing"
	"time"
)

func TestSchedulerRunsConfiguredShops(t *testing.T) {
	recorder := &fakeRecorder{}
	job := NewJob(DefaultConfig(), &fakeSource{}, &fakeWriter{}, recorder)

	s := NewScheduler(SchedulerConfig{
		Enabled:  true,
		Interval: 20 * time.Millisecond,
		Shops:    []string{"shop-a.example.com", "shop-b.example.com"},
	}, job)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		recorder.mu.Lock()
		n := len(recorder.runs)
		recorder.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("scheduler recorded %d runs, want >= 2", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}

	shops := make(map[string]bool)
	recorder.mu.Lock()
	for _, run := range recorder.runs {
		shops[run.Shop] = true
	}
	recorder.mu.Unlock()
	if !shops["shop-a.example.com"] || !shops["shop-b.example.com"] {
		t.Errorf("runs covered shops %v, want both configured shops", shops)
	}
}

func TestSchedulerDisabledBlocksUntilCancel(t *testing.T) {
	recorder := &fakeRecorder{}
	job := NewJob(DefaultConfig(), &fakeSource{}, &fakeWriter{}, recorder)
	s := NewScheduler(SchedulerConfig{Enabled: false, Interval: time.Millisecond}, job)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled scheduler did not stop after cancel")
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.runs) != 0 {
		t.Errorf("disabled scheduler recorded %d runs, want 0", len(recorder.runs))
	}
}

func TestSchedulerName(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig(), nil)
	if s.String() != "learning-scheduler" {
		t.Errorf("String = %q", s.String())
	}
}
