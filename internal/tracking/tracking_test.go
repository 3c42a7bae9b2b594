// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cartloom/cartloom/internal/engine"
)

type captureIngestor struct {
	mu     sync.Mutex
	events []engine.ServedEvent
	fail   bool
	done   chan struct{}
}

func (c *captureIngestor) IngestServed(_ context.Context, ev engine.ServedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		if c.done != nil {
			select {
			case c.done <- struct{}{}:
			default:
			}
		}
		return errors.New("tracking store down")
	}
	c.events = append(c.events, ev)
	if c.done != nil {
		select {
		case c.done <- struct{}{}:
		default:
		}
	}
	return nil
}

func (c *captureIngestor) captured() []engine.ServedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]engine.ServedEvent, len(c.events))
	copy(out, c.events)
	return out
}

func TestSinkToForwarderDelivery(t *testing.T) {
	sink := NewSink()
	defer sink.Close()

	ingestor := &captureIngestor{done: make(chan struct{}, 1)}
	fwd := NewForwarder(sink, ingestor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- fwd.Serve(ctx) }()

	// Give the subscription a moment to register before publishing.
	time.Sleep(20 * time.Millisecond)

	ev := engine.ServedEvent{
		EventID:        "ev-1",
		Shop:           "shop-a.example.com",
		Anchors:        []string{"prod-1"},
		RecommendedIDs: []string{"prod-2", "prod-3"},
		Mode:           "balanced",
		OccurredAt:     time.Now().UTC(),
	}
	if err := sink.RecommendationServed(ctx, ev); err != nil {
		t.Fatalf("RecommendationServed: %v", err)
	}

	select {
	case <-ingestor.done:
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder never delivered the event")
	}

	got := ingestor.captured()
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].EventID != "ev-1" || len(got[0].RecommendedIDs) != 2 {
		t.Errorf("unexpected event: %+v", got[0])
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Serve did not stop on cancel")
	}
}

func TestForwarderDropsOnIngestFailure(t *testing.T) {
	sink := NewSink()
	defer sink.Close()

	ingestor := &captureIngestor{fail: true, done: make(chan struct{}, 1)}
	fwd := NewForwarder(sink, ingestor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fwd.Serve(ctx) //nolint:errcheck

	time.Sleep(20 * time.Millisecond)

	if err := sink.RecommendationServed(ctx, engine.ServedEvent{EventID: "ev-fail"}); err != nil {
		t.Fatalf("RecommendationServed: %v", err)
	}

	select {
	case <-ingestor.done:
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder never attempted delivery")
	}

	// The failed event is dropped, not retried. Delivering a second event
	// proves the loop kept going.
	ingestor.mu.Lock()
	ingestor.fail = false
	ingestor.mu.Unlock()

	if err := sink.RecommendationServed(ctx, engine.ServedEvent{EventID: "ev-ok"}); err != nil {
		t.Fatalf("RecommendationServed: %v", err)
	}
	select {
	case <-ingestor.done:
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder stalled after a failed delivery")
	}

	got := ingestor.captured()
	if len(got) != 1 || got[0].EventID != "ev-ok" {
		t.Errorf("expected only ev-ok delivered, got %+v", got)
	}
}

func TestSinkPublishWithoutSubscriber(t *testing.T) {
	sink := NewSink()
	defer sink.Close()

	// Publishing with no forwarder attached must not block serving.
	done := make(chan error, 1)
	go func() {
		done <- sink.RecommendationServed(context.Background(), engine.ServedEvent{EventID: "ev-orphan"})
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RecommendationServed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publish blocked with no subscriber")
	}
}
