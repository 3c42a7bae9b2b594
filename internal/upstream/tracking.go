// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package upstream

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/cartloom/cartloom/internal/engine"
)

// TrackingClient talks to the Tracking Store. The serving path reads
// trailing impression/click counts from it; the learning job reads raw
// events and purchase attributions; the forwarder writes served events to
// its ingest endpoint.
type TrackingClient struct {
	*client
}

// NewTrackingClient builds a Tracking Store client.
func NewTrackingClient(cfg ServiceConfig) *TrackingClient {
	return &TrackingClient{client: newClient("tracking", cfg)}
}

var _ engine.TrackingStore = (*TrackingClient)(nil)

type countsResponse struct {
	Counts map[string]engine.TrackingCounts `json:"counts"`
}

// Counts returns trailing impression/click counts for the given products.
func (c *TrackingClient) Counts(ctx context.Context, shop string, ids []string, since time.Time) (map[string]engine.TrackingCounts, error) {
	if len(ids) == 0 {
		return map[string]engine.TrackingCounts{}, nil
	}
	q := url.Values{
		"shop":  {shop},
		"ids":   {strings.Join(ids, ",")},
		"since": {since.UTC().Format(time.RFC3339)},
	}
	var resp countsResponse
	if err := c.getJSON(ctx, "counts", "/v1/counts", q, &resp); err != nil {
		return nil, err
	}
	if resp.Counts == nil {
		resp.Counts = map[string]engine.TrackingCounts{}
	}
	return resp.Counts, nil
}

type eventsResponse struct {
	Events []engine.TrackingEvent `json:"events"`
}

// Events returns raw interaction events since the given time. The learning
// job unpacks served events into one impression per recommended product.
func (c *TrackingClient) Events(ctx context.Context, shop string, since time.Time) ([]engine.TrackingEvent, error) {
	q := url.Values{
		"shop":  {shop},
		"since": {since.UTC().Format(time.RFC3339)},
	}
	var resp eventsResponse
	if err := c.getJSON(ctx, "events", "/v1/events", q, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

type attributionsResponse struct {
	Attributions []engine.Attribution `json:"attributions"`
}

// Attributions returns recommendation-attributed purchases since the given
// time.
func (c *TrackingClient) Attributions(ctx context.Context, shop string, since time.Time) ([]engine.Attribution, error) {
	q := url.Values{
		"shop":  {shop},
		"since": {since.UTC().Format(time.RFC3339)},
	}
	var resp attributionsResponse
	if err := c.getJSON(ctx, "attributions", "/v1/attributions", q, &resp); err != nil {
		return nil, err
	}
	return resp.Attributions, nil
}

// IngestServed posts a served event to the Tracking Store. Called by the
// tracking forwarder, never directly by the serving path.
func (c *TrackingClient) IngestServed(ctx context.Context, ev engine.ServedEvent) error {
	return c.postJSON(ctx, "ingest_served", "/v1/events/served", ev, nil)
}
