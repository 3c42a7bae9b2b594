// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

// Package metrics provides Prometheus instrumentation for the engine,
// upstream collaborator clients, and the learning job.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Serving path

	RecommendationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartloom_recommendation_requests_total",
			Help: "Total recommendation requests by outcome",
		},
		[]string{"outcome"}, // "served", "empty", "cached", "limit_reached"
	)

	RecommendationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cartloom_recommendation_duration_seconds",
			Help:    "Recommendation serving latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	BundleRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartloom_bundle_requests_total",
			Help: "Total bundle requests by source",
		},
		[]string{"source"}, // "persisted", "dynamic", "empty"
	)

	CandidatesScored = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cartloom_candidates_scored",
			Help:    "Statistical candidates scored per request",
			Buckets: []float64{0, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartloom_fallbacks_total",
			Help: "Tier fallbacks by reason",
		},
		[]string{"reason"},
	)

	// Response cache

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartloom_cache_hits_total",
			Help: "Recommendation cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartloom_cache_misses_total",
			Help: "Recommendation cache misses",
		},
	)

	// Upstream collaborators

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cartloom_upstream_request_duration_seconds",
			Help:    "Upstream collaborator call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "operation"},
	)

	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartloom_upstream_errors_total",
			Help: "Upstream collaborator call failures",
		},
		[]string{"service", "operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cartloom_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"service"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartloom_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"service", "from", "to"},
	)

	// Learning job

	LearningRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartloom_learning_runs_total",
			Help: "Learning job runs by status",
		},
		[]string{"status"}, // "completed", "failed", "skipped"
	)

	LearningRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cartloom_learning_run_duration_seconds",
			Help:    "Learning job run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	ProductsBlacklisted = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cartloom_products_blacklisted",
			Help: "Products blacklisted by the last learning run",
		},
		[]string{"shop"},
	)

	// Tracking sink

	TrackingEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartloom_tracking_events_published_total",
			Help: "Tracking events published to the sink",
		},
		[]string{"topic"},
	)

	TrackingForwardErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartloom_tracking_forward_errors_total",
			Help: "Failures forwarding tracking events upstream",
		},
	)

	// HTTP API

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartloom_api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cartloom_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// ObserveAPIRequest records one completed HTTP request.
func ObserveAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// ObserveUpstream records one upstream collaborator call.
func ObserveUpstream(service, operation string, duration time.Duration, err error) {
	UpstreamRequestDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
	if err != nil {
		UpstreamErrors.WithLabelValues(service, operation).Inc()
	}
}
