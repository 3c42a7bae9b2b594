// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

// Package api provides the HTTP surface using the Chi router.
//
// The API is designed for storefront widgets: read-heavy, latency-bound,
// and failure-tolerant. A degraded engine still answers 200 with empty
// results and a reason code; the only hard failures are malformed requests
// and exhausted order quotas surfaced by the engine itself.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds middleware tuning for the HTTP surface.
type RouterConfig struct {
	// CORSAllowedOrigins lists storefront origins permitted to call the
	// API. Empty means same-origin only.
	CORSAllowedOrigins []string `json:"cors_allowed_origins" koanf:"cors_allowed_origins"`

	// RateLimitRequests caps storefront requests per client IP per window.
	// Default: 300.
	RateLimitRequests int `json:"rate_limit_requests" koanf:"rate_limit_requests"`

	// AdminRateLimitRequests caps admin requests (performance, learning)
	// per client IP per window. Default: 30.
	AdminRateLimitRequests int `json:"admin_rate_limit_requests" koanf:"admin_rate_limit_requests"`

	// RateLimitWindow is the rate limit window shared by both budgets.
	// Default: 1m.
	RateLimitWindow time.Duration `json:"rate_limit_window" koanf:"rate_limit_window"`

	// RateLimitDisabled turns rate limiting off. Intended for tests.
	RateLimitDisabled bool `json:"rate_limit_disabled" koanf:"rate_limit_disabled"`
}

// DefaultRouterConfig returns production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RateLimitRequests:      300,
		AdminRateLimitRequests: 30,
		RateLimitWindow:        time.Minute,
	}
}

// Router assembles the HTTP handler tree.
type Router struct {
	config  RouterConfig
	handler *Handler
}

// NewRouter builds a router over the given handler.
func NewRouter(cfg RouterConfig, handler *Handler) *Router {
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 300
	}
	if cfg.AdminRateLimitRequests <= 0 {
		cfg.AdminRateLimitRequests = 30
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	return &Router{config: cfg, handler: handler}
}

// Setup wires all routes and middleware.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: router.config.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	}))

	// Health endpoints skip rate limiting so orchestrator probes never
	// get throttled.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/", router.handler.HealthLive)
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(PrometheusMetrics)

		// Storefront widgets are high-volume and latency-bound.
		r.Group(func(r chi.Router) {
			r.Use(router.rateLimit(router.config.RateLimitRequests))

			r.Get("/recommendations", router.handler.RecommendationsGet)
			r.Post("/recommendations", router.handler.RecommendationsPost)
			r.Get("/bundles", router.handler.Bundles)
		})

		// Admin endpoints get a much tighter budget.
		r.Group(func(r chi.Router) {
			r.Use(router.rateLimit(router.config.AdminRateLimitRequests))

			r.Get("/performance", router.handler.Performance)
			r.Post("/learning/run", router.handler.LearningRun)
			r.Get("/learning/runs", router.handler.LearningRuns)
		})
	})

	return r
}

func (router *Router) rateLimit(requests int) func(http.Handler) http.Handler {
	if router.config.RateLimitDisabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requests,
		router.config.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	)
}
