// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package api

import (
	"context"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/cartloom/cartloom/internal/logging"
	"github.com/cartloom/cartloom/internal/metrics"
)

type contextKey string

// requestIDKey carries the request id through handler contexts.
const requestIDKey contextKey = "request_id"

// RequestID returns the request id stored by RequestIDWithLogging, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// RequestIDWithLogging assigns each request a UUID, echoes it in the
// X-Request-ID header, and writes one access log line per request.
func RequestIDWithLogging() func(http.Handler) http.Handler {
	logger := logging.Component("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)
			ctx := context.WithValue(r.Context(), requestIDKey, requestID)

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			logger.Info().
				Str("request_id", requestID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("remote", r.RemoteAddr).
				Msg("request")
		})
	}
}

// PrometheusMetrics records request counts and latency per endpoint.
func PrometheusMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		metrics.ObserveAPIRequest(r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}
