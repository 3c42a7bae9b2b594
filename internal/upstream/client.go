// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

// Package upstream provides HTTP clients for the four storefront platform
// collaborators: Order History, Catalog, Settings Store, and Tracking Store.
//
// Every client wraps its calls in a circuit breaker and a client-side rate
// limiter. The breaker prevents cascading failures when a collaborator is
// down or slow; callers treat an open breaker like any other upstream error
// and degrade per their own fallback rules.
//
// DETERMINISM NOTE: The circuit breaker uses real time (via sony/gobreaker)
// for its interval and timeout calculations. This is intentional: the
// timing governs recovery, not data integrity. Tests should stub the
// collaborator interfaces rather than the breaker.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/cartloom/cartloom/internal/logging"
	"github.com/cartloom/cartloom/internal/metrics"
)

// ErrUpstreamStatus wraps non-2xx responses.
var ErrUpstreamStatus = errors.New("upstream returned error status")

// maxResponseBytes caps response bodies read into memory.
const maxResponseBytes = 16 << 20

// ServiceConfig configures one collaborator client.
type ServiceConfig struct {
	// BaseURL is the collaborator's root URL, without a trailing slash.
	BaseURL string `json:"base_url" koanf:"base_url" validate:"required,url"`

	// APIKey is sent as a bearer token when set.
	APIKey string `json:"api_key" koanf:"api_key"`

	// Timeout bounds each request. Default: 2s.
	Timeout time.Duration `json:"timeout" koanf:"timeout"`

	// RequestsPerSecond caps the client-side request rate. Zero disables
	// pacing.
	RequestsPerSecond float64 `json:"requests_per_second" koanf:"requests_per_second"`

	// Burst is the rate limiter burst size. Default: 5 when pacing is on.
	Burst int `json:"burst" koanf:"burst"`
}

func (c ServiceConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 2 * time.Second
	}
	return c.Timeout
}

// client is the shared HTTP machinery behind each collaborator client.
type client struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func newClient(name string, cfg ServiceConfig) *client {
	c := &client{
		name:    name,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout: cfg.timeout(),
		},
		breaker: newBreaker(name),
		logger:  logging.Component("upstream." + name),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 5
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

// newBreaker builds a circuit breaker that opens after a 60% failure rate
// with at least 10 requests in the measurement window.
func newBreaker(name string) *gobreaker.CircuitBreaker[[]byte] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logger := logging.Component("upstream." + name)
			logger.Info().
				Str("from", fromStr).
				Str("to", toStr).
				Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// getJSON issues a GET and decodes the JSON response into out.
func (c *client) getJSON(ctx context.Context, operation, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%s %s: build request: %w", c.name, operation, err)
	}
	return c.do(operation, req, out)
}

// postJSON issues a POST with a JSON body and decodes the response into out.
// out may be nil for fire-and-forget endpoints.
func (c *client) postJSON(ctx context.Context, operation, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s %s: marshal body: %w", c.name, operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s %s: build request: %w", c.name, operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(operation, req, out)
}

func (c *client) do(operation string, req *http.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return fmt.Errorf("%s %s: rate limit wait: %w", c.name, operation, err)
		}
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%w: %s %s -> %d", ErrUpstreamStatus, req.Method, req.URL.Path, resp.StatusCode)
		}
		return data, nil
	})
	metrics.ObserveUpstream(c.name, operation, time.Since(start), err)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn().Str("operation", operation).Err(err).Msg("request rejected by circuit breaker")
		}
		return fmt.Errorf("%s %s: %w", c.name, operation, err)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", c.name, operation, err)
	}
	return nil
}
