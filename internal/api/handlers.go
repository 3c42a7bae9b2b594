// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/cartloom/cartloom/internal/engine"
	"github.com/cartloom/cartloom/internal/learning"
	"github.com/cartloom/cartloom/internal/logging"
	"github.com/cartloom/cartloom/internal/store"
)

// Recommender is the serving engine surface the handlers call.
type Recommender interface {
	Recommend(ctx context.Context, req engine.Request) (*engine.Response, error)
	Bundles(ctx context.Context, req engine.BundleRequest) (*engine.BundlesResponse, error)
}

// LearningRunner triggers learning runs on demand.
type LearningRunner interface {
	Run(ctx context.Context, shop string) (store.JobRun, error)
}

// LearningHistory reads persisted learning output.
type LearningHistory interface {
	Runs(ctx context.Context, shop string, limit int) ([]store.JobRun, error)
	AllPerformance(ctx context.Context, shop string) ([]engine.PerformanceRecord, error)
}

// ReadyCheck reports whether a dependency is able to serve.
type ReadyCheck func(ctx context.Context) error

// Handler implements all HTTP endpoints.
type Handler struct {
	recommender Recommender
	runner      LearningRunner
	history     LearningHistory
	readiness   map[string]ReadyCheck
	validate    *validator.Validate
	logger      zerolog.Logger
}

// NewHandler builds the endpoint handler.
func NewHandler(recommender Recommender, runner LearningRunner, history LearningHistory) *Handler {
	return &Handler{
		recommender: recommender,
		runner:      runner,
		history:     history,
		readiness:   make(map[string]ReadyCheck),
		validate:    validator.New(),
		logger:      logging.Component("api"),
	}
}

// AddReadyCheck registers a named readiness dependency.
func (h *Handler) AddReadyCheck(name string, check ReadyCheck) {
	h.readiness[name] = check
}

// HealthLive answers liveness probes. Process up means alive.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady answers readiness probes by running registered checks.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for name, check := range h.readiness {
		if err := check(r.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"failed": failed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// recommendationsQuery is the GET query shape for recommendations.
type recommendationsQuery struct {
	Shop          string `validate:"required"`
	Anchor        string
	Cart          string
	Limit         int
	SubtotalCents int64
}

// RecommendationsGet serves widget recommendation requests via query
// parameters. Out-of-range limits are clamped, not rejected.
func (h *Handler) RecommendationsGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := recommendationsQuery{
		Shop:   q.Get("shop"),
		Anchor: q.Get("anchor"),
		Cart:   q.Get("cart"),
	}
	query.Limit, _ = strconv.Atoi(q.Get("limit"))
	query.SubtotalCents, _ = strconv.ParseInt(q.Get("subtotal_cents"), 10, 64)

	if err := h.validate.Struct(query); err != nil {
		writeError(w, http.StatusBadRequest, "shop is required")
		return
	}

	req := engine.Request{
		Shop:            query.Shop,
		AnchorProductID: query.Anchor,
		CartProductIDs:  splitIDs(query.Cart),
		Limit:           query.Limit,
		SubtotalCents:   query.SubtotalCents,
		RequestID:       RequestID(r.Context()),
	}
	h.serveRecommendations(w, r, req)
}

// RecommendationsPost serves the same request as a JSON body, used by
// storefronts with carts too large for a query string.
func (h *Handler) RecommendationsPost(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Shop == "" {
		writeError(w, http.StatusBadRequest, "shop is required")
		return
	}
	if req.RequestID == "" {
		req.RequestID = RequestID(r.Context())
	}
	h.serveRecommendations(w, r, req)
}

func (h *Handler) serveRecommendations(w http.ResponseWriter, r *http.Request, req engine.Request) {
	resp, err := h.recommender.Recommend(r.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).Str("shop", req.Shop).Msg("recommendation request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Bundles serves product-page bundle requests.
func (h *Handler) Bundles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	shop := q.Get("shop")
	if shop == "" {
		writeError(w, http.StatusBadRequest, "shop is required")
		return
	}

	req := engine.BundleRequest{
		Shop:      shop,
		ProductID: q.Get("product_id"),
		RequestID: RequestID(r.Context()),
	}
	resp, err := h.recommender.Bundles(r.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).Str("shop", shop).Msg("bundle request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Performance lists the current performance records for a shop.
func (h *Handler) Performance(w http.ResponseWriter, r *http.Request) {
	shop := r.URL.Query().Get("shop")
	if shop == "" {
		writeError(w, http.StatusBadRequest, "shop is required")
		return
	}

	records, err := h.history.AllPerformance(r.Context(), shop)
	if err != nil {
		h.logger.Error().Err(err).Str("shop", shop).Msg("performance listing failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if records == nil {
		records = []engine.PerformanceRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"shop":    shop,
		"records": records,
	})
}

// learningRunRequest is the POST body for manual learning runs.
type learningRunRequest struct {
	Shop string `json:"shop" validate:"required"`
}

// LearningRun triggers an immediate learning run for a shop.
func (h *Handler) LearningRun(w http.ResponseWriter, r *http.Request) {
	var body learningRunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, "shop is required")
		return
	}

	run, err := h.runner.Run(r.Context(), body.Shop)
	if err != nil {
		if errors.Is(err, learning.ErrRunInProgress) {
			writeError(w, http.StatusConflict, "a learning run is already in progress for this shop")
			return
		}
		// The run record carries the failure detail; surface it as a
		// completed-with-failure payload rather than opaque 500.
		writeJSON(w, http.StatusOK, run)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// LearningRuns lists recent learning runs for a shop, newest first.
func (h *Handler) LearningRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	shop := q.Get("shop")
	if shop == "" {
		writeError(w, http.StatusBadRequest, "shop is required")
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	runs, err := h.history.Runs(r.Context(), shop, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("shop", shop).Msg("run listing failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if runs == nil {
		runs = []store.JobRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"shop": shop,
		"runs": runs,
	})
}

// splitIDs parses a comma-separated id list, dropping empties.
func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
