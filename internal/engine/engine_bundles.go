// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cartloom/cartloom/internal/cache"
	"github.com/cartloom/cartloom/internal/metrics"
)

// Bundles serves a product-page bundle request. Persisted bundles (manual,
// collection-scoped, ML-configured) take precedence; a dynamically composed
// bundle is the last-resort fallback when nothing targets the anchor.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) Bundles(ctx context.Context, req BundleRequest) (*BundlesResponse, error) {
	start := e.now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	logger := e.logger.With().Str("request_id", req.RequestID).Str("shop", req.Shop).Logger()

	settings := e.fetchSettings(ctx, req.Shop, logger)
	resp := &BundlesResponse{Currency: settings.Currency}
	if settings.OrderLimitReached || !settings.EnableRecommendations {
		resp.Reason = ReasonDisabled
		metrics.BundleRequestsTotal.WithLabelValues("empty").Inc()
		return e.finishBundles(req, resp, start), nil
	}
	if req.ProductID == "" {
		resp.Reason = ReasonNoContext
		metrics.BundleRequestsTotal.WithLabelValues("empty").Inc()
		return e.finishBundles(req, resp, start), nil
	}

	key := cache.GenerateKey("bundle", req.Shop, req.ProductID)
	if cached, ok := e.cache.Get(key); ok {
		if cachedResp, ok := cached.(*BundlesResponse); ok {
			metrics.CacheHits.Inc()
			hit := *cachedResp
			hit.Metadata.RequestID = req.RequestID
			hit.Metadata.CacheHit = true
			return &hit, nil
		}
	}
	metrics.CacheMisses.Inc()

	if persisted := e.persistedBundles(ctx, req, logger); len(persisted) > 0 {
		resp.Bundles = persisted
		metrics.BundleRequestsTotal.WithLabelValues("persisted").Inc()
	} else if bundle, ok := e.composeDynamicBundle(ctx, req, logger); ok {
		resp.Bundles = []Bundle{bundle}
		metrics.BundleRequestsTotal.WithLabelValues("dynamic").Inc()
	} else {
		resp.Reason = ReasonNoContext
		metrics.BundleRequestsTotal.WithLabelValues("empty").Inc()
	}

	// Stamped before publication; the cached value is never written again.
	out := e.finishBundles(req, resp, start)
	e.cache.Set(key, out)
	return out, nil
}

// persistedBundles reads externally configured bundles targeting the anchor.
// Store failure degrades to dynamic composition.
func (e *Engine) persistedBundles(ctx context.Context, req BundleRequest, logger zerolog.Logger) []Bundle {
	callCtx, cancel := context.WithTimeout(ctx, e.config.UpstreamTimeout)
	defer cancel()

	persisted, err := e.bundles.BundlesForProduct(callCtx, req.Shop, req.ProductID)
	if err != nil {
		logger.Warn().Err(err).Msg("bundle store unavailable, trying dynamic composition")
		return nil
	}
	return persisted
}

// composeDynamicBundle derives up to two complements for the anchor from
// single-anchor association data, falling back to a catalog sample when no
// association signal exists.
func (e *Engine) composeDynamicBundle(ctx context.Context, req BundleRequest, logger zerolog.Logger) (Bundle, bool) {
	anchors := []string{req.ProductID}
	graph, _ := e.mineAssociations(ctx, req.Shop, anchors, logger)
	scores := ScoreCandidates(graph, anchors, e.config.Scoring)
	if len(scores) > e.config.Limits.CandidateFetch {
		scores = scores[:e.config.Limits.CandidateFetch]
	}

	ids := make([]string, 0, len(scores)+1)
	ids = append(ids, req.ProductID)
	for _, sc := range scores {
		ids = append(ids, sc.ProductID)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.UpstreamTimeout)
	defer cancel()
	products, err := e.catalog.ProductsByIDs(callCtx, req.Shop, ids)
	if err != nil {
		logger.Warn().Err(err).Msg("catalog unavailable, no bundle")
		return Bundle{}, false
	}
	snapshots := make(map[string]ProductSnapshot, len(products))
	for _, p := range products {
		snapshots[p.ID] = p
	}

	anchor, ok := snapshots[req.ProductID]
	if !ok || !anchor.Available {
		return Bundle{}, false
	}

	complements := SelectComplements(scores, snapshots, req.ProductID, 2)
	if len(complements) == 0 {
		sampleCtx, sampleCancel := context.WithTimeout(ctx, e.config.UpstreamTimeout)
		defer sampleCancel()
		sample, err := e.catalog.SampleProducts(sampleCtx, req.Shop, e.config.Limits.CandidateFetch)
		if err != nil {
			logger.Warn().Err(err).Msg("catalog sample unavailable, no bundle")
			return Bundle{}, false
		}
		complements = FallbackComplements(sample, req.ProductID, 2)
	}
	if len(complements) == 0 {
		return Bundle{}, false
	}

	pct := e.configuredDiscount(ctx, req.Shop, logger)
	bundle := ComposeBundle(
		"dynamic-"+req.ProductID,
		anchor.Title+" Bundle",
		anchor,
		complements,
		pct,
	)
	return bundle, true
}

// configuredDiscount resolves the persisted dynamic-bundle discount. The
// engine never invents a percentage: missing configuration means 0%.
func (e *Engine) configuredDiscount(ctx context.Context, shop string, logger zerolog.Logger) float64 {
	callCtx, cancel := context.WithTimeout(ctx, e.config.UpstreamTimeout)
	defer cancel()

	pct, ok, err := e.bundles.DiscountPercent(callCtx, shop)
	if err != nil {
		logger.Warn().Err(err).Msg("discount lookup failed, composing without discount")
		return 0
	}
	if !ok {
		return 0
	}
	return pct
}

// finishBundles stamps bundle response metadata.
func (e *Engine) finishBundles(req BundleRequest, resp *BundlesResponse, start time.Time) *BundlesResponse {
	resp.Metadata.RequestID = req.RequestID
	resp.Metadata.Shop = req.Shop
	resp.Metadata.LatencyMS = e.now().Sub(start).Milliseconds()
	resp.Metadata.Timestamp = e.now()
	return resp
}
