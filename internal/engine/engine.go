// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cartloom/cartloom/internal/cache"
	"github.com/cartloom/cartloom/internal/metrics"
)

// Engine coordinates association mining, scoring, guardrails, blending, and
// bundle composition. It is safe for concurrent use: all association and
// candidate state is request-local; the only shared mutable structure is the
// response cache, which is concurrency-safe.
//
// Recommendations are a non-critical storefront enhancement. Every upstream
// failure inside the serving path degrades to the best available tier
// (manual, then cold-start, then empty) and is never surfaced to the caller.
type Engine struct {
	config *Config
	logger zerolog.Logger

	orders      OrderHistory
	catalog     Catalog
	settings    SettingsStore
	tracking    TrackingStore
	performance PerformanceReader
	bundles     BundleStore
	tracker     Tracker

	cache *cache.Cache

	// now is injectable for deterministic decay and cache tests.
	now func() time.Time
}

// Deps bundles the external collaborators the engine consumes.
type Deps struct {
	Orders      OrderHistory
	Catalog     Catalog
	Settings    SettingsStore
	Tracking    TrackingStore
	Performance PerformanceReader
	Bundles     BundleStore
	Tracker     Tracker
}

// New creates an engine. A nil config uses the documented defaults.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(cfg *Config, deps Deps, logger zerolog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	return &Engine{
		config:      cfg,
		logger:      logger.With().Str("component", "engine").Logger(),
		orders:      deps.Orders,
		catalog:     deps.Catalog,
		settings:    deps.Settings,
		tracking:    deps.Tracking,
		performance: deps.Performance,
		bundles:     deps.Bundles,
		tracker:     deps.Tracker,
		cache:       cache.New(cfg.CacheTTL),
		now:         time.Now,
	}, nil
}

// SetClock overrides the engine clock. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
		e.cache = cache.NewWithClock(e.config.CacheTTL, now)
	}
}

// Recommend serves a recommendation request per the response contract:
// an ordered list of at most the requested limit, with a reason code when
// empty. Deterministic for identical inputs within the cache TTL window.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) Recommend(ctx context.Context, req Request) (*Response, error) {
	start := e.now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	logger := e.logger.With().Str("request_id", req.RequestID).Str("shop", req.Shop).Logger()

	settings := e.fetchSettings(ctx, req.Shop, logger)
	if settings.OrderLimitReached {
		metrics.RecommendationRequestsTotal.WithLabelValues("limit_reached").Inc()
		return e.finish(req, settings, &Response{LimitReached: true}, start, false), nil
	}
	if !settings.EnableRecommendations {
		metrics.RecommendationRequestsTotal.WithLabelValues("empty").Inc()
		return e.finish(req, settings, &Response{Reason: ReasonDisabled}, start, false), nil
	}

	limit := e.effectiveLimit(req.Limit, settings)
	anchors := req.Anchors()
	if len(anchors) == 0 {
		metrics.RecommendationRequestsTotal.WithLabelValues("empty").Inc()
		return e.finish(req, settings, &Response{Reason: ReasonNoContext}, start, false), nil
	}

	needGap := e.needGapCents(req, settings)
	if settings.ThresholdMode == ThresholdSmart &&
		settings.FreeShippingThresholdCents > 0 && req.SubtotalCents >= settings.FreeShippingThresholdCents {
		metrics.RecommendationRequestsTotal.WithLabelValues("empty").Inc()
		return e.finish(req, settings, &Response{Reason: ReasonThresholdMet}, start, false), nil
	}

	mode := settings.EffectiveMode()
	key := cache.GenerateKey("rec", req.Shop, anchors, limit, needGap, string(settings.ThresholdMode), string(mode))
	if cached, ok := e.cache.Get(key); ok {
		if resp, ok := cached.(*Response); ok {
			metrics.CacheHits.Inc()
			metrics.RecommendationRequestsTotal.WithLabelValues("cached").Inc()
			hit := *resp
			hit.Metadata.RequestID = req.RequestID
			hit.Metadata.CacheHit = true
			return &hit, nil
		}
	}
	metrics.CacheMisses.Inc()

	// The cached value must be fully stamped before publication: concurrent
	// identical requests copy it out of the cache, so nothing may write to
	// it after Set. Hit copies adjust only their private request id and
	// cache-hit flag.
	out := e.finish(req, settings, e.compute(ctx, req, settings, anchors, limit, needGap, mode, logger), start, false)
	e.cache.Set(key, out)

	if len(out.Products) > 0 {
		metrics.RecommendationRequestsTotal.WithLabelValues("served").Inc()
		e.emitServed(ctx, req, out, mode, logger)
	} else {
		metrics.RecommendationRequestsTotal.WithLabelValues("empty").Inc()
	}

	logger.Debug().
		Int("returned", len(out.Products)).
		Str("mode", string(mode)).
		Int64("latency_ms", out.Metadata.LatencyMS).
		Msg("recommendation complete")
	return out, nil
}

// compute runs the full mining/scoring/guardrail/blend pipeline.
func (e *Engine) compute(ctx context.Context, req Request, settings Settings, anchors []string, limit int, needGap int64, mode PersonalizationMode, logger zerolog.Logger) *Response {
	graph, statFallback := e.mineAssociations(ctx, req.Shop, anchors, logger)
	coldStart := statFallback == FallbackUpstreamUnavailable ||
		graph.EligibleOrders < e.config.Blend.ColdStartOrderThreshold
	if coldStart && statFallback == FallbackNone {
		statFallback = FallbackColdStart
	}
	if statFallback != FallbackNone {
		metrics.FallbacksTotal.WithLabelValues(statFallback.String()).Inc()
	}

	scores := ScoreCandidates(graph, anchors, e.config.Scoring)
	metrics.CandidatesScored.Observe(float64(len(scores)))
	if len(scores) > e.config.Limits.CandidateFetch {
		scores = scores[:e.config.Limits.CandidateFetch]
	}

	fetched := e.fetchServingData(ctx, req.Shop, anchors, scores, settings, mode, coldStart, limit, logger)

	ApplyCTR(scores, fetched.counts, e.config.Scoring)
	scores = ApplyPerformance(scores, fetched.performance, e.config.Scoring)

	gc := &GuardrailContext{
		AnchorMedianCents: AnchorMedianCents(fetched.anchorSnapshots(anchors)),
		NeedGapCents:      needGap,
		Limit:             limit,
	}

	manual := TierResult{Tier: TierManual, Fallback: FallbackNotConfigured}
	if len(settings.ManualProductIDs) > 0 {
		manual.Candidates = FilterSnapshots(fetched.manualSnapshots(settings.ManualProductIDs), gc, e.config.Guardrails, TierManual)
		manual.Fallback = FallbackNone
	}

	statistical := TierResult{
		Tier:       TierStatistical,
		Candidates: FilterCandidates(scores, fetched.snapshots, gc, e.config.Guardrails, TierStatistical),
		Fallback:   statFallback,
	}
	trending := TierResult{
		Tier:       TierTrending,
		Candidates: FilterSnapshots(fetched.trending, gc, e.config.Guardrails, TierTrending),
	}
	secondary := e.secondaryTier(mode, trending, fetched, gc)

	proximity := int64(0)
	if settings.ThresholdMode == ThresholdSmart && needGap > 0 {
		proximity = needGap
	}

	blended := Blend(BlendInput{
		Limit:                limit,
		Anchors:              anchors,
		Mode:                 mode,
		ColdStart:            coldStart,
		TrendingRatio:        e.config.Blend.ColdStartTrendingRatio,
		ProximityTargetCents: proximity,
		Manual:               manual,
		Statistical:          statistical,
		Secondary:            secondary,
		Trending:             trending,
	})

	resp := &Response{Products: make([]RecommendedProduct, 0, len(blended))}
	sources := make(map[SourceTier]struct{})
	for _, c := range blended {
		sources[c.Tier] = struct{}{}
		resp.Products = append(resp.Products, RecommendedProduct{
			ID:         c.Product.ID,
			Title:      c.Product.Title,
			Handle:     c.Product.Handle,
			Image:      c.Product.ImageURL,
			PriceCents: c.Product.PriceCents,
		})
	}
	for tier := range sources {
		resp.Metadata.Sources = append(resp.Metadata.Sources, tier.String())
	}
	if statFallback != FallbackNone {
		resp.Metadata.Fallback = statFallback.String()
	}
	return resp
}

// secondaryTier resolves the mode's secondary signal from already-fetched
// data. ai_first uses content similarity; popular and balanced reuse the
// trending tier; basic has none.
func (e *Engine) secondaryTier(mode PersonalizationMode, trending TierResult, fetched *servingData, gc *GuardrailContext) TierResult {
	switch mode {
	case ModeAIFirst:
		return TierResult{
			Tier:       TierSimilar,
			Candidates: FilterSnapshots(fetched.similar, gc, e.config.Guardrails, TierSimilar),
		}
	case ModePopular, ModeBalanced:
		return TierResult{Tier: TierTrending, Candidates: trending.Candidates}
	default:
		return TierResult{Tier: TierSimilar, Fallback: FallbackNotConfigured}
	}
}

// mineAssociations fetches the recent order window and builds the decayed
// association graph. Order-history failure degrades to an empty graph with
// an upstream-unavailable fallback instead of propagating.
func (e *Engine) mineAssociations(ctx context.Context, shop string, anchors []string, logger zerolog.Logger) (AssociationGraph, FallbackReason) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.config.UpstreamTimeout)
	defer cancel()

	orders, err := e.orders.RecentOrders(fetchCtx, shop, e.config.Mining.MaxOrders, e.config.Mining.LookbackDays)
	if err != nil {
		logger.Warn().Err(err).Msg("order history unavailable, degrading to cold start")
		return AssociationGraph{}, FallbackUpstreamUnavailable
	}

	graph := BuildAssociationGraph(orders, e.now(), e.config.Mining.HalfLifeDays)
	if graph.Empty() {
		return graph, FallbackNoAssociations
	}
	return graph, FallbackNone
}

// servingData aggregates the per-request upstream fetches.
type servingData struct {
	snapshots   map[string]ProductSnapshot
	counts      map[string]TrackingCounts
	performance map[string]PerformanceRecord
	trending    []ProductSnapshot
	similar     []ProductSnapshot
}

func (d *servingData) anchorSnapshots(anchors []string) []ProductSnapshot {
	out := make([]ProductSnapshot, 0, len(anchors))
	for _, id := range anchors {
		if p, ok := d.snapshots[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// manualSnapshots returns manual-list snapshots preserving operator order.
func (d *servingData) manualSnapshots(ids []string) []ProductSnapshot {
	out := make([]ProductSnapshot, 0, len(ids))
	for _, id := range ids {
		if p, ok := d.snapshots[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// fetchServingData issues the independent upstream calls concurrently, one
// batched round-trip per collaborator, each under its own bounded timeout.
// Individual failures degrade to empty data and are only logged.
func (e *Engine) fetchServingData(ctx context.Context, shop string, anchors []string, scores []CandidateScore, settings Settings, mode PersonalizationMode, coldStart bool, limit int, logger zerolog.Logger) *servingData {
	data := &servingData{
		snapshots:   make(map[string]ProductSnapshot),
		counts:      make(map[string]TrackingCounts),
		performance: make(map[string]PerformanceRecord),
	}

	candidateIDs := make([]string, 0, len(scores))
	for _, sc := range scores {
		candidateIDs = append(candidateIDs, sc.ProductID)
	}
	catalogIDs := make([]string, 0, len(candidateIDs)+len(anchors)+len(settings.ManualProductIDs))
	catalogIDs = append(catalogIDs, candidateIDs...)
	catalogIDs = append(catalogIDs, anchors...)
	catalogIDs = append(catalogIDs, settings.ManualProductIDs...)

	since := e.now().AddDate(0, 0, -e.config.Scoring.CTRWindowDays)
	wantTrending := coldStart || mode == ModePopular || mode == ModeBalanced
	wantSimilar := mode == ModeAIFirst && len(anchors) > 0

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, e.config.UpstreamTimeout)
			defer cancel()
			if err := fn(callCtx); err != nil {
				logger.Warn().Err(err).Str("fetch", name).Msg("upstream fetch degraded")
			}
		}()
	}

	run("catalog", func(c context.Context) error {
		products, err := e.catalog.ProductsByIDs(c, shop, dedupeIDs(catalogIDs))
		if err != nil {
			return err
		}
		for _, p := range products {
			data.snapshots[p.ID] = p
		}
		return nil
	})
	if len(candidateIDs) > 0 {
		run("tracking", func(c context.Context) error {
			counts, err := e.tracking.Counts(c, shop, candidateIDs, since)
			if err != nil {
				return err
			}
			data.counts = counts
			return nil
		})
		run("performance", func(c context.Context) error {
			perf, err := e.performance.Performance(c, shop, candidateIDs)
			if err != nil {
				return err
			}
			data.performance = perf
			return nil
		})
	}
	if wantTrending {
		run("trending", func(c context.Context) error {
			products, err := e.catalog.Trending(c, shop, limit*2)
			if err != nil {
				return err
			}
			data.trending = products
			return nil
		})
	}
	if wantSimilar {
		run("similar", func(c context.Context) error {
			products, err := e.catalog.Similar(c, shop, anchors[0], limit*2)
			if err != nil {
				return err
			}
			data.similar = products
			return nil
		})
	}
	wg.Wait()
	return data
}

// fetchSettings loads shop settings, degrading to permissive defaults when
// the settings store is unavailable.
func (e *Engine) fetchSettings(ctx context.Context, shop string, logger zerolog.Logger) Settings {
	callCtx, cancel := context.WithTimeout(ctx, e.config.UpstreamTimeout)
	defer cancel()

	settings, err := e.settings.Settings(callCtx, shop)
	if err != nil {
		logger.Warn().Err(err).Msg("settings store unavailable, using defaults")
		return Settings{
			EnableRecommendations: true,
			Mode:                  ModeBalanced,
			ThresholdMode:         ThresholdSmart,
		}
	}
	if settings.ThresholdMode == "" {
		settings.ThresholdMode = ThresholdSmart
	}
	return settings
}

// effectiveLimit resolves the result limit from request, shop settings, and
// engine config, clamped to [1, hard cap].
func (e *Engine) effectiveLimit(requested int, settings Settings) int {
	if requested <= 0 && settings.MaxRecommendations > 0 {
		requested = settings.MaxRecommendations
	}
	return e.config.ClampLimit(requested)
}

// needGapCents returns the remaining free-shipping gap, or 0 when no
// threshold is active.
func (e *Engine) needGapCents(req Request, settings Settings) int64 {
	if settings.FreeShippingThresholdCents <= 0 || req.SubtotalCents <= 0 {
		return 0
	}
	gap := settings.FreeShippingThresholdCents - req.SubtotalCents
	if gap < 0 {
		return 0
	}
	return gap
}

// emitServed publishes the recommendation-served tracking event. Failures
// are logged and never affect the response.
func (e *Engine) emitServed(ctx context.Context, req Request, resp *Response, mode PersonalizationMode, logger zerolog.Logger) {
	if e.tracker == nil {
		return
	}
	ids := make([]string, 0, len(resp.Products))
	for _, p := range resp.Products {
		ids = append(ids, p.ID)
	}
	ev := ServedEvent{
		EventID:        uuid.NewString(),
		Shop:           req.Shop,
		Anchors:        req.Anchors(),
		RecommendedIDs: ids,
		Mode:           string(mode),
		Sources:        resp.Metadata.Sources,
		OccurredAt:     e.now(),
	}
	if err := e.tracker.RecommendationServed(ctx, ev); err != nil {
		logger.Warn().Err(err).Msg("tracking emit failed")
	}
}

// finish stamps response metadata.
func (e *Engine) finish(req Request, settings Settings, resp *Response, start time.Time, cacheHit bool) *Response {
	elapsed := e.now().Sub(start)
	resp.Metadata.RequestID = req.RequestID
	resp.Metadata.Shop = req.Shop
	resp.Metadata.Mode = string(settings.EffectiveMode())
	resp.Metadata.CacheHit = cacheHit
	resp.Metadata.LatencyMS = elapsed.Milliseconds()
	resp.Metadata.Timestamp = e.now()
	metrics.RecommendationLatency.Observe(elapsed.Seconds())
	return resp
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
