// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package engine

import (
	"context"
	"time"
)

// LineItem is a single product line within an order.
type LineItem struct {
	// ProductID is the platform product identifier.
	ProductID string `json:"product_id"`

	// Quantity is the ordered quantity. Association mining counts a product
	// once per order regardless of quantity.
	Quantity int `json:"quantity"`

	// PriceCents is the unit price in minor currency units.
	PriceCents int64 `json:"price_cents"`
}

// Order is an immutable historical purchase. The engine only reads orders
// within a bounded lookback window; it never mutates them.
type Order struct {
	// ID is the platform order identifier.
	ID string `json:"id"`

	// CreatedAt is when the order was placed. Drives time decay.
	CreatedAt time.Time `json:"created_at"`

	// Items are the ordered line items.
	Items []LineItem `json:"items"`
}

// ProductSnapshot is the catalog view of a product at request time.
type ProductSnapshot struct {
	// ID is the platform product identifier.
	ID string `json:"id"`

	// Title is the display title.
	Title string `json:"title"`

	// Handle is the URL slug. Its first dash-separated segment doubles as
	// the diversity key for guardrail filtering.
	Handle string `json:"handle"`

	// ImageURL is the primary product image.
	ImageURL string `json:"image_url,omitempty"`

	// PriceCents is the current price in minor currency units.
	PriceCents int64 `json:"price_cents"`

	// Available reports whether the product is in stock and purchasable.
	Available bool `json:"available"`

	// SubscriptionOnly marks products sold only on subscription. These are
	// excluded from dynamic bundle fallback sampling.
	SubscriptionOnly bool `json:"subscription_only,omitempty"`
}

// DiversityKey returns the first dash-separated segment of the handle.
// Products sharing a key (color/size variants of one product line) are
// collapsed to a single slot per response.
func (p ProductSnapshot) DiversityKey() string {
	for i := 0; i < len(p.Handle); i++ {
		if p.Handle[i] == '-' {
			return p.Handle[:i]
		}
	}
	return p.Handle
}

// AssociationGraph is the decayed co-occurrence model mined from recent
// orders. It is built fresh per request and never persisted.
//
// Invariant: all weights are non-negative and strictly decreasing in order
// age; a recent order never contributes exactly zero.
type AssociationGraph struct {
	// Appearances maps product id to decayed order-presence mass. A product
	// accumulates at most one weight contribution per order.
	Appearances map[string]float64

	// Cooccurrence maps product id -> co-purchased product id -> decayed
	// co-occurrence weight. Symmetric: Cooccurrence[a][b] == Cooccurrence[b][a].
	Cooccurrence map[string]map[string]float64

	// TotalMass is the sum of decayed weights across all contributing
	// multi-item orders (each order counts once).
	TotalMass float64

	// MultiItemOrders is the number of orders with >= 2 distinct products.
	MultiItemOrders int

	// EligibleOrders is the total number of orders in the window, used for
	// cold-start detection.
	EligibleOrders int
}

// Empty reports whether the graph carries no association signal.
func (g AssociationGraph) Empty() bool {
	return g.MultiItemOrders == 0 || len(g.Cooccurrence) == 0
}

// CandidateScore is the scored association of a candidate product with the
// anchor set. Created per request and discarded after the response.
type CandidateScore struct {
	// ProductID is the candidate product.
	ProductID string

	// Base is the lift/popularity blend before CTR and performance
	// adjustment, bounded to [0, 1].
	Base float64

	// Lift is the raw (uncapped) lift against the best-scoring anchor.
	Lift float64

	// CTRMultiplier is the click-rate re-ranking factor, in [0.85, 1.25].
	CTRMultiplier float64

	// Final is Base * CTRMultiplier * performance adjustment.
	Final float64

	// rank preserves insertion order for stable, reproducible sorting.
	rank int
}

// Candidate is a scored recommendation candidate joined with its catalog
// snapshot, flowing through guardrails and blending.
type Candidate struct {
	Product ProductSnapshot

	// Score is the candidate's final score within its tier.
	Score float64

	// Tier is the source tier that produced the candidate.
	Tier SourceTier
}

// SourceTier identifies where a candidate came from.
type SourceTier int

const (
	// TierManual is the operator-curated product list.
	TierManual SourceTier = iota
	// TierStatistical is the association-mined tier.
	TierStatistical
	// TierTrending is platform-level trending products (cold start).
	TierTrending
	// TierSimilar is the content-similarity secondary signal.
	TierSimilar
)

// String returns a human-readable tier name.
func (t SourceTier) String() string {
	switch t {
	case TierManual:
		return "manual"
	case TierStatistical:
		return "statistical"
	case TierTrending:
		return "trending"
	case TierSimilar:
		return "similar"
	default:
		return "unknown"
	}
}

// FallbackReason explains why a tier produced no (or degraded) candidates.
// Tier boundaries return explicit results instead of nested error handling
// so blending stays a pure function over tier outputs.
type FallbackReason int

const (
	// FallbackNone means the tier produced usable candidates.
	FallbackNone FallbackReason = iota
	// FallbackNoAssociations means the order window had no multi-item orders.
	FallbackNoAssociations
	// FallbackColdStart means too little order history for reliable signal.
	FallbackColdStart
	// FallbackUpstreamUnavailable means a collaborator call failed or timed out.
	FallbackUpstreamUnavailable
	// FallbackNotConfigured means the tier has no configuration (e.g. no
	// manual list). Treated as "feature disabled", not an error.
	FallbackNotConfigured
)

// String returns a human-readable fallback name.
func (f FallbackReason) String() string {
	switch f {
	case FallbackNone:
		return "none"
	case FallbackNoAssociations:
		return "no_associations"
	case FallbackColdStart:
		return "cold_start"
	case FallbackUpstreamUnavailable:
		return "upstream_unavailable"
	case FallbackNotConfigured:
		return "not_configured"
	default:
		return "unknown"
	}
}

// TierResult is the outcome of evaluating one candidate source tier.
type TierResult struct {
	// Tier identifies the source.
	Tier SourceTier

	// Candidates are the tier's guardrail-filtered candidates, best first.
	Candidates []Candidate

	// Fallback is FallbackNone on success, otherwise the degradation cause.
	Fallback FallbackReason
}

// PersonalizationMode selects which secondary signal is blended with the
// statistical tier. A/B experiment assignments may override the configured
// mode per request.
type PersonalizationMode string

const (
	// ModeAIFirst blends content-similarity heavily with association scores.
	ModeAIFirst PersonalizationMode = "ai_first"
	// ModePopular blends platform popularity heavily.
	ModePopular PersonalizationMode = "popular"
	// ModeBalanced blends popularity lightly.
	ModeBalanced PersonalizationMode = "balanced"
	// ModeBasic uses the statistical tier alone.
	ModeBasic PersonalizationMode = "basic"
)

// Valid reports whether m is a recognized mode.
func (m PersonalizationMode) Valid() bool {
	switch m {
	case ModeAIFirst, ModePopular, ModeBalanced, ModeBasic:
		return true
	}
	return false
}

// ThresholdMode controls free-shipping-gap behavior.
type ThresholdMode string

const (
	// ThresholdSmart suppresses recommendations once the threshold is met and
	// re-sorts the final list by price proximity to the remaining gap.
	ThresholdSmart ThresholdMode = "smart"
	// ThresholdPrice only rejects candidates priced below the remaining gap.
	ThresholdPrice ThresholdMode = "price"
)

// Settings is the typed, validated view of the shop's feature configuration.
// Every recognized flag is enumerated here; unknown blob keys from the
// settings collaborator are dropped at the boundary.
type Settings struct {
	// EnableRecommendations gates the whole serving path.
	EnableRecommendations bool `json:"enable_recommendations"`

	// MaxRecommendations is the shop's default result limit.
	MaxRecommendations int `json:"max_recommendations"`

	// FreeShippingThresholdCents activates need-amount gap logic when > 0.
	FreeShippingThresholdCents int64 `json:"free_shipping_threshold_cents"`

	// ThresholdMode selects smart or price gap behavior.
	ThresholdMode ThresholdMode `json:"threshold_mode"`

	// ManualProductIDs is the operator-curated list, honored first.
	ManualProductIDs []string `json:"manual_product_ids"`

	// Mode is the configured personalization mode.
	Mode PersonalizationMode `json:"mode"`

	// ExperimentMode, when set, is the A/B experiment override applied
	// before blending. Manual-list slots are unaffected by the override.
	ExperimentMode PersonalizationMode `json:"experiment_mode,omitempty"`

	// OrderLimitReached reports the subscription order quota is exhausted.
	// This is the only condition that surfaces as a terminal failure.
	OrderLimitReached bool `json:"order_limit_reached"`

	// Currency is the shop's ISO 4217 currency code.
	Currency string `json:"currency"`
}

// EffectiveMode resolves the personalization mode, preferring a valid
// experiment override over the configured mode.
func (s Settings) EffectiveMode() PersonalizationMode {
	if s.ExperimentMode.Valid() {
		return s.ExperimentMode
	}
	if s.Mode.Valid() {
		return s.Mode
	}
	return ModeBalanced
}

// ReasonCode explains an empty recommendation response.
type ReasonCode string

const (
	// ReasonDisabled means recommendations are switched off for the shop.
	ReasonDisabled ReasonCode = "disabled"
	// ReasonThresholdMet means the cart already cleared the free-shipping
	// threshold in smart mode.
	ReasonThresholdMet ReasonCode = "threshold_met"
	// ReasonNoContext means the request carried no anchor and no cart.
	ReasonNoContext ReasonCode = "no_context"
)

// Request is a recommendation request. Malformed fields are clamped and
// normalized rather than rejected; recommendations are best-effort UX.
type Request struct {
	// Shop is the already-authenticated shop scope.
	Shop string `json:"shop"`

	// AnchorProductID is the product currently in view, if any.
	AnchorProductID string `json:"anchor_product_id,omitempty"`

	// CartProductIDs are the products currently in the cart.
	CartProductIDs []string `json:"cart_product_ids,omitempty"`

	// Limit is the requested result size, clamped to [1, HardCap].
	Limit int `json:"limit,omitempty"`

	// SubtotalCents is the current cart subtotal for threshold logic.
	SubtotalCents int64 `json:"subtotal_cents,omitempty"`

	// RequestID is a unique identifier for tracing.
	RequestID string `json:"request_id,omitempty"`
}

// Anchors returns the deduplicated anchor set (view product + cart).
func (r Request) Anchors() []string {
	seen := make(map[string]struct{}, len(r.CartProductIDs)+1)
	anchors := make([]string, 0, len(r.CartProductIDs)+1)
	if r.AnchorProductID != "" {
		seen[r.AnchorProductID] = struct{}{}
		anchors = append(anchors, r.AnchorProductID)
	}
	for _, id := range r.CartProductIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		anchors = append(anchors, id)
	}
	return anchors
}

// RecommendedProduct is one entry of the served payload.
type RecommendedProduct struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Handle     string `json:"handle"`
	Image      string `json:"image,omitempty"`
	PriceCents int64  `json:"price_cents"`
}

// Response is the recommendation response contract. Deterministic for
// identical inputs within the same cache TTL window.
type Response struct {
	// Products is the ordered result list, length <= requested limit.
	Products []RecommendedProduct `json:"products"`

	// Reason is set when Products is empty for a non-error cause.
	Reason ReasonCode `json:"reason,omitempty"`

	// LimitReached reports the subscription quota terminal state.
	LimitReached bool `json:"limit_reached,omitempty"`

	// Metadata carries timing and diagnostic information.
	Metadata ResponseMetadata `json:"metadata"`
}

// ResponseMetadata carries timing and diagnostic information.
type ResponseMetadata struct {
	RequestID string `json:"request_id"`

	// Shop is the shop scope the response was computed for.
	Shop string `json:"shop"`

	// Mode is the effective personalization mode.
	Mode string `json:"mode"`

	// Sources lists the tiers that contributed results.
	Sources []string `json:"sources,omitempty"`

	// Fallback is set when the statistical tier degraded.
	Fallback string `json:"fallback,omitempty"`

	// CacheHit indicates the response was served from cache.
	CacheHit bool `json:"cache_hit"`

	// LatencyMS is the serving latency in milliseconds.
	LatencyMS int64 `json:"latency_ms"`

	// Timestamp is when the response was generated.
	Timestamp time.Time `json:"timestamp"`
}

// BundleRequest asks for bundles anchored on a product page.
type BundleRequest struct {
	Shop      string `json:"shop"`
	ProductID string `json:"product_id"`
	RequestID string `json:"request_id,omitempty"`
}

// Bundle is an anchor plus 1-3 complements with tiered discount pricing.
// Dynamic bundles are transient; persisted bundles are external state the
// engine only reads.
type Bundle struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	Products        []RecommendedProduct `json:"products"`
	RegularTotal    int64                `json:"regular_total"`
	BundlePrice     int64                `json:"bundle_price"`
	DiscountPercent float64              `json:"discount_percent"`
	SavingsAmount   int64                `json:"savings_amount"`
}

// BundlesResponse is the bundle response contract.
type BundlesResponse struct {
	Bundles  []Bundle         `json:"bundles"`
	Currency string           `json:"currency"`
	Reason   ReasonCode       `json:"reason,omitempty"`
	Metadata ResponseMetadata `json:"metadata"`
}

// TrackingCounts are trailing-window impression/click counts per product.
type TrackingCounts struct {
	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`
}

// PerformanceRecord is the persisted per-product learning output. Written
// only by the learning job; the serving path reads it to suppress or boost
// ranked candidates.
type PerformanceRecord struct {
	Shop      string `json:"shop"`
	ProductID string `json:"product_id"`

	Impressions  int64 `json:"impressions"`
	Clicks       int64 `json:"clicks"`
	Purchases    int64 `json:"purchases"`
	RevenueCents int64 `json:"revenue_cents"`

	// CTR is clicks/impressions over the trailing window.
	CTR float64 `json:"ctr"`

	// CVR is purchases/impressions over the trailing window.
	CVR float64 `json:"cvr"`

	// Confidence is 0.4*CVR + 0.4*CTR + 0.2*sample_size_score, in [0, 1].
	// Recomputed from the trailing window on every run, never hand-edited.
	Confidence float64 `json:"confidence"`

	// HighPerformer flags cvr > 0.02. Informational only.
	HighPerformer bool `json:"high_performer"`

	IsBlacklisted   bool   `json:"is_blacklisted"`
	BlacklistReason string `json:"blacklist_reason,omitempty"`

	// WindowDays is the trailing window the record was computed over.
	WindowDays int `json:"window_days"`

	// ComputedAt is when the learning job produced this record.
	ComputedAt time.Time `json:"computed_at"`
}

// ServedEvent is emitted to the tracking sink whenever recommendations are
// served. The learning job unpacks it into one impression per listed product.
type ServedEvent struct {
	EventID        string    `json:"event_id"`
	Shop           string    `json:"shop"`
	Anchors        []string  `json:"anchors"`
	RecommendedIDs []string  `json:"recommended_ids"`
	Mode           string    `json:"mode"`
	Sources        []string  `json:"sources,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// TrackingEvent is a raw interaction event read back from the Tracking
// Store. Served events fan out to one impression per recommended product;
// click events target a single product.
type TrackingEvent struct {
	EventID        string    `json:"event_id"`
	Shop           string    `json:"shop"`
	Type           string    `json:"type"` // "served" or "click"
	ProductID      string    `json:"product_id,omitempty"`
	RecommendedIDs []string  `json:"recommended_ids,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Tracking event types.
const (
	EventServed = "served"
	EventClick  = "click"
)

// Attribution links a recommended product to a later purchase.
type Attribution struct {
	Shop         string    `json:"shop"`
	ProductID    string    `json:"product_id"`
	OrderID      string    `json:"order_id"`
	RevenueCents int64     `json:"revenue_cents"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// OrderHistory is the Order History Service collaborator.
type OrderHistory interface {
	// RecentOrders returns up to maxCount orders no older than maxAgeDays.
	RecentOrders(ctx context.Context, shop string, maxCount, maxAgeDays int) ([]Order, error)
}

// Catalog is the Catalog Service collaborator. Calls are batched by id list
// rather than issued per product.
type Catalog interface {
	// ProductsByIDs returns snapshots for the given ids. Unknown ids are
	// silently omitted.
	ProductsByIDs(ctx context.Context, shop string, ids []string) ([]ProductSnapshot, error)

	// SampleProducts returns a catalog sample for bundle fallback,
	// excluding subscription-only items.
	SampleProducts(ctx context.Context, shop string, limit int) ([]ProductSnapshot, error)

	// Similar returns content-similar products for the ai_first secondary
	// signal.
	Similar(ctx context.Context, shop, productID string, limit int) ([]ProductSnapshot, error)

	// Trending returns platform-level trending products.
	Trending(ctx context.Context, shop string, limit int) ([]ProductSnapshot, error)
}

// SettingsStore is the Settings Store collaborator.
type SettingsStore interface {
	Settings(ctx context.Context, shop string) (Settings, error)
}

// TrackingStore is the Tracking Store collaborator (read side).
type TrackingStore interface {
	// Counts returns trailing impression/click counts for the given products.
	Counts(ctx context.Context, shop string, ids []string, since time.Time) (map[string]TrackingCounts, error)
}

// PerformanceReader exposes learning job output to the serving path.
type PerformanceReader interface {
	Performance(ctx context.Context, shop string, ids []string) (map[string]PerformanceRecord, error)
}

// BundleStore exposes persisted bundle state (manual, collection-scoped,
// ML-configured). Persisted bundles take precedence over dynamic composition.
type BundleStore interface {
	// BundlesForProduct returns persisted bundles targeting the product.
	BundlesForProduct(ctx context.Context, shop, productID string) ([]Bundle, error)

	// DiscountPercent returns the configured dynamic-bundle discount.
	// ok is false when no discount is configured (feature disabled, 0%).
	DiscountPercent(ctx context.Context, shop string) (pct float64, ok bool, err error)
}

// Tracker is the Tracking Sink collaborator (write side).
type Tracker interface {
	RecommendationServed(ctx context.Context, ev ServedEvent) error
}
