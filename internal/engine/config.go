// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package engine

import (
	"fmt"
	"time"
)

// Config contains all tunables for the recommendation engine.
type Config struct {
	// Mining contains association mining parameters.
	Mining MiningConfig `json:"mining" koanf:"mining"`

	// Scoring contains lift/popularity/CTR scoring parameters.
	Scoring ScoringConfig `json:"scoring" koanf:"scoring"`

	// Guardrails contains hard-filter parameters.
	Guardrails GuardrailConfig `json:"guardrails" koanf:"guardrails"`

	// Blend contains source blending parameters.
	Blend BlendConfig `json:"blend" koanf:"blend"`

	// Limits contains operational limits.
	Limits LimitsConfig `json:"limits" koanf:"limits"`

	// CacheTTL is the response cache time-to-live.
	CacheTTL time.Duration `json:"cache_ttl" koanf:"cache_ttl"`

	// UpstreamTimeout bounds every external collaborator call made while
	// serving a single request.
	UpstreamTimeout time.Duration `json:"upstream_timeout" koanf:"upstream_timeout"`
}

// MiningConfig contains association mining parameters.
type MiningConfig struct {
	// HalfLifeDays is the decay half-life: an order this old contributes
	// half the weight of one placed today.
	HalfLifeDays float64 `json:"half_life_days" koanf:"half_life_days" validate:"gt=0"`

	// LookbackDays bounds order age.
	LookbackDays int `json:"lookback_days" koanf:"lookback_days" validate:"gt=0"`

	// MaxOrders caps orders fetched per request for latency.
	MaxOrders int `json:"max_orders" koanf:"max_orders" validate:"gt=0"`
}

// ScoringConfig contains candidate scoring parameters.
type ScoringConfig struct {
	// LiftCap bounds runaway lift for rare products before normalization.
	LiftCap float64 `json:"lift_cap" koanf:"lift_cap" validate:"gt=0"`

	// LiftWeight and PopularityWeight blend the normalized signals into the
	// base score. They should sum to 1.
	LiftWeight       float64 `json:"lift_weight" koanf:"lift_weight"`
	PopularityWeight float64 `json:"popularity_weight" koanf:"popularity_weight"`

	// PopularityBand normalizes appearance mass against the top-N%-mass
	// band (0.05 = top 5%).
	PopularityBand float64 `json:"popularity_band" koanf:"popularity_band" validate:"gt=0"`

	// CTRWindowDays is the trailing window for impression/click counts.
	CTRWindowDays int `json:"ctr_window_days" koanf:"ctr_window_days" validate:"gt=0"`

	// CTRBaseline is the assumed click rate with no data.
	CTRBaseline float64 `json:"ctr_baseline" koanf:"ctr_baseline"`

	// CTRAlpha and CTRBeta are the Laplace smoothing priors:
	// ctr = (clicks + alpha) / (impressions + beta).
	CTRAlpha float64 `json:"ctr_alpha" koanf:"ctr_alpha"`
	CTRBeta  float64 `json:"ctr_beta" koanf:"ctr_beta"`

	// CTRSlope scales the CTR delta into the multiplier.
	CTRSlope float64 `json:"ctr_slope" koanf:"ctr_slope"`

	// CTRMinMultiplier and CTRMaxMultiplier clamp the multiplier.
	CTRMinMultiplier float64 `json:"ctr_min_multiplier" koanf:"ctr_min_multiplier"`
	CTRMaxMultiplier float64 `json:"ctr_max_multiplier" koanf:"ctr_max_multiplier"`

	// HighConfidence and LowConfidence are the performance-record bounds
	// beyond which scores are boosted or suppressed.
	HighConfidence float64 `json:"high_confidence" koanf:"high_confidence"`
	LowConfidence  float64 `json:"low_confidence" koanf:"low_confidence"`

	// ConfidenceBoost multiplies scores of high-confidence products.
	ConfidenceBoost float64 `json:"confidence_boost" koanf:"confidence_boost"`

	// ConfidencePenalty multiplies scores of low-confidence products.
	ConfidencePenalty float64 `json:"confidence_penalty" koanf:"confidence_penalty"`
}

// GuardrailConfig contains hard-filter parameters.
type GuardrailConfig struct {
	// PriceGapMin and PriceGapMax bound candidate_price / anchor_median.
	// Defaults [0.5, 2.0] prevent mismatched-tier suggestions.
	PriceGapMin float64 `json:"price_gap_min" koanf:"price_gap_min" validate:"gt=0"`
	PriceGapMax float64 `json:"price_gap_max" koanf:"price_gap_max" validate:"gt=0"`
}

// BlendConfig contains source blending parameters.
type BlendConfig struct {
	// ColdStartOrderThreshold triggers the cold-start mix when the eligible
	// order count falls below it.
	ColdStartOrderThreshold int `json:"cold_start_order_threshold" koanf:"cold_start_order_threshold" validate:"gte=0"`

	// ColdStartTrendingRatio is the share of remaining slots filled from
	// trending during cold start; the rest comes from whatever statistical
	// candidates exist.
	ColdStartTrendingRatio float64 `json:"cold_start_trending_ratio" koanf:"cold_start_trending_ratio" validate:"gte=0,lte=1"`
}

// LimitsConfig contains operational limits.
type LimitsConfig struct {
	// DefaultLimit is used when the request does not specify one.
	DefaultLimit int `json:"default_limit" koanf:"default_limit" validate:"gt=0"`

	// HardCap is the absolute maximum result size.
	HardCap int `json:"hard_cap" koanf:"hard_cap" validate:"gt=0"`

	// CandidateFetch is how many top statistical candidates get catalog,
	// tracking, and performance lookups (one batched call each).
	CandidateFetch int `json:"candidate_fetch" koanf:"candidate_fetch" validate:"gt=0"`
}

// DefaultConfig returns the documented engine defaults.
func DefaultConfig() *Config {
	return &Config{
		Mining: MiningConfig{
			HalfLifeDays: 60,
			LookbackDays: 90,
			MaxOrders:    200,
		},
		Scoring: ScoringConfig{
			LiftCap:           2.0,
			LiftWeight:        0.6,
			PopularityWeight:  0.4,
			PopularityBand:    0.05,
			CTRWindowDays:     14,
			CTRBaseline:       0.05,
			CTRAlpha:          1,
			CTRBeta:           20,
			CTRSlope:          0.35,
			CTRMinMultiplier:  0.85,
			CTRMaxMultiplier:  1.25,
			HighConfidence:    0.7,
			LowConfidence:     0.3,
			ConfidenceBoost:   1.3,
			ConfidencePenalty: 0.7,
		},
		Guardrails: GuardrailConfig{
			PriceGapMin: 0.5,
			PriceGapMax: 2.0,
		},
		Blend: BlendConfig{
			ColdStartOrderThreshold: 50,
			ColdStartTrendingRatio:  0.7,
		},
		Limits: LimitsConfig{
			DefaultLimit:   6,
			HardCap:        12,
			CandidateFetch: 24,
		},
		CacheTTL:        60 * time.Second,
		UpstreamTimeout: 2 * time.Second,
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Mining.HalfLifeDays <= 0 {
		return fmt.Errorf("mining.half_life_days must be positive, got %v", c.Mining.HalfLifeDays)
	}
	if c.Mining.LookbackDays <= 0 {
		return fmt.Errorf("mining.lookback_days must be positive, got %d", c.Mining.LookbackDays)
	}
	if c.Mining.MaxOrders <= 0 {
		return fmt.Errorf("mining.max_orders must be positive, got %d", c.Mining.MaxOrders)
	}
	if c.Scoring.LiftCap <= 0 {
		return fmt.Errorf("scoring.lift_cap must be positive, got %v", c.Scoring.LiftCap)
	}
	if c.Scoring.PopularityBand <= 0 || c.Scoring.PopularityBand > 1 {
		return fmt.Errorf("scoring.popularity_band must be in (0, 1], got %v", c.Scoring.PopularityBand)
	}
	if c.Scoring.CTRMinMultiplier > c.Scoring.CTRMaxMultiplier {
		return fmt.Errorf("scoring ctr multiplier bounds inverted: min %v > max %v",
			c.Scoring.CTRMinMultiplier, c.Scoring.CTRMaxMultiplier)
	}
	if c.Guardrails.PriceGapMin <= 0 || c.Guardrails.PriceGapMax < c.Guardrails.PriceGapMin {
		return fmt.Errorf("guardrails price gap bounds invalid: [%v, %v]",
			c.Guardrails.PriceGapMin, c.Guardrails.PriceGapMax)
	}
	if c.Blend.ColdStartTrendingRatio < 0 || c.Blend.ColdStartTrendingRatio > 1 {
		return fmt.Errorf("blend.cold_start_trending_ratio must be in [0, 1], got %v",
			c.Blend.ColdStartTrendingRatio)
	}
	if c.Limits.DefaultLimit <= 0 || c.Limits.HardCap <= 0 {
		return fmt.Errorf("limits must be positive: default %d, hard cap %d",
			c.Limits.DefaultLimit, c.Limits.HardCap)
	}
	if c.Limits.DefaultLimit > c.Limits.HardCap {
		return fmt.Errorf("limits.default_limit %d exceeds hard cap %d",
			c.Limits.DefaultLimit, c.Limits.HardCap)
	}
	if c.Limits.CandidateFetch < c.Limits.HardCap {
		return fmt.Errorf("limits.candidate_fetch %d must be >= hard cap %d",
			c.Limits.CandidateFetch, c.Limits.HardCap)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must not be negative, got %v", c.CacheTTL)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream_timeout must be positive, got %v", c.UpstreamTimeout)
	}
	return nil
}

// ClampLimit normalizes a requested limit into [1, HardCap], applying the
// default when unset. Out-of-range values are clamped, not rejected.
func (c *Config) ClampLimit(requested int) int {
	if requested <= 0 {
		requested = c.Limits.DefaultLimit
	}
	if requested > c.Limits.HardCap {
		requested = c.Limits.HardCap
	}
	return requested
}
