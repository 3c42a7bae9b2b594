// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package engine

import "sort"

// GuardrailContext carries the per-request parameters the hard filters
// need. It is read-only during filtering; the diversity collapse is
// stateful and happens at blend time, where acceptance into the final
// response is decided.
type GuardrailContext struct {
	// AnchorMedianCents is the median anchor price, 0 when unknown.
	AnchorMedianCents int64

	// NeedGapCents is the remaining free-shipping gap when a threshold is
	// active, 0 otherwise. Candidates priced below an active gap cannot
	// close it and are rejected.
	NeedGapCents int64

	// Limit is the normalized result limit.
	Limit int
}

// RejectReason classifies why a candidate failed a guardrail.
type RejectReason int

const (
	// Accepted means no guardrail rejected the candidate.
	Accepted RejectReason = iota
	// RejectedUnavailable means out of stock / not purchasable.
	RejectedUnavailable
	// RejectedBelowGap means priced below the active need-amount gap.
	RejectedBelowGap
	// RejectedPriceGap means outside the anchor price-ratio band.
	RejectedPriceGap
)

// String returns a human-readable reject reason.
func (r RejectReason) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case RejectedUnavailable:
		return "unavailable"
	case RejectedBelowGap:
		return "below_gap"
	case RejectedPriceGap:
		return "price_gap"
	default:
		return "unknown"
	}
}

// Check runs the three stateless guardrails in their short-circuit order:
// stock, need-amount gap, price-gap ratio. Failing any one excludes the
// candidate without scoring adjustment. Diversity is not checked here:
// a key is only consumed by candidates that actually reach the final
// response, so tier filtering never blocks another tier's products.
func (gc *GuardrailContext) Check(p ProductSnapshot, cfg GuardrailConfig) RejectReason {
	if !p.Available {
		return RejectedUnavailable
	}
	if gc.NeedGapCents > 0 && p.PriceCents < gc.NeedGapCents {
		return RejectedBelowGap
	}
	if gc.AnchorMedianCents > 0 {
		ratio := float64(p.PriceCents) / float64(gc.AnchorMedianCents)
		if ratio < cfg.PriceGapMin || ratio > cfg.PriceGapMax {
			return RejectedPriceGap
		}
	}
	return Accepted
}

// FilterCandidates walks candidates in score order, applying guardrails
// until the limit is filled. Candidates without a catalog snapshot are
// dropped (nothing to serve).
func FilterCandidates(scores []CandidateScore, snapshots map[string]ProductSnapshot, gc *GuardrailContext, cfg GuardrailConfig, tier SourceTier) []Candidate {
	accepted := make([]Candidate, 0, gc.Limit)
	for _, sc := range scores {
		if len(accepted) >= gc.Limit {
			break
		}
		p, ok := snapshots[sc.ProductID]
		if !ok {
			continue
		}
		if gc.Check(p, cfg) != Accepted {
			continue
		}
		accepted = append(accepted, Candidate{Product: p, Score: sc.Final, Tier: tier})
	}
	return accepted
}

// FilterSnapshots applies the same guardrails to an already-ordered snapshot
// list (manual and trending tiers have no association scores).
func FilterSnapshots(products []ProductSnapshot, gc *GuardrailContext, cfg GuardrailConfig, tier SourceTier) []Candidate {
	accepted := make([]Candidate, 0, gc.Limit)
	for _, p := range products {
		if len(accepted) >= gc.Limit {
			break
		}
		if gc.Check(p, cfg) != Accepted {
			continue
		}
		accepted = append(accepted, Candidate{Product: p, Tier: tier})
	}
	return accepted
}

// AnchorMedianCents computes the median price of the anchor snapshots.
// Returns 0 when no anchor prices are known, which disables the price-gap
// guardrail.
func AnchorMedianCents(anchors []ProductSnapshot) int64 {
	prices := make([]int64, 0, len(anchors))
	for _, a := range anchors {
		if a.PriceCents > 0 {
			prices = append(prices, a.PriceCents)
		}
	}
	if len(prices) == 0 {
		return 0
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	mid := len(prices) / 2
	if len(prices)%2 == 1 {
		return prices[mid]
	}
	return (prices[mid-1] + prices[mid]) / 2
}
