// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package engine

// maxBundleComplements bounds a dynamic bundle to anchor + 3 products.
const maxBundleComplements = 3

// ComposeBundle builds a bundle from an anchor and its complements with the
// given discount percent. Pricing is computed in integer minor-currency
// units (basis points for the discount) to avoid floating-point drift:
//
//	bundle_price = round(regular_total * (1 - pct/100))
//	savings      = regular_total - bundle_price, clamped at zero
//
// The engine never invents a discount: pct comes from persisted
// configuration or is zero. A misconfigured discount above 100% clamps to
// a free bundle rather than negative savings.
func ComposeBundle(id, name string, anchor ProductSnapshot, complements []ProductSnapshot, discountPct float64) Bundle {
	if len(complements) > maxBundleComplements {
		complements = complements[:maxBundleComplements]
	}

	products := make([]RecommendedProduct, 0, 1+len(complements))
	var total int64
	for _, p := range append([]ProductSnapshot{anchor}, complements...) {
		products = append(products, RecommendedProduct{
			ID:         p.ID,
			Title:      p.Title,
			Handle:     p.Handle,
			Image:      p.ImageURL,
			PriceCents: p.PriceCents,
		})
		total += p.PriceCents
	}

	bp := discountBasisPoints(discountPct)
	price := (total*(10000-bp) + 5000) / 10000
	if price < 0 {
		price = 0
	}
	savings := total - price
	if savings < 0 {
		savings = 0
	}

	return Bundle{
		ID:              id,
		Name:            name,
		Products:        products,
		RegularTotal:    total,
		BundlePrice:     price,
		DiscountPercent: discountPct,
		SavingsAmount:   savings,
	}
}

// discountBasisPoints converts a percent to clamped basis points in
// [0, 10000].
func discountBasisPoints(pct float64) int64 {
	if pct <= 0 {
		return 0
	}
	if pct >= 100 {
		return 10000
	}
	return int64(pct*100 + 0.5)
}

// SelectComplements picks up to max complements for a bundle anchor from
// scored association candidates, skipping the anchor itself, unavailable
// products, and subscription-only items.
func SelectComplements(scores []CandidateScore, snapshots map[string]ProductSnapshot, anchorID string, max int) []ProductSnapshot {
	if max <= 0 {
		max = 2
	}
	picked := make([]ProductSnapshot, 0, max)
	for _, sc := range scores {
		if len(picked) >= max {
			break
		}
		if sc.ProductID == anchorID {
			continue
		}
		p, ok := snapshots[sc.ProductID]
		if !ok || !p.Available || p.SubscriptionOnly {
			continue
		}
		picked = append(picked, p)
	}
	return picked
}

// FallbackComplements picks complements from a catalog sample when no
// association data exists for the anchor. The sample already excludes
// subscription-only items upstream; unavailable products and the anchor are
// still filtered here.
func FallbackComplements(sample []ProductSnapshot, anchorID string, max int) []ProductSnapshot {
	if max <= 0 {
		max = 2
	}
	picked := make([]ProductSnapshot, 0, max)
	for _, p := range sample {
		if len(picked) >= max {
			break
		}
		if p.ID == anchorID || !p.Available || p.SubscriptionOnly {
			continue
		}
		picked = append(picked, p)
	}
	return picked
}
