// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package engine

import "testing"

func TestComposeBundlePricing(t *testing.T) {
	anchor := snapshot("prod-anchor", 4000)
	complements := []ProductSnapshot{
		snapshot("prod-b", 3000),
		snapshot("prod-c", 3000),
	}

	b := ComposeBundle("bundle-1", "Anchor Bundle", anchor, complements, 15)
	if b.RegularTotal != 10000 {
		t.Errorf("RegularTotal = %d, want 10000", b.RegularTotal)
	}
	if b.BundlePrice != 8500 {
		t.Errorf("BundlePrice = %d, want 8500", b.BundlePrice)
	}
	if b.SavingsAmount != 1500 {
		t.Errorf("SavingsAmount = %d, want 1500", b.SavingsAmount)
	}
	if len(b.Products) != 3 || b.Products[0].ID != "prod-anchor" {
		t.Errorf("Products = %+v", b.Products)
	}
}

func TestComposeBundleRoundsHalfUp(t *testing.T) {
	// 999 * 0.85 = 849.15, rounds to 849.
	b := ComposeBundle("bundle-1", "B", snapshot("a", 999), nil, 15)
	if b.BundlePrice != 849 {
		t.Errorf("BundlePrice = %d, want 849", b.BundlePrice)
	}
	if b.SavingsAmount != 150 {
		t.Errorf("SavingsAmount = %d, want 150", b.SavingsAmount)
	}

	// 333 * 0.875 = 291.375, rounds to 291; 12.5% exercises fractional
	// basis points.
	b = ComposeBundle("bundle-2", "B", snapshot("a", 333), nil, 12.5)
	if b.BundlePrice != 291 {
		t.Errorf("BundlePrice = %d, want 291", b.BundlePrice)
	}
}

func TestComposeBundleNoDiscount(t *testing.T) {
	b := ComposeBundle("bundle-1", "B", snapshot("a", 5000), []ProductSnapshot{snapshot("b", 2500)}, 0)
	if b.BundlePrice != 7500 || b.SavingsAmount != 0 {
		t.Errorf("price/savings = %d/%d, want 7500/0", b.BundlePrice, b.SavingsAmount)
	}

	b = ComposeBundle("bundle-2", "B", snapshot("a", 5000), nil, -10)
	if b.BundlePrice != 5000 || b.SavingsAmount != 0 {
		t.Errorf("negative pct: price/savings = %d/%d, want 5000/0", b.BundlePrice, b.SavingsAmount)
	}
}

func TestComposeBundleOverfullDiscountClamps(t *testing.T) {
	b := ComposeBundle("bundle-1", "B", snapshot("a", 5000), nil, 150)
	if b.BundlePrice != 0 {
		t.Errorf("BundlePrice = %d, want 0 (free, never negative)", b.BundlePrice)
	}
	if b.SavingsAmount != 5000 {
		t.Errorf("SavingsAmount = %d, want 5000", b.SavingsAmount)
	}
}

func TestComposeBundleCapsComplements(t *testing.T) {
	complements := []ProductSnapshot{
		snapshot("b", 100), snapshot("c", 100), snapshot("d", 100), snapshot("e", 100),
	}
	b := ComposeBundle("bundle-1", "B", snapshot("a", 100), complements, 0)
	if len(b.Products) != 4 {
		t.Errorf("Products = %d, want anchor + 3", len(b.Products))
	}
	if b.RegularTotal != 400 {
		t.Errorf("RegularTotal = %d, want 400", b.RegularTotal)
	}
}

func TestSelectComplements(t *testing.T) {
	scores := []CandidateScore{
		{ProductID: "prod-anchor", Final: 1.0},
		{ProductID: "prod-missing", Final: 0.9},
		{ProductID: "prod-out", Final: 0.8},
		{ProductID: "prod-sub", Final: 0.7},
		{ProductID: "prod-ok1", Final: 0.6},
		{ProductID: "prod-ok2", Final: 0.5},
		{ProductID: "prod-ok3", Final: 0.4},
	}
	out := snapshot("prod-out", 1000)
	out.Available = false
	sub := snapshot("prod-sub", 1000)
	sub.SubscriptionOnly = true
	snapshots := map[string]ProductSnapshot{
		"prod-anchor": snapshot("prod-anchor", 1000),
		"prod-out":    out,
		"prod-sub":    sub,
		"prod-ok1":    snapshot("prod-ok1", 1000),
		"prod-ok2":    snapshot("prod-ok2", 1000),
		"prod-ok3":    snapshot("prod-ok3", 1000),
	}

	picked := SelectComplements(scores, snapshots, "prod-anchor", 2)
	if len(picked) != 2 || picked[0].ID != "prod-ok1" || picked[1].ID != "prod-ok2" {
		t.Errorf("picked = %+v", picked)
	}
}

func TestSelectComplementsDefaultMax(t *testing.T) {
	scores := []CandidateScore{
		{ProductID: "prod-1"}, {ProductID: "prod-2"}, {ProductID: "prod-3"},
	}
	snapshots := map[string]ProductSnapshot{
		"prod-1": snapshot("prod-1", 100),
		"prod-2": snapshot("prod-2", 100),
		"prod-3": snapshot("prod-3", 100),
	}
	picked := SelectComplements(scores, snapshots, "prod-anchor", 0)
	if len(picked) != 2 {
		t.Errorf("default max should pick 2, got %d", len(picked))
	}
}

func TestFallbackComplements(t *testing.T) {
	out := snapshot("prod-out", 1000)
	out.Available = false
	sample := []ProductSnapshot{
		snapshot("prod-anchor", 1000),
		out,
		snapshot("prod-a", 1000),
		snapshot("prod-b", 1000),
		snapshot("prod-c", 1000),
	}
	picked := FallbackComplements(sample, "prod-anchor", 2)
	if len(picked) != 2 || picked[0].ID != "prod-a" || picked[1].ID != "prod-b" {
		t.Errorf("picked = %+v", picked)
	}
}
