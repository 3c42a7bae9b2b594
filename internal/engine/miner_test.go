// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package engine

import (
	"math"
	"testing"
	"time"
)

var miningNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func orderAt(id string, age time.Duration, productIDs ...string) Order {
	items := make([]LineItem, 0, len(productIDs))
	for _, p := range productIDs {
		items = append(items, LineItem{ProductID: p, Quantity: 1, PriceCents: 1000})
	}
	return Order{ID: id, CreatedAt: miningNow.Add(-age), Items: items}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestBuildAssociationGraphDecay(t *testing.T) {
	orders := []Order{
		orderAt("ord-1", 0, "prod-a", "prod-b"),
		orderAt("ord-2", 60*24*time.Hour, "prod-a", "prod-b"),
	}
	g := BuildAssociationGraph(orders, miningNow, 60)

	// A fresh order contributes weight 1; one exactly a half-life old
	// contributes 0.5.
	if !almostEqual(g.TotalMass, 1.5) {
		t.Errorf("TotalMass = %v, want 1.5", g.TotalMass)
	}
	if !almostEqual(g.Appearances["prod-a"], 1.5) {
		t.Errorf("Appearances[prod-a] = %v, want 1.5", g.Appearances["prod-a"])
	}
	if !almostEqual(g.Cooccurrence["prod-a"]["prod-b"], 1.5) {
		t.Errorf("Cooccurrence[a][b] = %v, want 1.5", g.Cooccurrence["prod-a"]["prod-b"])
	}
	if g.MultiItemOrders != 2 || g.EligibleOrders != 2 {
		t.Errorf("order counts = %d/%d, want 2/2", g.MultiItemOrders, g.EligibleOrders)
	}
}

func TestBuildAssociationGraphSymmetry(t *testing.T) {
	orders := []Order{orderAt("ord-1", 24*time.Hour, "prod-a", "prod-b", "prod-c")}
	g := BuildAssociationGraph(orders, miningNow, 60)

	pairs := [][2]string{{"prod-a", "prod-b"}, {"prod-a", "prod-c"}, {"prod-b", "prod-c"}}
	for _, pair := range pairs {
		ab := g.Cooccurrence[pair[0]][pair[1]]
		ba := g.Cooccurrence[pair[1]][pair[0]]
		if ab <= 0 || !almostEqual(ab, ba) {
			t.Errorf("pair %v asymmetric: %v vs %v", pair, ab, ba)
		}
	}
}

func TestBuildAssociationGraphSingleItemOrders(t *testing.T) {
	orders := []Order{
		orderAt("ord-1", 0, "prod-a"),
		orderAt("ord-2", 0, "prod-b"),
	}
	g := BuildAssociationGraph(orders, miningNow, 60)

	if g.EligibleOrders != 2 {
		t.Errorf("EligibleOrders = %d, want 2", g.EligibleOrders)
	}
	if g.MultiItemOrders != 0 || g.TotalMass != 0 {
		t.Errorf("single-item orders must carry no mass: multi=%d mass=%v", g.MultiItemOrders, g.TotalMass)
	}
	if !g.Empty() {
		t.Error("graph without pairs must be empty")
	}
}

func TestBuildAssociationGraphDuplicateLineItems(t *testing.T) {
	// Two line items for the same product (e.g. variants) must not pair the
	// product with itself or double its appearance mass.
	order := Order{ID: "ord-1", CreatedAt: miningNow, Items: []LineItem{
		{ProductID: "prod-a", Quantity: 1},
		{ProductID: "prod-a", Quantity: 3},
		{ProductID: "prod-b", Quantity: 1},
	}}
	g := BuildAssociationGraph([]Order{order}, miningNow, 60)

	if !almostEqual(g.Appearances["prod-a"], 1) {
		t.Errorf("Appearances[prod-a] = %v, want 1", g.Appearances["prod-a"])
	}
	if _, ok := g.Cooccurrence["prod-a"]["prod-a"]; ok {
		t.Error("product must never co-occur with itself")
	}
}

func TestBuildAssociationGraphFutureOrder(t *testing.T) {
	// Clock skew can date an order in the future; it must count as age zero
	// rather than being amplified above weight 1.
	orders := []Order{orderAt("ord-1", -48*time.Hour, "prod-a", "prod-b")}
	g := BuildAssociationGraph(orders, miningNow, 60)

	if !almostEqual(g.TotalMass, 1) {
		t.Errorf("TotalMass = %v, want 1", g.TotalMass)
	}
}

func TestBuildAssociationGraphIgnoresEmptyProductIDs(t *testing.T) {
	order := Order{ID: "ord-1", CreatedAt: miningNow, Items: []LineItem{
		{ProductID: "", Quantity: 1},
		{ProductID: "prod-a", Quantity: 1},
	}}
	g := BuildAssociationGraph([]Order{order}, miningNow, 60)

	if g.MultiItemOrders != 0 {
		t.Errorf("MultiItemOrders = %d, want 0", g.MultiItemOrders)
	}
	if _, ok := g.Appearances[""]; ok {
		t.Error("empty product id must not appear in the graph")
	}
}

func TestCooccurringWithSorted(t *testing.T) {
	orders := []Order{
		orderAt("ord-1", 0, "prod-a", "prod-z"),
		orderAt("ord-2", 0, "prod-a", "prod-b"),
		orderAt("ord-3", 0, "prod-a", "prod-m"),
	}
	g := BuildAssociationGraph(orders, miningNow, 60)

	got := g.CooccurringWith("prod-a")
	want := []string{"prod-b", "prod-m", "prod-z"}
	if len(got) != len(want) {
		t.Fatalf("CooccurringWith = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("CooccurringWith = %v, want %v", got, want)
		}
	}
	if g.CooccurringWith("prod-unknown") != nil {
		t.Error("unknown anchor must return nil")
	}
}

func TestBuildAssociationGraphDeterministic(t *testing.T) {
	orders := []Order{
		orderAt("ord-1", 10*24*time.Hour, "prod-a", "prod-b", "prod-c"),
		orderAt("ord-2", 40*24*time.Hour, "prod-b", "prod-d"),
	}
	g1 := BuildAssociationGraph(orders, miningNow, 60)
	g2 := BuildAssociationGraph(orders, miningNow, 60)

	if !almostEqual(g1.TotalMass, g2.TotalMass) {
		t.Errorf("TotalMass differs across runs: %v vs %v", g1.TotalMass, g2.TotalMass)
	}
	for id, w := range g1.Appearances {
		if !almostEqual(w, g2.Appearances[id]) {
			t.Errorf("Appearances[%s] differs: %v vs %v", id, w, g2.Appearances[id])
		}
	}
}
