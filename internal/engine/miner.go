// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package engine

import (
	"math"
	"sort"
	"time"
)

// BuildAssociationGraph mines a decayed co-occurrence model from recent
// orders. It is a pure function: same orders, same reference time, same
// graph.
//
// Each order with at least two distinct products contributes
//
//	w = exp(-ln2 * age_days / half_life_days)
//
// to the appearance mass of every distinct product in it (once per order,
// regardless of quantity) and to the symmetric co-occurrence weight of every
// unordered product pair. Single-item orders count toward EligibleOrders but
// carry no association signal.
//
// Orders dated in the future are treated as age zero rather than amplified.
func BuildAssociationGraph(orders []Order, now time.Time, halfLifeDays float64) AssociationGraph {
	g := AssociationGraph{
		Appearances:  make(map[string]float64),
		Cooccurrence: make(map[string]map[string]float64),
	}
	if halfLifeDays <= 0 {
		halfLifeDays = 60
	}

	for _, order := range orders {
		g.EligibleOrders++

		products := distinctProducts(order)
		if len(products) < 2 {
			continue
		}

		ageDays := now.Sub(order.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		w := math.Exp(-math.Ln2 * ageDays / halfLifeDays)

		g.MultiItemOrders++
		g.TotalMass += w

		for _, p := range products {
			g.Appearances[p] += w
		}
		for i := 0; i < len(products); i++ {
			for j := i + 1; j < len(products); j++ {
				g.addPair(products[i], products[j], w)
			}
		}
	}

	return g
}

// addPair accumulates a symmetric co-occurrence weight.
func (g *AssociationGraph) addPair(a, b string, w float64) {
	if g.Cooccurrence[a] == nil {
		g.Cooccurrence[a] = make(map[string]float64)
	}
	if g.Cooccurrence[b] == nil {
		g.Cooccurrence[b] = make(map[string]float64)
	}
	g.Cooccurrence[a][b] += w
	g.Cooccurrence[b][a] += w
}

// CooccurringWith returns the products co-occurring with the given anchor,
// sorted by id so downstream scoring is reproducible across runs.
func (g AssociationGraph) CooccurringWith(anchor string) []string {
	neighbors := g.Cooccurrence[anchor]
	if len(neighbors) == 0 {
		return nil
	}
	ids := make([]string, 0, len(neighbors))
	for id := range neighbors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// distinctProducts collapses duplicate line items for the same product into
// a single appearance, so an order can never pair a product with itself.
func distinctProducts(order Order) []string {
	seen := make(map[string]struct{}, len(order.Items))
	products := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		if item.ProductID == "" {
			continue
		}
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		products = append(products, item.ProductID)
	}
	return products
}
