// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package upstream

import (
	"context"
	"net/url"

	"github.com/cartloom/cartloom/internal/engine"
)

// SettingsClient talks to the Settings Store. It covers both per-shop
// engine settings and persisted bundle configuration; the engine only ever
// reads this state.
type SettingsClient struct {
	*client
}

// NewSettingsClient builds a Settings Store client.
func NewSettingsClient(cfg ServiceConfig) *SettingsClient {
	return &SettingsClient{client: newClient("settings", cfg)}
}

var (
	_ engine.SettingsStore = (*SettingsClient)(nil)
	_ engine.BundleStore   = (*SettingsClient)(nil)
)

// Settings returns the shop's engine settings.
func (c *SettingsClient) Settings(ctx context.Context, shop string) (engine.Settings, error) {
	q := url.Values{"shop": {shop}}
	var settings engine.Settings
	if err := c.getJSON(ctx, "settings", "/v1/settings", q, &settings); err != nil {
		return engine.Settings{}, err
	}
	return settings, nil
}

type bundlesForProductResponse struct {
	Bundles []engine.Bundle `json:"bundles"`
}

// BundlesForProduct returns persisted bundles targeting the product.
func (c *SettingsClient) BundlesForProduct(ctx context.Context, shop, productID string) ([]engine.Bundle, error) {
	q := url.Values{
		"shop":       {shop},
		"product_id": {productID},
	}
	var resp bundlesForProductResponse
	if err := c.getJSON(ctx, "bundles_for_product", "/v1/bundles", q, &resp); err != nil {
		return nil, err
	}
	return resp.Bundles, nil
}

type discountResponse struct {
	Configured      bool    `json:"configured"`
	DiscountPercent float64 `json:"discount_percent"`
}

// DiscountPercent returns the configured dynamic-bundle discount. ok is
// false when no discount is configured for the shop.
func (c *SettingsClient) DiscountPercent(ctx context.Context, shop string) (float64, bool, error) {
	q := url.Values{"shop": {shop}}
	var resp discountResponse
	if err := c.getJSON(ctx, "discount_percent", "/v1/bundles/discount", q, &resp); err != nil {
		return 0, false, err
	}
	return resp.DiscountPercent, resp.Configured, nil
}
