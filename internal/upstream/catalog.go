// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package upstream

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/cartloom/cartloom/internal/engine"
)

// CatalogClient talks to the Catalog Service. It batches product lookups by
// id list; the engine never issues per-product calls.
type CatalogClient struct {
	*client
}

// NewCatalogClient builds a Catalog Service client.
func NewCatalogClient(cfg ServiceConfig) *CatalogClient {
	return &CatalogClient{client: newClient("catalog", cfg)}
}

var _ engine.Catalog = (*CatalogClient)(nil)

type productsResponse struct {
	Products []engine.ProductSnapshot `json:"products"`
}

// ProductsByIDs returns snapshots for the given ids. Unknown ids are
// silently omitted from the response.
func (c *CatalogClient) ProductsByIDs(ctx context.Context, shop string, ids []string) ([]engine.ProductSnapshot, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := url.Values{
		"shop": {shop},
		"ids":  {strings.Join(ids, ",")},
	}
	var resp productsResponse
	if err := c.getJSON(ctx, "products_by_ids", "/v1/products", q, &resp); err != nil {
		return nil, err
	}
	return resp.Products, nil
}

// SampleProducts returns a catalog sample for bundle fallback.
func (c *CatalogClient) SampleProducts(ctx context.Context, shop string, limit int) ([]engine.ProductSnapshot, error) {
	q := url.Values{
		"shop":  {shop},
		"limit": {strconv.Itoa(limit)},
	}
	var resp productsResponse
	if err := c.getJSON(ctx, "sample_products", "/v1/products/sample", q, &resp); err != nil {
		return nil, err
	}
	return resp.Products, nil
}

// Similar returns content-similar products for a given anchor.
func (c *CatalogClient) Similar(ctx context.Context, shop, productID string, limit int) ([]engine.ProductSnapshot, error) {
	q := url.Values{
		"shop":  {shop},
		"limit": {strconv.Itoa(limit)},
	}
	var resp productsResponse
	path := "/v1/products/" + url.PathEscape(productID) + "/similar"
	if err := c.getJSON(ctx, "similar", path, q, &resp); err != nil {
		return nil, err
	}
	return resp.Products, nil
}

// Trending returns platform-level trending products for the shop.
func (c *CatalogClient) Trending(ctx context.Context, shop string, limit int) ([]engine.ProductSnapshot, error) {
	q := url.Values{
		"shop":  {shop},
		"limit": {strconv.Itoa(limit)},
	}
	var resp productsResponse
	if err := c.getJSON(ctx, "trending", "/v1/products/trending", q, &resp); err != nil {
		return nil, err
	}
	return resp.Products, nil
}
