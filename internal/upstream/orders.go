// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package upstream

import (
	"context"
	"net/url"
	"strconv"

	"github.com/cartloom/cartloom/internal/engine"
)

// OrdersClient talks to the Order History Service. Orders are read-only
// input to association mining; the engine never writes them.
type OrdersClient struct {
	*client
}

// NewOrdersClient builds an Order History Service client.
func NewOrdersClient(cfg ServiceConfig) *OrdersClient {
	return &OrdersClient{client: newClient("orders", cfg)}
}

var _ engine.OrderHistory = (*OrdersClient)(nil)

type ordersResponse struct {
	Orders []engine.Order `json:"orders"`
}

// RecentOrders returns up to maxCount orders no older than maxAgeDays,
// newest first.
func (c *OrdersClient) RecentOrders(ctx context.Context, shop string, maxCount, maxAgeDays int) ([]engine.Order, error) {
	q := url.Values{
		"shop":         {shop},
		"limit":        {strconv.Itoa(maxCount)},
		"max_age_days": {strconv.Itoa(maxAgeDays)},
	}
	var resp ordersResponse
	if err := c.getJSON(ctx, "recent_orders", "/v1/orders/recent", q, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}
