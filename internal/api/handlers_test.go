// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/cartloom/cartloom/internal/engine"
	"github.com/cartloom/cartloom/internal/learning"
	"github.com/cartloom/cartloom/internal/store"
)

type fakeRecommender struct {
	lastRequest engine.Request
	lastBundle  engine.BundleRequest
	response    *engine.Response
	bundles     *engine.BundlesResponse
	err         error
}

func (f *fakeRecommender) Recommend(_ context.Context, req engine.Request) (*engine.Response, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	if f.response != nil {
		return f.response, nil
	}
	return &engine.Response{}, nil
}

func (f *fakeRecommender) Bundles(_ context.Context, req engine.BundleRequest) (*engine.BundlesResponse, error) {
	f.lastBundle = req
	if f.err != nil {
		return nil, f.err
	}
	if f.bundles != nil {
		return f.bundles, nil
	}
	return &engine.BundlesResponse{}, nil
}

type fakeRunner struct {
	run store.JobRun
	err error
}

func (f *fakeRunner) Run(_ context.Context, shop string) (store.JobRun, error) {
	f.run.Shop = shop
	return f.run, f.err
}

type fakeHistory struct {
	runs    []store.JobRun
	records []engine.PerformanceRecord
	err     error
}

func (f *fakeHistory) Runs(_ context.Context, _ string, _ int) ([]store.JobRun, error) {
	return f.runs, f.err
}

func (f *fakeHistory) AllPerformance(_ context.Context, _ string) ([]engine.PerformanceRecord, error) {
	return f.records, f.err
}

func newTestServer(rec *fakeRecommender, runner *fakeRunner, history *fakeHistory) *httptest.Server {
	handler := NewHandler(rec, runner, history)
	cfg := DefaultRouterConfig()
	cfg.RateLimitDisabled = true
	return httptest.NewServer(NewRouter(cfg, handler).Setup())
}

func TestRecommendationsGet(t *testing.T) {
	rec := &fakeRecommender{response: &engine.Response{
		Products: []engine.RecommendedProduct{{ID: "prod-2", Title: "Gadget"}},
	}}
	srv := newTestServer(rec, &fakeRunner{}, &fakeHistory{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/recommendations?shop=shop-a.example.com&anchor=prod-1&cart=prod-3,prod-4&limit=4&subtotal_cents=4500")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}

	var body engine.Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Products) != 1 || body.Products[0].ID != "prod-2" {
		t.Errorf("unexpected body: %+v", body)
	}

	got := rec.lastRequest
	if got.Shop != "shop-a.example.com" || got.AnchorProductID != "prod-1" {
		t.Errorf("request: %+v", got)
	}
	if len(got.CartProductIDs) != 2 || got.CartProductIDs[0] != "prod-3" {
		t.Errorf("cart ids: %v", got.CartProductIDs)
	}
	if got.Limit != 4 || got.SubtotalCents != 4500 {
		t.Errorf("limit/subtotal: %+v", got)
	}
	if got.RequestID == "" {
		t.Error("request id should be propagated from middleware")
	}
}

func TestRecommendationsGetMissingShop(t *testing.T) {
	srv := newTestServer(&fakeRecommender{}, &fakeRunner{}, &fakeHistory{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/recommendations?anchor=prod-1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRecommendationsPost(t *testing.T) {
	rec := &fakeRecommender{}
	srv := newTestServer(rec, &fakeRunner{}, &fakeHistory{})
	defer srv.Close()

	payload := `{"shop":"shop-a.example.com","cart_product_ids":["prod-1","prod-2"],"subtotal_cents":9900}`
	resp, err := http.Post(srv.URL+"/api/v1/recommendations", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(rec.lastRequest.CartProductIDs) != 2 {
		t.Errorf("cart ids: %v", rec.lastRequest.CartProductIDs)
	}
}

func TestRecommendationsPostInvalidBody(t *testing.T) {
	srv := newTestServer(&fakeRecommender{}, &fakeRunner{}, &fakeHistory{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/recommendations", "application/json", strings.NewReader("{nope"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRecommendationsEngineFailure(t *testing.T) {
	rec := &fakeRecommender{err: errors.New("boom")}
	srv := newTestServer(rec, &fakeRunner{}, &fakeHistory{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/recommendations?shop=shop-a.example.com")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestBundles(t *testing.T) {
	rec := &fakeRecommender{bundles: &engine.BundlesResponse{
		Bundles: []engine.Bundle{{ID: "dynamic-prod-1", Name: "Widget Bundle"}},
	}}
	srv := newTestServer(rec, &fakeRunner{}, &fakeHistory{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/bundles?shop=shop-a.example.com&product_id=prod-1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body engine.BundlesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Bundles) != 1 || body.Bundles[0].ID != "dynamic-prod-1" {
		t.Errorf("unexpected body: %+v", body)
	}
	if rec.lastBundle.ProductID != "prod-1" {
		t.Errorf("bundle request: %+v", rec.lastBundle)
	}
}

func TestLearningRun(t *testing.T) {
	runner := &fakeRunner{run: store.JobRun{ID: "run-1", Status: "completed", ProductsAnalyzed: 3}}
	srv := newTestServer(&fakeRecommender{}, runner, &fakeHistory{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/learning/run", "application/json", strings.NewReader(`{"shop":"shop-a.example.com"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var run store.JobRun
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.ID != "run-1" || run.Status != "completed" {
		t.Errorf("unexpected run: %+v", run)
	}
}

func TestLearningRunConflict(t *testing.T) {
	runner := &fakeRunner{err: learning.ErrRunInProgress}
	srv := newTestServer(&fakeRecommender{}, runner, &fakeHistory{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/learning/run", "application/json", strings.NewReader(`{"shop":"shop-a.example.com"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestLearningRuns(t *testing.T) {
	history := &fakeHistory{runs: []store.JobRun{
		{ID: "run-2", Status: "completed"},
		{ID: "run-1", Status: "failed"},
	}}
	srv := newTestServer(&fakeRecommender{}, &fakeRunner{}, history)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/learning/runs?shop=shop-a.example.com&limit=5")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Shop string         `json:"shop"`
		Runs []store.JobRun `json:"runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Runs) != 2 || body.Runs[0].ID != "run-2" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestPerformance(t *testing.T) {
	history := &fakeHistory{records: []engine.PerformanceRecord{
		{ProductID: "prod-1", Impressions: 150, IsBlacklisted: true, BlacklistReason: "low_cvr"},
	}}
	srv := newTestServer(&fakeRecommender{}, &fakeRunner{}, history)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/performance?shop=shop-a.example.com")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Records []engine.PerformanceRecord `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Records) != 1 || body.Records[0].BlacklistReason != "low_cvr" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestHealthEndpoints(t *testing.T) {
	handler := NewHandler(&fakeRecommender{}, &fakeRunner{}, &fakeHistory{})
	handler.AddReadyCheck("store", func(context.Context) error { return nil })
	cfg := DefaultRouterConfig()
	cfg.RateLimitDisabled = true
	srv := httptest.NewServer(NewRouter(cfg, handler).Setup())
	defer srv.Close()

	for _, path := range []string{"/api/v1/health/live", "/api/v1/health/ready"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
	}
}

func TestHealthReadyFailure(t *testing.T) {
	handler := NewHandler(&fakeRecommender{}, &fakeRunner{}, &fakeHistory{})
	handler.AddReadyCheck("store", func(context.Context) error { return errors.New("closed") })
	cfg := DefaultRouterConfig()
	cfg.RateLimitDisabled = true
	srv := httptest.NewServer(NewRouter(cfg, handler).Setup())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/health/ready")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestAdminRateLimitStricterThanStorefront(t *testing.T) {
	handler := NewHandler(&fakeRecommender{}, &fakeRunner{}, &fakeHistory{})
	cfg := DefaultRouterConfig()
	cfg.AdminRateLimitRequests = 2
	srv := httptest.NewServer(NewRouter(cfg, handler).Setup())
	defer srv.Close()

	adminURL := srv.URL + "/api/v1/learning/runs?shop=shop-a.example.com"
	for i := 0; i < 2; i++ {
		resp, err := http.Get(adminURL)
		if err != nil {
			t.Fatalf("GET %d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, resp.StatusCode)
		}
	}

	resp, err := http.Get(adminURL)
	if err != nil {
		t.Fatalf("GET over budget: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("over-budget admin status = %d, want 429", resp.StatusCode)
	}

	// The storefront budget is independent and far larger.
	resp, err = http.Get(srv.URL + "/api/v1/recommendations?shop=shop-a.example.com")
	if err != nil {
		t.Fatalf("GET storefront: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("storefront status = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&fakeRecommender{}, &fakeRunner{}, &fakeHistory{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
