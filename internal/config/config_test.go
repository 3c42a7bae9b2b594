// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8370 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Engine.Mining.HalfLifeDays != 60 {
		t.Errorf("HalfLifeDays = %v", cfg.Engine.Mining.HalfLifeDays)
	}
	if cfg.Scheduler.Interval != 24*time.Hour {
		t.Errorf("Scheduler.Interval = %v", cfg.Scheduler.Interval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CARTLOOM_SERVER_PORT", "9000")
	t.Setenv("CARTLOOM_LOGGING_LEVEL", "debug")
	t.Setenv("CARTLOOM_UPSTREAM_CATALOG_BASE_URL", "http://catalog.internal:8080")
	t.Setenv("CARTLOOM_SCHEDULER_SHOPS", "shop-a.example.com, shop-b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
	if cfg.Upstream.Catalog.BaseURL != "http://catalog.internal:8080" {
		t.Errorf("Catalog.BaseURL = %q", cfg.Upstream.Catalog.BaseURL)
	}
	if len(cfg.Scheduler.Shops) != 2 || cfg.Scheduler.Shops[1] != "shop-b.example.com" {
		t.Errorf("Shops = %v", cfg.Scheduler.Shops)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cartloom.yaml")
	yaml := `
server:
  port: 9100
engine:
  limits:
    default_limit: 8
store:
  path: /tmp/cartloom-test
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Engine.Limits.DefaultLimit != 8 {
		t.Errorf("DefaultLimit = %d", cfg.Engine.Limits.DefaultLimit)
	}
	if cfg.Store.Path != "/tmp/cartloom-test" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	// Untouched sections keep defaults.
	if cfg.Engine.Scoring.LiftWeight != 0.6 {
		t.Errorf("LiftWeight = %v", cfg.Engine.Scoring.LiftWeight)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cartloom.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9100\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("CARTLOOM_SERVER_PORT", "9200")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("Port = %d, env must win over file", cfg.Server.Port)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("port 0 must fail validation")
	}
}

func TestEnvTransform(t *testing.T) {
	cases := map[string]string{
		"CARTLOOM_SERVER_PORT":               "server.port",
		"CARTLOOM_LOGGING_LEVEL":             "logging.level",
		"CARTLOOM_SERVER_READ_TIMEOUT":       "server.read_timeout",
		"CARTLOOM_UPSTREAM_CATALOG_BASE_URL": "upstream.catalog.base_url",
		"CARTLOOM_UPSTREAM_ORDERS_API_KEY":   "upstream.orders.api_key",
	}
	for in, want := range cases {
		if got := envTransform(in); got != want {
			t.Errorf("envTransform(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestListenAddr(t *testing.T) {
	cfg := Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8370
	if cfg.ListenAddr() != "127.0.0.1:8370" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr())
	}
}
