// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

// Package config loads layered configuration with koanf: struct defaults,
// then an optional YAML file, then CARTLOOM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/cartloom/cartloom/internal/api"
	"github.com/cartloom/cartloom/internal/engine"
	"github.com/cartloom/cartloom/internal/learning"
	"github.com/cartloom/cartloom/internal/logging"
	"github.com/cartloom/cartloom/internal/supervisor"
	"github.com/cartloom/cartloom/internal/upstream"
)

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CARTLOOM_CONFIG"

// envPrefix namespaces Cartloom environment variables.
const envPrefix = "CARTLOOM_"

// defaultConfigPaths are searched in order when CARTLOOM_CONFIG is unset.
var defaultConfigPaths = []string{
	"cartloom.yaml",
	"config/cartloom.yaml",
	"/etc/cartloom/cartloom.yaml",
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	// Host to bind. Default: all interfaces.
	Host string `json:"host" koanf:"host"`

	// Port to listen on. Default: 8370.
	Port int `json:"port" koanf:"port" validate:"min=1,max=65535"`

	// ReadTimeout bounds request reads. Default: 10s.
	ReadTimeout time.Duration `json:"read_timeout" koanf:"read_timeout"`

	// WriteTimeout bounds response writes. Default: 15s.
	WriteTimeout time.Duration `json:"write_timeout" koanf:"write_timeout"`

	// ShutdownTimeout bounds graceful drain. Default: 10s.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" koanf:"shutdown_timeout"`
}

// UpstreamConfig groups the four collaborator clients.
type UpstreamConfig struct {
	Orders   upstream.ServiceConfig `json:"orders" koanf:"orders"`
	Catalog  upstream.ServiceConfig `json:"catalog" koanf:"catalog"`
	Settings upstream.ServiceConfig `json:"settings" koanf:"settings"`
	Tracking upstream.ServiceConfig `json:"tracking" koanf:"tracking"`
}

// StoreConfig holds local persistence settings.
type StoreConfig struct {
	// Path is the BadgerDB directory. Default: ./data/cartloom.
	Path string `json:"path" koanf:"path" validate:"required"`

	// InMemory runs the store without disk persistence. Intended for
	// tests and ephemeral environments.
	InMemory bool `json:"in_memory" koanf:"in_memory"`
}

// Config is the full application configuration.
type Config struct {
	Server     ServerConfig             `json:"server" koanf:"server"`
	Logging    logging.Config           `json:"logging" koanf:"logging"`
	Engine     engine.Config            `json:"engine" koanf:"engine"`
	API        api.RouterConfig         `json:"api" koanf:"api"`
	Upstream   UpstreamConfig           `json:"upstream" koanf:"upstream"`
	Store      StoreConfig              `json:"store" koanf:"store"`
	Learning   learning.Config          `json:"learning" koanf:"learning"`
	Scheduler  learning.SchedulerConfig `json:"scheduler" koanf:"scheduler"`
	Supervisor supervisor.TreeConfig    `json:"supervisor" koanf:"supervisor"`
}

// Default returns the built-in defaults. Upstream base URLs are left empty
// and must come from the file or environment.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8370,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging:    logging.DefaultConfig(),
		Engine:     *engine.DefaultConfig(),
		API:        api.DefaultRouterConfig(),
		Store:      StoreConfig{Path: "data/cartloom"},
		Learning:   learning.DefaultConfig(),
		Scheduler:  learning.DefaultSchedulerConfig(),
		Supervisor: supervisor.DefaultTreeConfig(),
	}
}

// sliceConfigPaths lists paths parsed from comma-separated env strings.
var sliceConfigPaths = []string{
	"api.cors_allowed_origins",
	"scheduler.shops",
}

// Load builds the configuration from defaults, optional YAML file, and
// environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := Default()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// CARTLOOM_SERVER_PORT -> server.port; only the first underscore
	// becomes a section separator so field names keep their underscores.
	envProvider := env.Provider(envPrefix, ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks structural constraints and the engine's own invariants.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c.Server); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := validate.Struct(c.Store); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps CARTLOOM_SECTION_FIELD_NAME to section.field_name.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return key
	}
	// Upstream services nest one level deeper:
	// CARTLOOM_UPSTREAM_CATALOG_BASE_URL -> upstream.catalog.base_url.
	if parts[0] == "upstream" {
		sub := strings.SplitN(parts[1], "_", 2)
		if len(sub) == 2 {
			return "upstream." + sub[0] + "." + sub[1]
		}
	}
	return parts[0] + "." + parts[1]
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// ListenAddr formats the server bind address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
