// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

// Command server runs the Cartloom recommendation engine: the HTTP API,
// the tracking forwarder, and the learning scheduler under one
// supervision tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/cartloom/cartloom/internal/api"
	"github.com/cartloom/cartloom/internal/config"
	"github.com/cartloom/cartloom/internal/engine"
	"github.com/cartloom/cartloom/internal/learning"
	"github.com/cartloom/cartloom/internal/logging"
	"github.com/cartloom/cartloom/internal/store"
	"github.com/cartloom/cartloom/internal/supervisor"
	"github.com/cartloom/cartloom/internal/supervisor/services"
	"github.com/cartloom/cartloom/internal/tracking"
	"github.com/cartloom/cartloom/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := logging.Init(cfg.Logging); err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize logging")
	}
	logger := logging.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	// Local persistence for learning output and run history.
	var perfStore *store.PerformanceStore
	var err error
	if cfg.Store.InMemory {
		perfStore, err = store.OpenInMemory()
	} else {
		perfStore, err = store.Open(cfg.Store.Path)
	}
	if err != nil {
		return fmt.Errorf("open performance store: %w", err)
	}
	defer func() {
		if cerr := perfStore.Close(); cerr != nil {
			logger.Error().Err(cerr).Msg("failed to close performance store")
		}
	}()

	// Collaborator clients.
	ordersClient := upstream.NewOrdersClient(cfg.Upstream.Orders)
	catalogClient := upstream.NewCatalogClient(cfg.Upstream.Catalog)
	settingsClient := upstream.NewSettingsClient(cfg.Upstream.Settings)
	trackingClient := upstream.NewTrackingClient(cfg.Upstream.Tracking)

	// In-process tracking channel between serving and the forwarder.
	sink := tracking.NewSink()
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			logger.Error().Err(cerr).Msg("failed to close tracking sink")
		}
	}()

	eng, err := engine.New(&cfg.Engine, engine.Deps{
		Orders:      ordersClient,
		Catalog:     catalogClient,
		Settings:    settingsClient,
		Tracking:    trackingClient,
		Performance: perfStore,
		Bundles:     settingsClient,
		Tracker:     sink,
	}, logging.Component("engine"))
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	job := learning.NewJob(cfg.Learning, trackingClient, perfStore, perfStore)

	handler := api.NewHandler(eng, job, perfStore)
	handler.AddReadyCheck("store", func(ctx context.Context) error {
		_, err := perfStore.Runs(ctx, "readiness-probe", 1)
		return err
	})
	router := api.NewRouter(cfg.API, handler)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree(cfg.Supervisor)
	tree.AddJobService(tracking.NewForwarder(sink, trackingClient))
	tree.AddJobService(learning.NewScheduler(cfg.Scheduler, job))
	tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))

	logger.Info().
		Str("addr", cfg.ListenAddr()).
		Int("scheduler_shops", len(cfg.Scheduler.Shops)).
		Msg("cartloom starting")

	return tree.Serve(ctx)
}
