// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

// Package learning implements the daily performance aggregation job. It
// reads raw tracking events and purchase attributions over a trailing
// window, recomputes per-product performance records, and persists them for
// the serving path to read.
//
// Runs are idempotent: every run recomputes records from the full trailing
// window, so rerunning a day produces the same output. A failed run is
// recorded and never blocks the next one.
package learning

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cartloom/cartloom/internal/engine"
	"github.com/cartloom/cartloom/internal/logging"
	"github.com/cartloom/cartloom/internal/metrics"
	"github.com/cartloom/cartloom/internal/store"
)

// Config holds learning job tuning.
type Config struct {
	// WindowDays is the trailing aggregation window. Default: 30.
	WindowDays int `json:"window_days" koanf:"window_days" validate:"min=1"`

	// MinImpressions is the floor below which a product is skipped
	// entirely. Default: 10.
	MinImpressions int64 `json:"min_impressions" koanf:"min_impressions" validate:"min=1"`

	// BlacklistMinImpressions is the sample floor for blacklisting.
	// Default: 100.
	BlacklistMinImpressions int64 `json:"blacklist_min_impressions" koanf:"blacklist_min_impressions" validate:"min=1"`

	// BlacklistCVR blacklists products converting below this rate.
	// Default: 0.005.
	BlacklistCVR float64 `json:"blacklist_cvr" koanf:"blacklist_cvr"`

	// BlacklistCTR blacklists products clicking below this rate when CVR
	// passed. Default: 0.03.
	BlacklistCTR float64 `json:"blacklist_ctr" koanf:"blacklist_ctr"`

	// HighPerformerCVR flags products converting above this rate.
	// Default: 0.02.
	HighPerformerCVR float64 `json:"high_performer_cvr" koanf:"high_performer_cvr"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		WindowDays:              30,
		MinImpressions:          10,
		BlacklistMinImpressions: 100,
		BlacklistCVR:            0.005,
		BlacklistCTR:            0.03,
		HighPerformerCVR:        0.02,
	}
}

// Blacklist reasons persisted on performance records.
const (
	ReasonLowCVR = "low_cvr"
	ReasonLowCTR = "low_ctr"
)

// EventSource supplies raw tracking data for aggregation.
type EventSource interface {
	Events(ctx context.Context, shop string, since time.Time) ([]engine.TrackingEvent, error)
	Attributions(ctx context.Context, shop string, since time.Time) ([]engine.Attribution, error)
}

// PerformanceWriter persists recomputed records.
type PerformanceWriter interface {
	UpsertPerformance(ctx context.Context, rec engine.PerformanceRecord) error
}

// RunRecorder persists job run history.
type RunRecorder interface {
	RecordRun(ctx context.Context, run store.JobRun) error
}

// Job aggregates tracking data into performance records.
type Job struct {
	config Config
	source EventSource
	writer PerformanceWriter
	runs   RunRecorder
	logger zerolog.Logger

	// locks serializes runs per shop. A second trigger while a shop's run
	// is in flight is skipped, not queued.
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// NewJob builds a learning job.
func NewJob(cfg Config, source EventSource, writer PerformanceWriter, runs RunRecorder) *Job {
	return &Job{
		config: cfg,
		source: source,
		writer: writer,
		runs:   runs,
		logger: logging.Component("learning"),
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

// SetClock overrides the job clock. Intended for tests.
func (j *Job) SetClock(now func() time.Time) {
	j.now = now
}

// ErrRunInProgress reports that a run for the shop is already executing.
var ErrRunInProgress = fmt.Errorf("learning run already in progress")

func (j *Job) shopLock(shop string) *sync.Mutex {
	j.mu.Lock()
	defer j.mu.Unlock()
	l, ok := j.locks[shop]
	if !ok {
		l = &sync.Mutex{}
		j.locks[shop] = l
	}
	return l
}

// Run executes one aggregation pass for a shop. The returned run record is
// also persisted; callers get it back for immediate display.
func (j *Job) Run(ctx context.Context, shop string) (store.JobRun, error) {
	lock := j.shopLock(shop)
	if !lock.TryLock() {
		metrics.LearningRunsTotal.WithLabelValues("skipped").Inc()
		return store.JobRun{}, ErrRunInProgress
	}
	defer lock.Unlock()

	start := j.now()
	run := store.JobRun{
		ID:        uuid.NewString(),
		Shop:      shop,
		StartedAt: start,
	}
	logger := j.logger.With().Str("run_id", run.ID).Str("shop", shop).Logger()

	err := j.execute(ctx, shop, &run, logger)
	run.DurationMS = j.now().Sub(start).Milliseconds()
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		metrics.LearningRunsTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Msg("learning run failed")
	} else {
		run.Status = "completed"
		metrics.LearningRunsTotal.WithLabelValues("completed").Inc()
		metrics.ProductsBlacklisted.WithLabelValues(shop).Set(float64(run.Blacklisted))
		logger.Info().
			Int("products_analyzed", run.ProductsAnalyzed).
			Int("products_skipped", run.ProductsSkipped).
			Int("blacklisted", run.Blacklisted).
			Int64("duration_ms", run.DurationMS).
			Msg("learning run completed")
	}
	metrics.LearningRunDuration.Observe(float64(run.DurationMS) / 1000)

	if recErr := j.runs.RecordRun(ctx, run); recErr != nil {
		logger.Error().Err(recErr).Msg("failed to persist run record")
		if err == nil {
			err = recErr
		}
	}
	return run, err
}

func (j *Job) execute(ctx context.Context, shop string, run *store.JobRun, logger zerolog.Logger) error {
	since := j.now().AddDate(0, 0, -j.config.WindowDays)

	events, err := j.source.Events(ctx, shop, since)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	attributions, err := j.source.Attributions(ctx, shop, since)
	if err != nil {
		return fmt.Errorf("fetch attributions: %w", err)
	}
	run.EventsProcessed = len(events)
	run.AttributionsSeen = len(attributions)

	records := aggregate(j.config, shop, events, attributions, j.now())
	for _, rec := range records {
		if rec.skipped {
			run.ProductsSkipped++
			continue
		}
		if err := j.writer.UpsertPerformance(ctx, rec.PerformanceRecord); err != nil {
			return fmt.Errorf("persist record for %s: %w", rec.ProductID, err)
		}
		run.ProductsAnalyzed++
		if rec.IsBlacklisted {
			run.Blacklisted++
			logger.Debug().
				Str("product_id", rec.ProductID).
				Str("reason", rec.BlacklistReason).
				Msg("product blacklisted")
		}
		if rec.HighPerformer {
			run.HighPerformers++
		}
	}
	return nil
}

// tally accumulates raw counts for one product.
type tally struct {
	impressions  int64
	clicks       int64
	purchases    int64
	revenueCents int64
}

// aggregated is a performance record plus the skip flag for thin samples.
type aggregated struct {
	engine.PerformanceRecord
	skipped bool
}

// aggregate folds raw events and attributions into performance records.
// Served events contribute one impression per recommended product; click
// events one click; attributions one purchase plus revenue. Products below
// the impression floor are marked skipped and left unwritten so stale
// records from earlier runs survive until real data replaces them.
//
// Output order is deterministic (sorted by product id).
func aggregate(cfg Config, shop string, events []engine.TrackingEvent, attributions []engine.Attribution, computedAt time.Time) []aggregated {
	tallies := make(map[string]*tally)
	get := func(id string) *tally {
		t, ok := tallies[id]
		if !ok {
			t = &tally{}
			tallies[id] = t
		}
		return t
	}

	for _, ev := range events {
		switch ev.Type {
		case engine.EventServed:
			for _, id := range ev.RecommendedIDs {
				if id == "" {
					continue
				}
				get(id).impressions++
			}
		case engine.EventClick:
			if ev.ProductID != "" {
				get(ev.ProductID).clicks++
			}
		}
	}
	for _, attr := range attributions {
		if attr.ProductID == "" {
			continue
		}
		t := get(attr.ProductID)
		t.purchases++
		t.revenueCents += attr.RevenueCents
	}

	ids := make([]string, 0, len(tallies))
	for id := range tallies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]aggregated, 0, len(ids))
	for _, id := range ids {
		t := tallies[id]
		rec := aggregated{PerformanceRecord: engine.PerformanceRecord{
			Shop:         shop,
			ProductID:    id,
			Impressions:  t.impressions,
			Clicks:       t.clicks,
			Purchases:    t.purchases,
			RevenueCents: t.revenueCents,
			WindowDays:   cfg.WindowDays,
			ComputedAt:   computedAt,
		}}
		if t.impressions < cfg.MinImpressions {
			rec.skipped = true
			out = append(out, rec)
			continue
		}

		rec.CTR = float64(t.clicks) / float64(t.impressions)
		rec.CVR = float64(t.purchases) / float64(t.impressions)
		rec.Confidence = confidence(rec.CVR, rec.CTR, t.impressions)
		rec.HighPerformer = rec.CVR > cfg.HighPerformerCVR

		if t.impressions >= cfg.BlacklistMinImpressions {
			switch {
			case rec.CVR < cfg.BlacklistCVR:
				rec.IsBlacklisted = true
				rec.BlacklistReason = ReasonLowCVR
			case rec.CTR < cfg.BlacklistCTR:
				rec.IsBlacklisted = true
				rec.BlacklistReason = ReasonLowCTR
			}
		}
		out = append(out, rec)
	}
	return out
}

// confidence blends conversion, click-through, and sample size into [0, 1].
// Sample size saturates at 100 impressions.
func confidence(cvr, ctr float64, impressions int64) float64 {
	sample := float64(impressions) / 100
	if sample > 1 {
		sample = 1
	}
	c := 0.4*cvr + 0.4*ctr + 0.2*sample
	if c > 1 {
		c = 1
	}
	return c
}
