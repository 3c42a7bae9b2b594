// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package learning

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartloom/cartloom/internal/logging"
)

// SchedulerConfig holds scheduling options.
type SchedulerConfig struct {
	// Enabled turns the scheduler on. Manual runs via the API work either
	// way.
	Enabled bool `json:"enabled" koanf:"enabled"`

	// Interval between runs. Default: 24h.
	Interval time.Duration `json:"interval" koanf:"interval"`

	// Shops lists the shops to aggregate each cycle.
	Shops []string `json:"shops" koanf:"shops"`
}

// DefaultSchedulerConfig returns production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:  true,
		Interval: 24 * time.Hour,
	}
}

// Scheduler triggers periodic learning runs for configured shops. It
// implements the suture.Service contract.
type Scheduler struct {
	config SchedulerConfig
	job    *Job
	logger zerolog.Logger
}

// NewScheduler builds a scheduler over the given job.
func NewScheduler(cfg SchedulerConfig, job *Job) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &Scheduler{
		config: cfg,
		job:    job,
		logger: logging.Component("learning.scheduler"),
	}
}

// Serve runs aggregation cycles until the context is cancelled.
func (s *Scheduler) Serve(ctx context.Context) error {
	if !s.config.Enabled || len(s.config.Shops) == 0 {
		s.logger.Info().Msg("learning scheduler disabled, waiting for shutdown")
		<-ctx.Done()
		return ctx.Err()
	}

	s.logger.Info().
		Dur("interval", s.config.Interval).
		Int("shops", len(s.config.Shops)).
		Msg("learning scheduler started")

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Scheduler) runAll(ctx context.Context) {
	for _, shop := range s.config.Shops {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.job.Run(ctx, shop); err != nil {
			if errors.Is(err, ErrRunInProgress) {
				s.logger.Warn().Str("shop", shop).Msg("previous run still in flight, skipping")
				continue
			}
			// Run already logged the failure; keep going with the next shop.
			continue
		}
	}
}

// String names the service in supervisor logs.
func (s *Scheduler) String() string {
	return "learning-scheduler"
}
