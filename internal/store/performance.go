// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

// Package store provides BadgerDB-backed persistence for product
// performance records and learning job run history.
//
// The serving path only reads performance records; the learning job is the
// only writer. Reads and writes are eventually consistent by design:
// serving may use records up to a day stale.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/cartloom/cartloom/internal/engine"
)

// Key prefixes for BadgerDB storage.
const (
	perfKeyPrefix = "perf:"
	runKeyPrefix  = "run:"
)

// runRetention caps how long job-run history is kept.
const runRetention = 90 * 24 * time.Hour

// PerformanceStore persists per-product performance records and learning
// job runs in BadgerDB.
type PerformanceStore struct {
	db *badger.DB
}

// Open opens (or creates) a store at the given path.
func Open(path string) (*PerformanceStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &PerformanceStore{db: db}, nil
}

// OpenInMemory opens an ephemeral store. Intended for tests.
func OpenInMemory() (*PerformanceStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return &PerformanceStore{db: db}, nil
}

// Close releases the underlying database.
func (s *PerformanceStore) Close() error {
	return s.db.Close()
}

func perfKey(shop, productID string) []byte {
	return []byte(perfKeyPrefix + shop + ":" + productID)
}

// UpsertPerformance writes one record, overwriting any previous value for
// the (shop, product) key. The learning job recomputes records from the
// event store, so overwriting keeps reruns idempotent.
func (s *PerformanceStore) UpsertPerformance(ctx context.Context, rec engine.PerformanceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal performance record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(perfKey(rec.Shop, rec.ProductID), data)
	})
}

// Performance returns records for the given products. Missing products are
// simply absent from the result map.
func (s *PerformanceStore) Performance(ctx context.Context, shop string, ids []string) (map[string]engine.PerformanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]engine.PerformanceRecord, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get(perfKey(shop, id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("get performance %s: %w", id, err)
			}
			var rec engine.PerformanceRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode performance %s: %w", id, err)
			}
			out[rec.ProductID] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AllPerformance iterates every record for a shop.
func (s *PerformanceStore) AllPerformance(ctx context.Context, shop string) ([]engine.PerformanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(perfKeyPrefix + shop + ":")
	var out []engine.PerformanceRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec engine.PerformanceRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode performance record: %w", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// JobRun records one learning job execution for operational monitoring.
// Failed runs are recorded distinctly and never block the next run.
type JobRun struct {
	ID               string    `json:"id"`
	Shop             string    `json:"shop"`
	StartedAt        time.Time `json:"started_at"`
	DurationMS       int64     `json:"duration_ms"`
	Status           string    `json:"status"` // "completed", "failed", "skipped"
	Error            string    `json:"error,omitempty"`
	ProductsAnalyzed int       `json:"products_analyzed"`
	ProductsSkipped  int       `json:"products_skipped"`
	Blacklisted      int       `json:"blacklisted"`
	HighPerformers   int       `json:"high_performers"`
	EventsProcessed  int       `json:"events_processed"`
	AttributionsSeen int       `json:"attributions_seen"`
}

// RecordRun appends a job run, keyed by shop and start time so history
// lists newest-last under prefix iteration. Entries expire after the
// retention window.
func (s *PerformanceStore) RecordRun(ctx context.Context, run JobRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal job run: %w", err)
	}
	key := []byte(fmt.Sprintf("%s%s:%020d", runKeyPrefix, run.Shop, run.StartedAt.UnixNano()))
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, data).WithTTL(runRetention)
		return txn.SetEntry(entry)
	})
}

// Runs returns up to limit most recent runs for a shop, newest first.
func (s *PerformanceStore) Runs(ctx context.Context, shop string, limit int) ([]JobRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	prefix := []byte(runKeyPrefix + shop + ":")
	var out []JobRun
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts just past the prefix range.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			var run JobRun
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			}); err != nil {
				return fmt.Errorf("decode job run: %w", err)
			}
			out = append(out, run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
