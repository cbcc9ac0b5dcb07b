// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pipewise-hq/pipewise/internal/provider"
)

// Compile-time interface checks.
var (
	_ RateLimitStore      = (*MemoryRateLimitStore)(nil)
	_ UsageStore          = (*MemoryUsageStore)(nil)
	_ ProviderConfigStore = (*MemoryProviderConfigStore)(nil)
)

// MemoryRateLimitStore is an in-process RateLimitStore used in tests
// and single-node development. Production deployments use the sqlite
// store so counters survive restarts and are shared across processes.
type MemoryRateLimitStore struct {
	mu       sync.Mutex
	counters map[string]int64
	ends     map[string]int64
}

// NewMemoryRateLimitStore creates an empty in-memory counter store.
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{
		counters: make(map[string]int64),
		ends:     make(map[string]int64),
	}
}

func (s *MemoryRateLimitStore) IncrementAndGet(_ context.Context, subject, scope, bucket string, windowStart int64, windowSeconds int) (int64, error) {
	key := fmt.Sprintf("%s|%s|%s|%d|%d", subject, scope, bucket, windowStart, windowSeconds)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[key]++
	s.ends[key] = windowStart + int64(windowSeconds)
	return s.counters[key], nil
}

func (s *MemoryRateLimitStore) CleanupExpired(_ context.Context, before int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, end := range s.ends {
		if end < before {
			delete(s.counters, key)
			delete(s.ends, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryRateLimitStore) Close() error { return nil }

// MemoryUsageStore is an in-process UsageStore for tests.
type MemoryUsageStore struct {
	mu      sync.Mutex
	entries []provider.UsageEntry
}

// NewMemoryUsageStore creates an empty in-memory usage log.
func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{}
}

func (s *MemoryUsageStore) Append(_ context.Context, entry provider.UsageEntry) error {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

// Entries returns a copy of everything appended so far.
func (s *MemoryUsageStore) Entries() []provider.UsageEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]provider.UsageEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *MemoryUsageStore) Close() error { return nil }

// MemoryProviderConfigStore is an in-process ProviderConfigStore for
// tests.
type MemoryProviderConfigStore struct {
	mu      sync.Mutex
	records map[string]provider.Record
}

// NewMemoryProviderConfigStore creates an empty in-memory provider
// config store.
func NewMemoryProviderConfigStore() *MemoryProviderConfigStore {
	return &MemoryProviderConfigStore{records: make(map[string]provider.Record)}
}

func (s *MemoryProviderConfigStore) ListActiveProviders(_ context.Context) ([]provider.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.records))
	for id, rec := range s.records {
		if rec.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]provider.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[id])
	}
	return out, nil
}

func (s *MemoryProviderConfigStore) UpsertProvider(_ context.Context, rec provider.Record) error {
	s.mu.Lock()
	s.records[rec.ID] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryProviderConfigStore) Close() error { return nil }
