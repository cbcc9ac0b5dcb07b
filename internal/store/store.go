// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package store

import (
	"context"

	"github.com/pipewise-hq/pipewise/internal/provider"
)

// RateLimitStore persists windowed request counters. Counters are a
// hard usage cap shared across processes, so the store must be durable
// and IncrementAndGet must be atomic: two concurrent increments for the
// same key never lose an update.
type RateLimitStore interface {
	// IncrementAndGet upserts the counter for the key and returns the
	// post-increment count.
	IncrementAndGet(ctx context.Context, subject, scope, bucket string, windowStart int64, windowSeconds int) (int64, error)

	// CleanupExpired deletes counters whose window ended before the
	// given unix time and returns how many were removed. Expired windows
	// are never read, so cleanup timing is not correctness-critical.
	CleanupExpired(ctx context.Context, before int64) (int64, error)

	Close() error
}

// UsageStore persists the append-only usage log. Entries are
// write-once; billing and analytics read them elsewhere.
type UsageStore interface {
	Append(ctx context.Context, entry provider.UsageEntry) error
	Close() error
}

// ProviderConfigStore reads the connected-provider snapshot. Readiness
// checks consult it to decide whether any provider is configured at
// all; provider CRUD lives elsewhere, so writes are limited to the
// upsert the connect flow needs.
type ProviderConfigStore interface {
	ListActiveProviders(ctx context.Context) ([]provider.Record, error)
	UpsertProvider(ctx context.Context, rec provider.Record) error
	Close() error
}
