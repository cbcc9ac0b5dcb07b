// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

// Package ratelimit enforces per-subject, per-bucket windowed request
// caps backed by a durable counter store. The limiter answers
// "allowed?" before any provider call is attempted; it is a hard usage
// cap, so counters live in the shared persistent store rather than in
// process memory.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/pipewise-hq/pipewise/internal/store"
	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

// BucketConfig caps one named rate-limit category.
type BucketConfig struct {
	WindowSeconds int
	Max           int64
}

// Decision is the limiter's answer for one gated attempt.
type Decision struct {
	Allowed     bool
	Count       int64
	Limit       int64
	WindowStart int64
	RetryAfter  time.Duration
}

// Limiter maintains windowed counters per (subject, scope, bucket).
type Limiter struct {
	store   store.RateLimitStore
	buckets map[string]BucketConfig
	nowFunc func() time.Time
}

// New creates a Limiter. Every bucket must have a positive window and cap.
func New(counterStore store.RateLimitStore, buckets map[string]BucketConfig) (*Limiter, error) {
	if len(buckets) == 0 {
		return nil, pwerr.New(pwerr.CodeConfigValidateInvalidValue, "rate limiter needs at least one bucket")
	}
	for name, cfg := range buckets {
		if cfg.WindowSeconds <= 0 {
			return nil, pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
				"rate limit bucket %q window must be positive, got %d", name, cfg.WindowSeconds)
		}
		if cfg.Max <= 0 {
			return nil, pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
				"rate limit bucket %q max must be positive, got %d", name, cfg.Max)
		}
	}
	return &Limiter{
		store:   counterStore,
		buckets: buckets,
		nowFunc: time.Now,
	}, nil
}

// SetNowFunc overrides the time source (for testing).
func (l *Limiter) SetNowFunc(fn func() time.Time) {
	l.nowFunc = fn
}

// Allow records one attempt against the subject's counter for the
// bucket and reports whether it fits in the current window. The counter
// is incremented even for denied attempts; it never decrements inside a
// window. A store failure is an infrastructure error and propagates.
func (l *Limiter) Allow(ctx context.Context, subject, scope, bucket string) (Decision, error) {
	cfg, ok := l.buckets[bucket]
	if !ok {
		return Decision{}, pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
			"unknown rate limit bucket %q", bucket)
	}

	now := l.nowFunc().Unix()
	windowStart := now - now%int64(cfg.WindowSeconds)

	count, err := l.store.IncrementAndGet(ctx, subject, scope, bucket, windowStart, cfg.WindowSeconds)
	if err != nil {
		return Decision{}, pwerr.Wrap(err, pwerr.CodeRateLimitStoreFailure, "rate limit increment",
			pwerr.FieldSubject(subject), pwerr.FieldBucket(bucket))
	}

	decision := Decision{
		Allowed:     count <= cfg.Max,
		Count:       count,
		Limit:       cfg.Max,
		WindowStart: windowStart,
		RetryAfter:  time.Duration(windowStart+int64(cfg.WindowSeconds)-now) * time.Second,
	}

	if !decision.Allowed {
		slog.Warn("rate limit exceeded",
			"subject", subject,
			"bucket", bucket,
			"count", count,
			"limit", cfg.Max,
		)
	}
	return decision, nil
}

// StartCleanup periodically removes expired counter windows until ctx
// is cancelled.
func (l *Limiter) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed, err := l.store.CleanupExpired(ctx, l.nowFunc().Unix())
				if err != nil {
					slog.Warn("rate limit cleanup failed", "error", err)
					continue
				}
				if removed > 0 {
					slog.Debug("rate limit cleanup removed expired windows", "removed", removed)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
