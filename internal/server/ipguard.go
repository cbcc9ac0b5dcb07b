// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package server

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

// IPGuardConfig configures the transport-level per-IP throttle. This
// sits in front of the per-subject windowed limiter and only exists to
// shed abusive unauthenticated traffic before it reaches a handler.
type IPGuardConfig struct {
	// RequestsPerSecond is the sustained request rate per IP. Zero
	// disables the guard.
	RequestsPerSecond float64
	// Burst is the maximum burst size per IP.
	Burst int
	// MaxVisitors caps how many unique IPs are tracked. Zero applies
	// the default of 10000.
	MaxVisitors int
}

// Validate checks the config and applies defaults.
func (c *IPGuardConfig) Validate() error {
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		return pwerr.Errorf(pwerr.CodeServerConfigInvalid,
			"ip guard burst must be positive when rate is set (got burst=%d, rate=%g)",
			c.Burst, c.RequestsPerSecond)
	}
	if c.RequestsPerSecond < 0 {
		return pwerr.Errorf(pwerr.CodeServerConfigInvalid,
			"ip guard requests per second must not be negative (got %g)",
			c.RequestsPerSecond)
	}
	if c.MaxVisitors < 0 {
		return pwerr.Errorf(pwerr.CodeServerConfigInvalid,
			"ip guard max visitors must not be negative (got %d)",
			c.MaxVisitors)
	}
	if c.MaxVisitors == 0 {
		c.MaxVisitors = 10000
	}
	return nil
}

type ipBucket struct {
	tokens     float64
	lastSeen   time.Time
	lastRefill time.Time
}

// ipGuardMiddleware returns middleware enforcing per-IP token buckets.
// Returns a pass-through when cfg.RequestsPerSecond is zero. The done
// channel stops the cleanup goroutine on shutdown.
func ipGuardMiddleware(cfg IPGuardConfig, done <-chan struct{}) func(http.Handler) http.Handler {
	if cfg.RequestsPerSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	var (
		mu      sync.Mutex
		buckets = make(map[string]*ipBucket)
	)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mu.Lock()
				now := time.Now()
				for ip, b := range buckets {
					if now.Sub(b.lastSeen) > 10*time.Minute {
						delete(buckets, ip)
					}
				}
				if cfg.MaxVisitors > 0 && len(buckets) > cfg.MaxVisitors {
					// Over cap even after the stale sweep: drop the
					// whole map rather than tracking sorted eviction
					// order. Refilled buckets start at full burst,
					// which errs toward letting requests through.
					evicted := len(buckets)
					buckets = make(map[string]*ipBucket)
					slog.Warn("ip guard visitor map reset",
						"evicted", evicted, "max_visitors", cfg.MaxVisitors)
				}
				mu.Unlock()
			case <-done:
				return
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Strip the port so the limit applies per IP, not per
			// connection.
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}

			mu.Lock()
			b, ok := buckets[host]
			now := time.Now()
			if !ok {
				b = &ipBucket{tokens: float64(cfg.Burst), lastRefill: now}
				buckets[host] = b
			}
			b.lastSeen = now
			b.tokens += now.Sub(b.lastRefill).Seconds() * cfg.RequestsPerSecond
			if b.tokens > float64(cfg.Burst) {
				b.tokens = float64(cfg.Burst)
			}
			b.lastRefill = now

			if b.tokens < 1 {
				mu.Unlock()
				slog.Warn("ip guard throttled request", "ip", host, "path", r.URL.Path)
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			b.tokens--
			mu.Unlock()

			next.ServeHTTP(w, r)
		})
	}
}
