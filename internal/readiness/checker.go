// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package readiness

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pipewise-hq/pipewise/internal/provider"
	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
	"github.com/pipewise-hq/pipewise/pkg/health"
)

// SessionResult is the outcome of a session validity check.
type SessionResult struct {
	OK   bool
	Code string
}

// ConfigResult is the outcome of a configuration check.
type ConfigResult struct {
	OK      bool
	Code    string
	Message string
}

// SessionValidator validates the caller's session.
type SessionValidator interface {
	CheckSession(ctx context.Context) (SessionResult, error)
}

// ProviderLister reads the tenant's active provider records.
type ProviderLister interface {
	ListActiveProviders(ctx context.Context) ([]provider.Record, error)
}

// ConfigChecker validates the assistant configuration.
type ConfigChecker interface {
	CheckConfig(ctx context.Context) (ConfigResult, error)
}

// HealthProbe performs the assistant health check.
type HealthProbe interface {
	HealthCheck(ctx context.Context) (health.ProbeResult, error)
}

// Checker drives the readiness reducer through the four check stages in
// dependency order, short-circuiting on first failure. Snapshots are
// cached briefly so a burst of requests does not re-run the probes.
type Checker struct {
	session   SessionValidator
	providers ProviderLister
	config    ConfigChecker
	health    HealthProbe

	cacheTTL time.Duration
	nowFunc  func() time.Time

	mu       sync.Mutex
	node     Node
	cached   *Snapshot
	cachedAt time.Time
	disabled bool
}

// Snapshot is the composite readiness answer handed to callers.
type Snapshot struct {
	State     State             `json:"state"`
	Variant   Variant           `json:"variant"`
	Usable    bool              `json:"usable"`
	Context   Context           `json:"context"`
	Providers []provider.Record `json:"-"`
}

// DefaultCacheTTL bounds how long a readiness snapshot is reused.
const DefaultCacheTTL = 15 * time.Second

// NewChecker creates a Checker. A zero cacheTTL applies the default.
func NewChecker(session SessionValidator, providers ProviderLister, config ConfigChecker, probe HealthProbe, cacheTTL time.Duration) *Checker {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Checker{
		session:   session,
		providers: providers,
		config:    config,
		health:    probe,
		cacheTTL:  cacheTTL,
		nowFunc:   time.Now,
		node:      NewNode(),
	}
}

// SetNowFunc overrides the time source (for testing).
func (c *Checker) SetNowFunc(fn func() time.Time) {
	c.mu.Lock()
	c.nowFunc = fn
	c.mu.Unlock()
}

// Disable turns the assistant off until Reset. Honored mid-check on the
// next stage boundary.
func (c *Checker) Disable() {
	c.mu.Lock()
	c.disabled = true
	c.cached = nil
	c.mu.Unlock()
}

// Reset clears the node, cache, and disabled flag.
func (c *Checker) Reset() {
	c.mu.Lock()
	c.node = Reduce(c.node, Event{Type: EventReset})
	c.cached = nil
	c.disabled = false
	c.mu.Unlock()
}

// Check runs (or reuses) the readiness sequence and returns a snapshot.
// The only error returns are infrastructure failures from the
// collaborators themselves; every checked condition is data in the
// snapshot. Concurrent callers on a cache miss serialize through a
// single probe run under c.mu, so collaborators see at most one probe
// sequence per cache window.
func (c *Checker) Check(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && c.nowFunc().Sub(c.cachedAt) < c.cacheTTL {
		return *c.cached, nil
	}

	snap, err := c.run(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	c.cached = &snap
	c.cachedAt = c.nowFunc()
	return snap, nil
}

// run drives the reducer. Caller holds c.mu.
func (c *Checker) run(ctx context.Context) (Snapshot, error) {
	node := Reduce(NewNode(), Event{Type: EventBegin})

	if c.disabled {
		node = Reduce(node, Event{Type: EventDisable})
		return c.snapshot(node, nil), nil
	}

	// Stage 1: session.
	sess, err := c.session.CheckSession(ctx)
	if err != nil {
		return Snapshot{}, pwerr.Wrapf(err, pwerr.CodeReadinessCheckFailed, "session check")
	}
	if !sess.OK {
		node = Reduce(node, Event{Type: EventSessionInvalid, Code: sess.Code})
		return c.snapshot(node, nil), nil
	}
	node = Reduce(node, Event{Type: EventSessionValid})

	// Stage 2: providers.
	records, err := c.providers.ListActiveProviders(ctx)
	if err != nil {
		return Snapshot{}, pwerr.Wrapf(err, pwerr.CodeReadinessCheckFailed, "listing providers")
	}
	active := activeOnly(records)
	if len(active) == 0 {
		node = Reduce(node, Event{Type: EventProvidersMissing})
		return c.snapshot(node, nil), nil
	}
	node = Reduce(node, Event{Type: EventProvidersFound, Count: len(active)})

	// Stage 3: configuration.
	cfg, err := c.config.CheckConfig(ctx)
	if err != nil {
		return Snapshot{}, pwerr.Wrapf(err, pwerr.CodeReadinessCheckFailed, "config check")
	}
	if !cfg.OK {
		node = Reduce(node, Event{Type: EventConfigInvalid, Code: cfg.Code, Message: cfg.Message})
		return c.snapshot(node, active), nil
	}
	node = Reduce(node, Event{Type: EventConfigValid})

	// Stage 4: health.
	probe, err := c.health.HealthCheck(ctx)
	if err != nil {
		return Snapshot{}, pwerr.Wrapf(err, pwerr.CodeReadinessCheckFailed, "health check")
	}
	switch {
	case !probe.OK:
		node = Reduce(node, Event{Type: EventHealthFailed, Message: probe.Message})
	case probe.Degraded:
		node = Reduce(node, Event{Type: EventHealthDegraded, Message: probe.Message})
	default:
		node = Reduce(node, Event{Type: EventHealthPassed})
	}

	snap := c.snapshot(node, active)
	slog.Debug("readiness check complete",
		"state", snap.State,
		"variant", snap.Variant,
		"usable", snap.Usable,
		"providers", len(active),
	)
	return snap, nil
}

func (c *Checker) snapshot(node Node, active []provider.Record) Snapshot {
	c.node = node
	return Snapshot{
		State:     node.State,
		Variant:   node.State.Variant(),
		Usable:    node.State.Usable(),
		Context:   node.Context,
		Providers: active,
	}
}

func activeOnly(records []provider.Record) []provider.Record {
	out := make([]provider.Record, 0, len(records))
	for _, rec := range records {
		if rec.Active {
			out = append(out, rec)
		}
	}
	return out
}
