// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package server

import (
	"context"

	"github.com/pipewise-hq/pipewise/internal/escalate"
	"github.com/pipewise-hq/pipewise/internal/plan"
	"github.com/pipewise-hq/pipewise/internal/provider"
	"github.com/pipewise-hq/pipewise/internal/ratelimit"
	"github.com/pipewise-hq/pipewise/internal/readiness"
	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
	"github.com/pipewise-hq/pipewise/pkg/health"
)

// Session identifies an authenticated caller.
type Session struct {
	Subject string
}

// SessionService validates request credentials. Implementations return
// an error with a session.* code when the credential is invalid so the
// transport layer can map it to 401.
type SessionService interface {
	ValidateSession(ctx context.Context, token string) (Session, error)
}

// ReadinessService reports whether the assistant is usable.
type ReadinessService interface {
	Check(ctx context.Context) (readiness.Snapshot, error)
}

// TaskRunner walks a provider chain for one task.
type TaskRunner interface {
	Run(ctx context.Context, req provider.TaskRequest, chain []provider.Kind, opts provider.RunOptions) (provider.Outcome, error)
}

// RateLimiter decides whether a subject may consume a bucket slot.
type RateLimiter interface {
	Allow(ctx context.Context, subject, scope, bucket string) (ratelimit.Decision, error)
}

// DealSource lists the open pipeline deals the fallback plan is built
// from.
type DealSource interface {
	ListOpenDeals(ctx context.Context) ([]plan.Deal, error)
}

// EscalationSink receives anomaly events for throttled forwarding.
type EscalationSink interface {
	Report(ev escalate.Event) escalate.Outcome
}

// ProviderHealthEntry is one provider's health snapshot for the
// metrics endpoint.
type ProviderHealthEntry struct {
	Provider provider.Kind  `json:"provider"`
	Metrics  health.Metrics `json:"metrics"`
}

// ProviderHealthService exposes per-provider health metrics.
type ProviderHealthService interface {
	ProviderHealth(ctx context.Context) ([]ProviderHealthEntry, error)
}

// Services holds dependencies injected into route handlers.
// Each field is an interface so subsystems can be mocked in tests.
// Use NewServices to ensure all required services are provided.
type Services struct {
	sessions    SessionService
	readiness   ReadinessService
	runner      TaskRunner
	limiter     RateLimiter
	deals       DealSource
	escalations EscalationSink
	providers   ProviderHealthService // optional; nil = health endpoint unavailable
}

// NewServices creates a Services instance with validation.
// Returns an error if any required service is nil.
// The optional providers variadic parameter sets the health service.
func NewServices(sessions SessionService, ready ReadinessService, runner TaskRunner, limiter RateLimiter, deals DealSource, escalations EscalationSink, providers ...ProviderHealthService) (*Services, error) {
	if sessions == nil {
		return nil, pwerr.New(pwerr.CodeServerConfigInvalid, "session service is required")
	}
	if ready == nil {
		return nil, pwerr.New(pwerr.CodeServerConfigInvalid, "readiness service is required")
	}
	if runner == nil {
		return nil, pwerr.New(pwerr.CodeServerConfigInvalid, "task runner is required")
	}
	if limiter == nil {
		return nil, pwerr.New(pwerr.CodeServerConfigInvalid, "rate limiter is required")
	}
	if deals == nil {
		return nil, pwerr.New(pwerr.CodeServerConfigInvalid, "deal source is required")
	}
	if escalations == nil {
		return nil, pwerr.New(pwerr.CodeServerConfigInvalid, "escalation sink is required")
	}
	if len(providers) > 1 {
		return nil, pwerr.New(pwerr.CodeServerConfigInvalid, "at most one provider health service may be supplied")
	}

	s := &Services{
		sessions:    sessions,
		readiness:   ready,
		runner:      runner,
		limiter:     limiter,
		deals:       deals,
		escalations: escalations,
	}
	if len(providers) > 0 && providers[0] != nil {
		s.providers = providers[0]
	}
	return s, nil
}

// Sessions returns the session service.
func (s *Services) Sessions() SessionService { return s.sessions }

// Readiness returns the readiness service.
func (s *Services) Readiness() ReadinessService { return s.readiness }

// Runner returns the task runner.
func (s *Services) Runner() TaskRunner { return s.runner }

// Limiter returns the rate limiter.
func (s *Services) Limiter() RateLimiter { return s.limiter }

// Deals returns the deal source.
func (s *Services) Deals() DealSource { return s.deals }

// Escalations returns the escalation sink.
func (s *Services) Escalations() EscalationSink { return s.escalations }

// Providers returns the provider health service, or nil.
func (s *Services) Providers() ProviderHealthService { return s.providers }
