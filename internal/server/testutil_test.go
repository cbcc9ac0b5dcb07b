// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package server_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pipewise-hq/pipewise/internal/escalate"
	"github.com/pipewise-hq/pipewise/internal/plan"
	"github.com/pipewise-hq/pipewise/internal/provider"
	"github.com/pipewise-hq/pipewise/internal/ratelimit"
	"github.com/pipewise-hq/pipewise/internal/readiness"
	"github.com/pipewise-hq/pipewise/internal/server"
	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

// Stub service implementations. Fields are set per test to steer each
// handler path.

type stubSessions struct {
	err error
}

func (s *stubSessions) ValidateSession(_ context.Context, token string) (server.Session, error) {
	if s.err != nil {
		return server.Session{}, s.err
	}
	return server.Session{Subject: token}, nil
}

type stubReadiness struct {
	snap readiness.Snapshot
	err  error
}

func (s *stubReadiness) Check(_ context.Context) (readiness.Snapshot, error) {
	return s.snap, s.err
}

type stubRunner struct {
	outcome provider.Outcome
	err     error

	mu        sync.Mutex
	lastReq   provider.TaskRequest
	lastChain []provider.Kind
	run       func(opts provider.RunOptions)
}

func (s *stubRunner) Run(_ context.Context, req provider.TaskRequest, chain []provider.Kind, opts provider.RunOptions) (provider.Outcome, error) {
	s.mu.Lock()
	s.lastReq = req
	s.lastChain = chain
	s.mu.Unlock()
	if s.run != nil {
		s.run(opts)
	}
	return s.outcome, s.err
}

type stubLimiter struct {
	decision ratelimit.Decision
	err      error

	mu         sync.Mutex
	lastBucket string
}

func (s *stubLimiter) Allow(_ context.Context, _, _, bucket string) (ratelimit.Decision, error) {
	s.mu.Lock()
	s.lastBucket = bucket
	s.mu.Unlock()
	return s.decision, s.err
}

type stubDeals struct {
	deals []plan.Deal
	err   error
}

func (s *stubDeals) ListOpenDeals(_ context.Context) ([]plan.Deal, error) {
	return s.deals, s.err
}

type recordingEscalations struct {
	mu     sync.Mutex
	events []escalate.Event
}

func (s *recordingEscalations) Report(ev escalate.Event) escalate.Outcome {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return escalate.Outcome{Forwarded: true}
}

func (s *recordingEscalations) recorded() []escalate.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]escalate.Event, len(s.events))
	copy(out, s.events)
	return out
}

// fixture bundles a server with its stub services so tests can both
// steer behavior and inspect side effects.
type fixture struct {
	srv         *server.Server
	sessions    *stubSessions
	readiness   *stubReadiness
	runner      *stubRunner
	limiter     *stubLimiter
	deals       *stubDeals
	escalations *recordingEscalations
}

func readySnapshot() readiness.Snapshot {
	return readiness.Snapshot{
		State:   readiness.StateReady,
		Variant: readiness.VariantReady,
		Usable:  true,
		Providers: []provider.Record{
			{ID: "anthropic", Kind: provider.KindAnthropic, Active: true},
			{ID: "openai", Kind: provider.KindOpenAI, Active: true},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		sessions:  &stubSessions{},
		readiness: &stubReadiness{snap: readySnapshot()},
		runner: &stubRunner{outcome: provider.Outcome{
			OK:     true,
			Result: &provider.Success{Provider: provider.KindAnthropic, Text: "three deals need attention"},
		}},
		limiter:     &stubLimiter{decision: ratelimit.Decision{Allowed: true, Count: 1}},
		deals:       &stubDeals{},
		escalations: &recordingEscalations{},
	}

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)

	svc, err := server.NewServices(f.sessions, f.readiness, f.runner, f.limiter, f.deals, f.escalations)
	require.NoError(t, err)
	srv.RegisterServices(svc)

	f.srv = srv
	return f
}

func sessionError() error {
	return pwerr.New(pwerr.CodeSessionExpired, "session expired")
}
