// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewise-hq/pipewise/internal/escalate"
	"github.com/pipewise-hq/pipewise/internal/plan"
	"github.com/pipewise-hq/pipewise/internal/provider"
	"github.com/pipewise-hq/pipewise/internal/ratelimit"
	"github.com/pipewise-hq/pipewise/internal/readiness"
	"github.com/pipewise-hq/pipewise/internal/server"
	"github.com/pipewise-hq/pipewise/pkg/health"
)

func postTask(f *fixture, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assistant/task", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer alice")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeTaskResult(t *testing.T, w *httptest.ResponseRecorder) server.TaskResult {
	t.Helper()
	var result server.TaskResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	return result
}

func TestReadiness_Ready(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/assistant/readiness", nil)
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body server.ReadinessBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "AI_READY", body.State)
	assert.Equal(t, "ready", body.Variant)
	assert.True(t, body.Usable)
	assert.Empty(t, body.Detail)
}

func TestReadiness_DegradedCarriesDetail(t *testing.T) {
	f := newFixture(t)
	f.readiness.snap = readiness.Snapshot{
		State:   readiness.StateDegraded,
		Variant: readiness.VariantDegraded,
		Usable:  true,
		Context: readiness.Context{HealthMessage: "1 of 2 providers cooling down"},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/assistant/readiness", nil)
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body server.ReadinessBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "AI_DEGRADED", body.State)
	assert.Equal(t, "1 of 2 providers cooling down", body.Detail)
}

func TestReadiness_CheckFailure(t *testing.T) {
	f := newFixture(t)
	f.readiness.err = assert.AnError

	req := httptest.NewRequest(http.MethodGet, "/api/v1/assistant/readiness", nil)
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTask_Success(t *testing.T) {
	f := newFixture(t)

	w := postTask(f, `{"prompt": "summarize my pipeline"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	result := decodeTaskResult(t, w)
	assert.True(t, result.OK)
	assert.Equal(t, "three deals need attention", result.Result)
	assert.Equal(t, provider.KindAnthropic, result.Provider)
	assert.Empty(t, result.Code)
	assert.Nil(t, result.FallbackPlan)
	assert.Empty(t, f.escalations.recorded())
}

func TestTask_MissingToken(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/assistant/task",
		strings.NewReader(`{"prompt": "hi"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	events := f.escalations.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, escalate.CategorySessionError, events[0].Category)
}

func TestTask_InvalidSession(t *testing.T) {
	f := newFixture(t)
	f.sessions.err = sessionError()

	w := postTask(f, `{"prompt": "hi"}`)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	events := f.escalations.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, escalate.CategorySessionError, events[0].Category)
	assert.Equal(t, "session.check.expired", events[0].Code)
}

func TestTask_SessionServiceFailure(t *testing.T) {
	f := newFixture(t)
	f.sessions.err = assert.AnError

	w := postTask(f, `{"prompt": "hi"}`)

	// Non-session errors must produce 500, not 401.
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, f.escalations.recorded())
}

func TestTask_NotUsable(t *testing.T) {
	f := newFixture(t)
	f.readiness.snap = readiness.Snapshot{
		State:   readiness.StateProviderNotConfigured,
		Variant: readiness.VariantConnectProvider,
		Usable:  false,
	}

	w := postTask(f, `{"prompt": "hi"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	result := decodeTaskResult(t, w)
	assert.False(t, result.OK)
	assert.Equal(t, server.ResultCodeNotReady, result.Code)
	assert.Equal(t, "connect_provider", result.Variant)
	require.NotNil(t, result.FallbackPlan)
	assert.NotEmpty(t, result.FallbackPlan.Summary)

	events := f.escalations.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, escalate.CategoryBlankState, events[0].Category)
	assert.Equal(t, "connect_provider", events[0].Code)
}

func TestTask_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.limiter.decision = ratelimit.Decision{Allowed: false, Count: 101, RetryAfter: 30 * time.Second}

	w := postTask(f, `{"prompt": "hi"}`)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))

	result := decodeTaskResult(t, w)
	assert.False(t, result.OK)
	assert.Equal(t, server.ResultCodeRateLimited, result.Code)
	assert.Nil(t, result.FallbackPlan)
}

func TestTask_RetryAfterNeverBelowOneSecond(t *testing.T) {
	f := newFixture(t)
	f.limiter.decision = ratelimit.Decision{Allowed: false, RetryAfter: 200 * time.Millisecond}

	w := postTask(f, `{"prompt": "hi"}`)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestTask_ChartTaskUsesChartBucket(t *testing.T) {
	f := newFixture(t)

	w := postTask(f, `{"task": "chart", "prompt": "pipeline by stage"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, server.BucketChartGeneration, f.limiter.lastBucket)
	assert.Equal(t, provider.TaskChart, f.runner.lastReq.Task)
}

func TestTask_UnknownTaskDefaultsToGeneralBucket(t *testing.T) {
	f := newFixture(t)

	w := postTask(f, `{"task": "karaoke", "prompt": "hi"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, server.BucketAssistantTask, f.limiter.lastBucket)
	assert.Equal(t, provider.TaskDefault, f.runner.lastReq.Task)
}

func TestTask_Exhaustion(t *testing.T) {
	f := newFixture(t)
	f.runner.outcome = provider.Outcome{
		OK: false,
		Failures: []provider.AttemptFailure{
			{Provider: provider.KindAnthropic, Class: provider.FailureQuota, Message: "quota exceeded"},
			{Provider: provider.KindOpenAI, Class: provider.FailureTransient, Message: "connection refused"},
		},
	}
	f.deals.deals = []plan.Deal{
		{ID: "d1", Name: "Acme expansion", Stage: plan.StageNegotiation, DaysInStage: 9},
	}

	w := postTask(f, `{"prompt": "hi"}`)

	// Exhaustion is a data outcome, not a transport error.
	assert.Equal(t, http.StatusOK, w.Code)

	result := decodeTaskResult(t, w)
	assert.False(t, result.OK)
	assert.Equal(t, server.ResultCodeAllProvidersFailed, result.Code)
	require.Len(t, result.Providers, 2)
	assert.Equal(t, provider.KindAnthropic, result.Providers[0].Provider)
	assert.Equal(t, provider.KindOpenAI, result.Providers[1].Provider)
	require.NotNil(t, result.FallbackPlan)
	assert.NotEmpty(t, result.FallbackPlan.Tasks)

	events := f.escalations.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, escalate.CategoryUXRegression, events[0].Category)
	assert.Equal(t, server.ResultCodeAllProvidersFailed, events[0].Code)
}

func TestTask_ExhaustionPlanSurvivesDealSourceFailure(t *testing.T) {
	f := newFixture(t)
	f.runner.outcome = provider.Outcome{OK: false}
	f.deals.err = assert.AnError

	w := postTask(f, `{"prompt": "hi"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	result := decodeTaskResult(t, w)
	require.NotNil(t, result.FallbackPlan)
	assert.NotEmpty(t, result.FallbackPlan.Summary)
	assert.NotNil(t, result.Providers)
}

func TestTask_RunnerFailure(t *testing.T) {
	f := newFixture(t)
	f.runner.err = assert.AnError

	w := postTask(f, `{"prompt": "hi"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTask_EmptyPromptRejected(t *testing.T) {
	f := newFixture(t)

	w := postTask(f, `{"prompt": ""}`)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

// --- Provider health endpoint ---

type stubProviderHealth struct {
	entries []server.ProviderHealthEntry
	err     error
}

func (s *stubProviderHealth) ProviderHealth(_ context.Context) ([]server.ProviderHealthEntry, error) {
	return s.entries, s.err
}

func TestProviders_Unavailable(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/assistant/providers", nil)
	req.Header.Set("Authorization", "Bearer alice")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestProviders_Metrics(t *testing.T) {
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)

	healthSvc := &stubProviderHealth{entries: []server.ProviderHealthEntry{
		{Provider: provider.KindAnthropic, Metrics: health.Metrics{Available: true}},
		{Provider: provider.KindOpenAI, Metrics: health.Metrics{Available: false, FailureCount: 4}},
	}}
	svc, err := server.NewServices(&stubSessions{}, &stubReadiness{snap: readySnapshot()},
		&stubRunner{}, &stubLimiter{}, &stubDeals{}, &recordingEscalations{}, healthSvc)
	require.NoError(t, err)
	srv.RegisterServices(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/assistant/providers", nil)
	req.Header.Set("Authorization", "Bearer alice")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Providers []server.ProviderHealthEntry `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Providers, 2)
	assert.Equal(t, provider.KindAnthropic, resp.Providers[0].Provider)
	assert.Equal(t, int64(4), resp.Providers[1].Metrics.FailureCount)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}
