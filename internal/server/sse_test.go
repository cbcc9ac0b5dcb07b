// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewise-hq/pipewise/internal/plan"
	"github.com/pipewise-hq/pipewise/internal/provider"
	"github.com/pipewise-hq/pipewise/internal/ratelimit"
	"github.com/pipewise-hq/pipewise/internal/readiness"
	"github.com/pipewise-hq/pipewise/internal/server"
)

type sseEvent struct {
	name string
	data string
}

// parseSSE splits a server-sent event stream into (event, data) pairs.
func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		lines := strings.SplitN(block, "\n", 2)
		require.Len(t, lines, 2, "malformed event block: %q", block)
		events = append(events, sseEvent{
			name: strings.TrimPrefix(lines[0], "event: "),
			data: strings.TrimPrefix(lines[1], "data: "),
		})
	}
	return events
}

func postStream(f *fixture, body string, sse bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assistant/task/stream", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer alice")
	if sse {
		req.Header.Set("Accept", "text/event-stream")
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestStream_DeltasThenDone(t *testing.T) {
	f := newFixture(t)
	f.runner.run = func(opts provider.RunOptions) {
		opts.OnDelta(provider.KindAnthropic, "three deals ")
		opts.OnDelta(provider.KindAnthropic, "need attention")
	}

	w := postStream(f, `{"prompt": "summarize my pipeline"}`, true)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := parseSSE(t, w.Body.String())
	require.Len(t, events, 3)
	assert.Equal(t, "delta", events[0].name)
	assert.Equal(t, "delta", events[1].name)
	assert.Equal(t, "done", events[2].name)

	var delta struct {
		Provider provider.Kind `json:"provider"`
		Text     string        `json:"text"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &delta))
	assert.Equal(t, provider.KindAnthropic, delta.Provider)
	assert.Equal(t, "three deals ", delta.Text)

	var result server.TaskResult
	require.NoError(t, json.Unmarshal([]byte(events[2].data), &result))
	assert.True(t, result.OK)
	assert.Equal(t, provider.KindAnthropic, result.Provider)
}

func TestStream_FallbackVisibleMidStream(t *testing.T) {
	f := newFixture(t)
	f.runner.outcome = provider.Outcome{
		OK:     true,
		Result: &provider.Success{Provider: provider.KindOpenAI, Text: "recovered answer"},
	}
	f.runner.run = func(opts provider.RunOptions) {
		opts.OnDelta(provider.KindAnthropic, "partial answer that will be inv")
		opts.OnAttemptFailed(provider.AttemptFailure{
			Provider: provider.KindAnthropic,
			Class:    provider.FailureTransient,
			Message:  "connection reset",
		})
		opts.OnDelta(provider.KindOpenAI, "recovered answer")
	}

	w := postStream(f, `{"prompt": "hi"}`, true)

	events := parseSSE(t, w.Body.String())
	require.Len(t, events, 4)
	assert.Equal(t, "delta", events[0].name)
	// The failed attempt's invalidation arrives in-band before the next
	// provider's deltas.
	assert.Equal(t, "attempt_failed", events[1].name)
	assert.Equal(t, "delta", events[2].name)
	assert.Equal(t, "done", events[3].name)

	var failure provider.AttemptFailure
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &failure))
	assert.Equal(t, provider.KindAnthropic, failure.Provider)

	var result server.TaskResult
	require.NoError(t, json.Unmarshal([]byte(events[3].data), &result))
	assert.True(t, result.OK)
	assert.Equal(t, provider.KindOpenAI, result.Provider)
}

func TestStream_ExhaustionMatchesTaskEndpoint(t *testing.T) {
	// The done event of the stream and the body of the non-streaming
	// endpoint must carry the same terminal payload.
	failures := []provider.AttemptFailure{
		{Provider: provider.KindAnthropic, Class: provider.FailureQuota, Message: "quota exceeded"},
		{Provider: provider.KindOpenAI, Class: provider.FailureTransient, Message: "timeout"},
	}
	deals := []plan.Deal{
		{ID: "d1", Name: "Acme expansion", Stage: plan.StageClosing, DaysInStage: 6},
	}

	f := newFixture(t)
	f.runner.outcome = provider.Outcome{OK: false, Failures: failures}
	f.deals.deals = deals

	w := postStream(f, `{"prompt": "hi"}`, true)
	events := parseSSE(t, w.Body.String())
	require.Len(t, events, 1)
	require.Equal(t, "done", events[0].name)

	var streamed server.TaskResult
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &streamed))

	wJSON := postTask(f, `{"prompt": "hi"}`)
	plain := decodeTaskResult(t, wJSON)

	// Plan generation timestamps differ between the two calls; the rest
	// must match exactly.
	require.NotNil(t, streamed.FallbackPlan)
	require.NotNil(t, plain.FallbackPlan)
	streamed.FallbackPlan.GeneratedAt = time.Time{}
	plain.FallbackPlan.GeneratedAt = time.Time{}
	assert.Equal(t, plain, streamed)

	assert.False(t, streamed.OK)
	assert.Equal(t, server.ResultCodeAllProvidersFailed, streamed.Code)
	require.Len(t, streamed.Providers, 2)
}

func TestStream_NotUsable(t *testing.T) {
	f := newFixture(t)
	f.readiness.snap = readiness.Snapshot{
		State:   readiness.StateSessionInvalid,
		Variant: readiness.VariantSessionInvalid,
		Usable:  false,
	}

	w := postStream(f, `{"prompt": "hi"}`, true)

	events := parseSSE(t, w.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "done", events[0].name)

	var result server.TaskResult
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &result))
	assert.False(t, result.OK)
	assert.Equal(t, server.ResultCodeNotReady, result.Code)
	assert.Equal(t, "session_invalid", result.Variant)
	assert.NotNil(t, result.FallbackPlan)
}

func TestStream_PlainJSONWithoutSSEAccept(t *testing.T) {
	f := newFixture(t)

	w := postStream(f, `{"prompt": "hi"}`, false)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var result server.TaskResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.OK)
	assert.Equal(t, "three deals need attention", result.Result)
}

func TestStream_MissingToken(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/assistant/task/stream",
		strings.NewReader(`{"prompt": "hi"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStream_EmptyPrompt(t *testing.T) {
	f := newFixture(t)

	w := postStream(f, `{"prompt": ""}`, true)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestStream_MalformedBody(t *testing.T) {
	f := newFixture(t)

	w := postStream(f, `{not json`, true)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStream_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.limiter.decision = ratelimit.Decision{Allowed: false, RetryAfter: 45 * time.Second}

	w := postStream(f, `{"prompt": "hi"}`, true)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "45", w.Header().Get("Retry-After"))
}

func TestStream_RunnerFailureEmitsErrorEvent(t *testing.T) {
	f := newFixture(t)
	f.runner.err = assert.AnError
	f.runner.run = func(opts provider.RunOptions) {
		opts.OnDelta(provider.KindAnthropic, "partial")
	}

	w := postStream(f, `{"prompt": "hi"}`, true)

	events := parseSSE(t, w.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "delta", events[0].name)
	assert.Equal(t, "error", events[1].name)
}
