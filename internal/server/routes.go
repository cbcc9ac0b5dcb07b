// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pipewise-hq/pipewise/internal/escalate"
	"github.com/pipewise-hq/pipewise/internal/plan"
	"github.com/pipewise-hq/pipewise/internal/provider"
	"github.com/pipewise-hq/pipewise/internal/readiness"
)

// Wire-level result codes carried inside 200 responses. Exhaustion and
// not-ready outcomes are data the client renders, not transport errors.
const (
	ResultCodeAllProvidersFailed = "ALL_PROVIDERS_FAILED"
	ResultCodeNotReady           = "AI_NOT_READY"
	ResultCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
)

// Rate-limit bucket names. Chart generation is metered separately
// because chart tasks are the most expensive provider calls.
const (
	rateLimitScope        = "assistant"
	BucketAssistantTask   = "assistant_task"
	BucketChartGeneration = "chart_generation"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "assistant-readiness",
		Method:      http.MethodGet,
		Path:        "/api/v1/assistant/readiness",
		Summary:     "Assistant readiness snapshot",
		Tags:        []string{"assistant"},
	}, s.handleReadiness)

	huma.Register(s.api, huma.Operation{
		OperationID: "assistant-task",
		Method:      http.MethodPost,
		Path:        "/api/v1/assistant/task",
		Summary:     "Run an assistant task",
		Description: "Walks the task's provider chain and returns the first accepted response. Chain exhaustion is reported as a 200 with ok=false and a deterministic fallback plan.",
		Tags:        []string{"assistant"},
	}, s.handleTask)

	huma.Register(s.api, huma.Operation{
		OperationID: "assistant-providers",
		Method:      http.MethodGet,
		Path:        "/api/v1/assistant/providers",
		Summary:     "Per-provider health metrics",
		Tags:        []string{"assistant"},
	}, s.handleProviderHealth)
}

// --- Request/Response types for huma ---

type readinessOutput struct {
	Body ReadinessBody
}

// ReadinessBody is the readiness snapshot as rendered to clients.
type ReadinessBody struct {
	State   string `json:"state" doc:"Readiness state machine position"`
	Variant string `json:"variant" doc:"UI variant the client should render"`
	Usable  bool   `json:"usable" doc:"Whether assistant tasks may be submitted"`
	Detail  string `json:"detail,omitempty" doc:"Human-readable context for degraded states"`
}

type taskInput struct {
	Authorization string `header:"Authorization"`
	Body          struct {
		Task      string `json:"task,omitempty" doc:"Task category (general, planning, coaching, analysis, chart)"`
		Prompt    string `json:"prompt" minLength:"1" doc:"Task prompt"`
		System    string `json:"system,omitempty" doc:"Optional system prompt"`
		Model     string `json:"model,omitempty" doc:"Optional model override"`
		MaxTokens int    `json:"max_tokens,omitempty" minimum:"0" doc:"Optional completion token cap"`
	}
}

type taskOutput struct {
	Status     int
	RetryAfter string `header:"Retry-After"`
	Body       TaskResult
}

// TaskResult is the union response body of the task endpoint. Exactly
// one of the success fields (Result, Provider) or the failure fields
// (Code, Providers, FallbackPlan) is populated; OK discriminates.
type TaskResult struct {
	OK           bool                      `json:"ok"`
	Result       string                    `json:"result,omitempty" doc:"Accepted provider response text"`
	Provider     provider.Kind             `json:"provider,omitempty" doc:"Provider that produced the result"`
	Code         string                    `json:"code,omitempty" doc:"Failure code when ok is false"`
	Variant      string                    `json:"variant,omitempty" doc:"Readiness variant when the assistant is not usable"`
	Providers    []provider.AttemptFailure `json:"providers,omitempty" doc:"Ordered per-provider failure reasons"`
	FallbackPlan *plan.Plan                `json:"fallbackPlan,omitempty" doc:"Deterministic non-AI action plan"`
}

type providerHealthInput struct {
	Authorization string `header:"Authorization"`
}

type providerHealthOutput struct {
	Body struct {
		Providers []ProviderHealthEntry `json:"providers"`
	}
}

// --- Handlers ---

func (s *Server) handleReadiness(ctx context.Context, _ *struct{}) (*readinessOutput, error) {
	snap, err := s.services.Readiness().Check(ctx)
	if err != nil {
		slog.Error("readiness check failed", "error", err)
		return nil, huma.Error500InternalServerError("checking readiness", err)
	}

	out := &readinessOutput{}
	out.Body = ReadinessBody{
		State:   string(snap.State),
		Variant: string(snap.Variant),
		Usable:  snap.Usable,
		Detail:  readinessDetail(snap),
	}
	return out, nil
}

func (s *Server) handleTask(ctx context.Context, input *taskInput) (*taskOutput, error) {
	session, err := s.authorize(ctx, input.Authorization)
	if err != nil {
		return nil, err
	}

	snap, err := s.services.Readiness().Check(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("checking readiness", err)
	}
	if !snap.Usable {
		s.services.Escalations().Report(escalate.Event{
			Category: escalate.CategoryBlankState,
			Code:     string(snap.Variant),
			Message:  "task submitted while assistant not usable",
		})
		out := &taskOutput{Status: http.StatusOK}
		out.Body = TaskResult{
			OK:           false,
			Code:         ResultCodeNotReady,
			Variant:      string(snap.Variant),
			FallbackPlan: s.buildFallbackPlan(ctx),
		}
		return out, nil
	}

	task := provider.TaskCategory(input.Body.Task).Normalize()

	decision, err := s.services.Limiter().Allow(ctx, session.Subject, rateLimitScope, bucketFor(task))
	if err != nil {
		slog.Error("rate limit check failed", "error", err, "subject", session.Subject)
		return nil, huma.Error500InternalServerError("checking rate limit", err)
	}
	if !decision.Allowed {
		out := &taskOutput{
			Status:     http.StatusTooManyRequests,
			RetryAfter: retryAfterSeconds(decision.RetryAfter),
		}
		out.Body = TaskResult{OK: false, Code: ResultCodeRateLimited}
		return out, nil
	}

	req := provider.TaskRequest{
		Task:         task,
		Prompt:       input.Body.Prompt,
		SystemPrompt: input.Body.System,
		Model:        input.Body.Model,
		MaxTokens:    input.Body.MaxTokens,
	}
	chain := provider.BuildChain(task, snap.Providers)

	outcome, err := s.services.Runner().Run(ctx, req, chain, provider.RunOptions{
		Subject: session.Subject,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("running task", err)
	}

	out := &taskOutput{Status: http.StatusOK}
	if outcome.OK {
		out.Body = TaskResult{
			OK:       true,
			Result:   outcome.Result.Text,
			Provider: outcome.Result.Provider,
		}
		return out, nil
	}

	s.services.Escalations().Report(escalate.Event{
		Category: escalate.CategoryUXRegression,
		Code:     ResultCodeAllProvidersFailed,
		Message:  "provider chain exhausted for task " + string(task),
	})

	out.Body = s.exhaustionResult(ctx, outcome.Failures)
	return out, nil
}

func (s *Server) handleProviderHealth(ctx context.Context, input *providerHealthInput) (*providerHealthOutput, error) {
	if _, err := s.authorize(ctx, input.Authorization); err != nil {
		return nil, err
	}
	if s.services.Providers() == nil {
		return nil, huma.Error503ServiceUnavailable("provider health unavailable")
	}

	entries, err := s.services.Providers().ProviderHealth(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("reading provider health", err)
	}

	out := &providerHealthOutput{}
	out.Body.Providers = entries
	if out.Body.Providers == nil {
		out.Body.Providers = []ProviderHealthEntry{}
	}
	return out, nil
}

// --- Helpers ---

// exhaustionResult builds the terminal failure payload shared by the
// JSON and SSE paths. The fallback plan is always present: plan
// building is total, even over an empty deal list.
func (s *Server) exhaustionResult(ctx context.Context, failures []provider.AttemptFailure) TaskResult {
	if failures == nil {
		failures = []provider.AttemptFailure{}
	}
	return TaskResult{
		OK:           false,
		Code:         ResultCodeAllProvidersFailed,
		Providers:    failures,
		FallbackPlan: s.buildFallbackPlan(ctx),
	}
}

func (s *Server) buildFallbackPlan(ctx context.Context) *plan.Plan {
	deals, err := s.services.Deals().ListOpenDeals(ctx)
	if err != nil {
		// The plan must still render; an unreachable deal store only
		// costs plan detail, not the fallback itself.
		slog.Warn("listing open deals for fallback plan failed", "error", err)
		deals = nil
	}
	p := plan.Build(deals, time.Now())
	return &p
}

func bucketFor(task provider.TaskCategory) string {
	if task == provider.TaskChart {
		return BucketChartGeneration
	}
	return BucketAssistantTask
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func readinessDetail(snap readiness.Snapshot) string {
	switch {
	case snap.Context.HealthMessage != "":
		return snap.Context.HealthMessage
	case snap.Context.ConfigMessage != "":
		return snap.Context.ConfigMessage
	case snap.Context.SessionCode != "":
		return snap.Context.SessionCode
	}
	return ""
}
