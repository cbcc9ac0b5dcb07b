// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pipewise-hq/pipewise/internal/escalate"
	"github.com/pipewise-hq/pipewise/internal/provider"
)

// TaskStreamRequest is the request body for the SSE streaming endpoint.
type TaskStreamRequest struct {
	Task      string `json:"task,omitempty" doc:"Task category"`
	Prompt    string `json:"prompt" minLength:"1" doc:"Task prompt"`
	System    string `json:"system,omitempty" doc:"Optional system prompt"`
	Model     string `json:"model,omitempty" doc:"Optional model override"`
	MaxTokens int    `json:"max_tokens,omitempty" doc:"Optional completion token cap"`
}

func (s *Server) registerStreamRoute() {
	s.router.Post("/api/v1/assistant/task/stream", s.handleTaskStream)

	// Register the operation in the OpenAPI spec manually. The SSE
	// streaming handler needs raw http.ResponseWriter access, so it
	// cannot use Huma's standard handler signature. The chi route above
	// does the actual request handling; this entry documents it.
	minPromptLen := 1
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "assistant-task-stream",
		Method:      http.MethodPost,
		Path:        "/api/v1/assistant/task/stream",
		Summary:     "Run an assistant task with streamed output",
		Description: "Streams provider deltas as they arrive. Provider fallback happens mid-stream: a failed attempt emits an attempt_failed event invalidating prior deltas, and the next provider's deltas follow. The terminal done event carries the same result payload as the non-streaming task endpoint.",
		Tags:        []string{"assistant"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: &huma.Schema{
						Type:     "object",
						Required: []string{"prompt"},
						Properties: map[string]*huma.Schema{
							"task": {
								Type:        "string",
								Description: "Task category",
							},
							"prompt": {
								Type:        "string",
								MinLength:   &minPromptLen,
								Description: "Task prompt",
							},
							"system": {
								Type:        "string",
								Description: "Optional system prompt",
							},
							"model": {
								Type:        "string",
								Description: "Optional model override",
							},
							"max_tokens": {
								Type:        "integer",
								Description: "Optional completion token cap",
							},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Streaming response (SSE), or the plain task result for non-SSE Accept headers",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {
						Schema: &huma.Schema{
							Type:        "string",
							Description: "Server-sent event stream (delta, attempt_failed, done)",
						},
					},
					"application/json": {
						Schema: &huma.Schema{
							Type:        "object",
							Description: "Task result, identical to the non-streaming endpoint",
						},
					},
				},
			},
			"401": {Description: "Session invalid"},
			"422": {Description: "Validation error (missing prompt)"},
			"429": {Description: "Rate limit exceeded"},
		},
	})
}

func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	var req TaskStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeJSONError(w, http.StatusUnprocessableEntity, "prompt is required")
		return
	}

	ctx := r.Context()

	session, err := s.authorize(ctx, r.Header.Get("Authorization"))
	if err != nil {
		writeJSONError(w, statusOf(err), "session invalid")
		return
	}

	snap, err := s.services.Readiness().Check(ctx)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "checking readiness")
		return
	}

	sse := strings.Contains(r.Header.Get("Accept"), "text/event-stream")

	if !snap.Usable {
		s.services.Escalations().Report(escalate.Event{
			Category: escalate.CategoryBlankState,
			Code:     string(snap.Variant),
			Message:  "task submitted while assistant not usable",
		})
		result := TaskResult{
			OK:           false,
			Code:         ResultCodeNotReady,
			Variant:      string(snap.Variant),
			FallbackPlan: s.buildFallbackPlan(ctx),
		}
		s.writeTerminal(w, sse, result)
		return
	}

	task := provider.TaskCategory(req.Task).Normalize()

	decision, err := s.services.Limiter().Allow(ctx, session.Subject, rateLimitScope, bucketFor(task))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "checking rate limit")
		return
	}
	if !decision.Allowed {
		w.Header().Set("Retry-After", retryAfterSeconds(decision.RetryAfter))
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	taskReq := provider.TaskRequest{
		Task:         task,
		Prompt:       req.Prompt,
		SystemPrompt: req.System,
		Model:        req.Model,
		MaxTokens:    req.MaxTokens,
	}
	chain := provider.BuildChain(task, snap.Providers)

	var stream *sseWriter
	opts := provider.RunOptions{Subject: session.Subject}
	if sse {
		stream = newSSEWriter(w)
		// Fallback is visible mid-stream: deltas of the attempt in
		// flight stream live, and a failed attempt emits an in-band
		// invalidation event before the next provider starts.
		opts.OnDelta = func(kind provider.Kind, text string) {
			stream.writeEvent("delta", deltaPayload{Provider: kind, Text: text})
		}
		opts.OnAttemptFailed = func(f provider.AttemptFailure) {
			stream.writeEvent("attempt_failed", f)
		}
	}

	outcome, err := s.services.Runner().Run(ctx, taskReq, chain, opts)
	if err != nil {
		if stream != nil {
			stream.writeEvent("error", map[string]string{"message": "task aborted"})
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "running task")
		return
	}

	var result TaskResult
	if outcome.OK {
		result = TaskResult{
			OK:       true,
			Result:   outcome.Result.Text,
			Provider: outcome.Result.Provider,
		}
	} else {
		s.services.Escalations().Report(escalate.Event{
			Category: escalate.CategoryUXRegression,
			Code:     ResultCodeAllProvidersFailed,
			Message:  "provider chain exhausted for task " + string(task),
		})
		result = s.exhaustionResult(ctx, outcome.Failures)
	}

	if stream != nil {
		stream.writeEvent("done", result)
		return
	}
	s.writeTerminal(w, false, result)
}

type deltaPayload struct {
	Provider provider.Kind `json:"provider"`
	Text     string        `json:"text"`
}

// writeTerminal writes the terminal task result either as the single
// done event of an SSE stream or as a plain JSON body. Both carry the
// same TaskResult payload.
func (s *Server) writeTerminal(w http.ResponseWriter, sse bool, result TaskResult) {
	if sse {
		newSSEWriter(w).writeEvent("done", result)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// sseWriter serializes server-sent events onto a response writer,
// setting the stream headers on first write.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	// httptest.ResponseRecorder doesn't implement Flusher, but the
	// events are still written for testability.
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

func (sw *sseWriter) writeEvent(event string, payload any) {
	if !sw.started {
		sw.w.Header().Set("Content-Type", "text/event-stream")
		sw.w.Header().Set("Cache-Control", "no-cache")
		sw.w.Header().Set("Connection", "keep-alive")
		sw.started = true
	}

	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// statusOf extracts the HTTP status from a huma error, defaulting to 500.
func statusOf(err error) int {
	if se, ok := err.(huma.StatusError); ok {
		return se.GetStatus()
	}
	return http.StatusInternalServerError
}
