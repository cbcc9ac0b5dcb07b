// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package provider

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

// FailureClass partitions provider failures for the retry policy and
// for caller-facing diagnostics. Only the transient class is eligible
// for the narrower retry policy, and then only against a different
// provider in the same chain pass.
type FailureClass string

const (
	FailureInvalidCredential FailureClass = "invalid_credential"
	FailureQuota             FailureClass = "quota_exceeded"
	FailureTransient         FailureClass = "transient"
	FailureProviderError     FailureClass = "provider_error"
)

// AttemptFailure records why one provider in the chain was rejected.
type AttemptFailure struct {
	Provider Kind         `json:"provider"`
	Class    FailureClass `json:"code"`
	Message  string       `json:"message"`
}

// Success is the winning attempt of a chain pass.
type Success struct {
	Provider Kind          `json:"provider"`
	Text     string        `json:"result"`
	Usage    Usage         `json:"-"`
	Latency  time.Duration `json:"-"`
}

// Outcome is the result of one chain execution. Exhaustion is a data
// outcome, not an error: OK is false and Failures holds the ordered
// per-provider reasons.
type Outcome struct {
	OK       bool
	Result   *Success
	Failures []AttemptFailure
}

// UsageEntry is one append-only usage log record. The executor is the
// sole producer; billing and analytics consume it elsewhere.
type UsageEntry struct {
	Subject     string
	RequestKind string
	Provider    Kind
	TokensIn    int
	TokensOut   int
	Success     bool
	ErrorCode   string
	Timestamp   time.Time
}

// UsageSink receives usage entries. Implementations must never block
// the response path; failures are swallowed after logging.
type UsageSink interface {
	Append(entry UsageEntry)
}

// RunOptions carries per-request executor hooks.
type RunOptions struct {
	// Subject is the rate-limit / billing subject, recorded on usage entries.
	Subject string
	// OnDelta, when set, receives text deltas of the attempt in flight.
	// A later AttemptFailure for the same provider invalidates deltas
	// already forwarded; streaming callers surface that in-band.
	OnDelta func(kind Kind, text string)
	// OnAttemptFailed, when set, is called as each provider is rejected.
	OnAttemptFailed func(failure AttemptFailure)
}

// Executor walks a provider chain sequentially, one outbound call at a
// time, validating each response through the soft-failure classifier
// and stopping at the first accepted response.
type Executor struct {
	registry    *Registry
	classifier  *Classifier
	sink        UsageSink
	callTimeout time.Duration
	nowFunc     func() time.Time
}

// DefaultCallTimeout bounds a single provider call.
const DefaultCallTimeout = 60 * time.Second

// NewExecutor creates an Executor. A zero callTimeout applies the default.
func NewExecutor(registry *Registry, classifier *Classifier, sink UsageSink, callTimeout time.Duration) *Executor {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Executor{
		registry:    registry,
		classifier:  classifier,
		sink:        sink,
		callTimeout: callTimeout,
		nowFunc:     time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (e *Executor) SetNowFunc(fn func() time.Time) {
	e.nowFunc = fn
}

// Run executes req against chain in order. Provider failures never
// escape as errors; they accumulate into the returned Outcome. The only
// error returns are caller cancellation and invalid input, which the
// layer above must handle itself.
func (e *Executor) Run(ctx context.Context, req TaskRequest, chain []Kind, opts RunOptions) (Outcome, error) {
	if req.Prompt == "" {
		return Outcome{}, pwerr.New(pwerr.CodeProviderRequestInvalid, "task prompt must not be empty")
	}

	failures := make([]AttemptFailure, 0, len(chain))

	for _, kind := range chain {
		if err := ctx.Err(); err != nil {
			// Caller went away. Scope of the cancellation is exactly this
			// request; the chain is not marked exhausted for anyone else.
			return Outcome{}, pwerr.Wrapf(err, pwerr.CodeProviderTransientFailure, "request cancelled before calling %s", kind)
		}

		p, ok := e.registry.Get(kind)
		if !ok {
			failures = e.recordFailure(failures, opts, AttemptFailure{
				Provider: kind,
				Class:    FailureProviderError,
				Message:  "provider not registered",
			}, req)
			continue
		}

		success, failure := e.attempt(ctx, p, req, opts)
		if failure != nil {
			if ctx.Err() != nil {
				return Outcome{}, pwerr.Wrapf(ctx.Err(), pwerr.CodeProviderTransientFailure, "request cancelled during %s call", kind)
			}
			failures = e.recordFailure(failures, opts, *failure, req)
			continue
		}

		e.record(req, opts.Subject, success.Provider, success.Usage, true, "")
		slog.Debug("provider chain succeeded",
			"provider", success.Provider,
			"task", req.Task,
			"latency_ms", success.Latency.Milliseconds(),
			"failed_attempts", len(failures),
		)
		return Outcome{OK: true, Result: success, Failures: failures}, nil
	}

	slog.Warn("provider chain exhausted",
		"task", req.Task,
		"attempts", len(failures),
	)
	return Outcome{OK: false, Failures: failures}, nil
}

// attempt issues one bounded call and validates the response. Exactly
// one of the return values is non-nil.
func (e *Executor) attempt(ctx context.Context, p Provider, req TaskRequest, opts RunOptions) (*Success, *AttemptFailure) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	start := e.nowFunc()

	eventCh, err := p.Run(callCtx, req)
	if err != nil {
		return nil, &AttemptFailure{
			Provider: p.Kind(),
			Class:    classifyError(err),
			Message:  err.Error(),
		}
	}

	var (
		text  strings.Builder
		usage Usage
	)

	for {
		select {
		case <-callCtx.Done():
			return nil, &AttemptFailure{
				Provider: p.Kind(),
				Class:    FailureTransient,
				Message:  "provider call timed out",
			}
		case event, open := <-eventCh:
			if !open {
				return e.accept(p, text.String(), usage, start)
			}
			switch event.Type {
			case EventTypeTextDelta:
				text.WriteString(event.Text)
				if opts.OnDelta != nil {
					opts.OnDelta(p.Kind(), event.Text)
				}
			case EventTypeUsage:
				if event.Usage != nil {
					usage.InputTokens += event.Usage.InputTokens
					usage.OutputTokens += event.Usage.OutputTokens
				}
			case EventTypeError:
				// Fail fast on a mid-stream error envelope.
				return nil, &AttemptFailure{
					Provider: p.Kind(),
					Class:    classifyMessage(event.Error),
					Message:  event.Error,
				}
			case EventTypeDone:
				return e.accept(p, text.String(), usage, start)
			}
		}
	}
}

// accept runs the soft-failure classifier over the accumulated text of
// a transport-successful response before declaring the attempt won.
func (e *Executor) accept(p Provider, text string, usage Usage, start time.Time) (*Success, *AttemptFailure) {
	if soft, phrase := e.classifier.IsSoftFailure(text); soft {
		slog.Warn("soft failure detected in successful-looking response",
			"provider", p.Kind(),
			"phrase", phrase,
		)
		return nil, &AttemptFailure{
			Provider: p.Kind(),
			Class:    classifyMessage(phrase),
			Message:  "provider reported failure in response body: " + phrase,
		}
	}
	if text == "" {
		return nil, &AttemptFailure{
			Provider: p.Kind(),
			Class:    FailureProviderError,
			Message:  "provider returned an empty response",
		}
	}
	return &Success{
		Provider: p.Kind(),
		Text:     text,
		Usage:    usage,
		Latency:  e.nowFunc().Sub(start),
	}, nil
}

func (e *Executor) recordFailure(failures []AttemptFailure, opts RunOptions, failure AttemptFailure, req TaskRequest) []AttemptFailure {
	slog.Warn("provider attempt failed",
		"provider", failure.Provider,
		"class", failure.Class,
		"message", failure.Message,
	)
	e.record(req, opts.Subject, failure.Provider, Usage{}, false, string(failure.Class))
	if opts.OnAttemptFailed != nil {
		opts.OnAttemptFailed(failure)
	}
	return append(failures, failure)
}

func (e *Executor) record(req TaskRequest, subject string, kind Kind, usage Usage, success bool, errorCode string) {
	if e.sink == nil {
		return
	}
	e.sink.Append(UsageEntry{
		Subject:     subject,
		RequestKind: string(req.Task),
		Provider:    kind,
		TokensIn:    usage.InputTokens,
		TokensOut:   usage.OutputTokens,
		Success:     success,
		ErrorCode:   errorCode,
		Timestamp:   e.nowFunc().UTC(),
	})
}

// classifyError maps a transport-level error into a failure class.
func classifyError(err error) FailureClass {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureTransient
	}
	return classifyMessage(err.Error())
}

// classifyMessage buckets an error message or matched phrase by keyword.
func classifyMessage(msg string) FailureClass {
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "key") ||
		strings.Contains(lowered, "auth") ||
		strings.Contains(lowered, "credential") ||
		strings.Contains(lowered, "unauthorized") ||
		strings.Contains(lowered, "forbidden"):
		return FailureInvalidCredential
	case strings.Contains(lowered, "quota") ||
		strings.Contains(lowered, "rate limit") ||
		strings.Contains(lowered, "rate_limit") ||
		strings.Contains(lowered, "exhausted") ||
		strings.Contains(lowered, "billing"):
		return FailureQuota
	case strings.Contains(lowered, "timeout") ||
		strings.Contains(lowered, "timed out") ||
		strings.Contains(lowered, "deadline") ||
		strings.Contains(lowered, "unreachable") ||
		strings.Contains(lowered, "connection") ||
		strings.Contains(lowered, "unavailable") ||
		strings.Contains(lowered, "overloaded"):
		return FailureTransient
	default:
		return FailureProviderError
	}
}
