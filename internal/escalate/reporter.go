// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

// Package escalate rate-limits duplicate telemetry events and raises
// one escalation signal per window when failures turn systemic. Window
// state is process-local on purpose: the reporter exists to suppress
// alert noise, not to do exact accounting, so brief undercounting
// across instances is acceptable.
package escalate

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Category groups failure events for independent throttling.
type Category string

const (
	CategoryInvariantViolation Category = "invariant_violation"
	CategoryUXRegression       Category = "ux_regression"
	CategoryAuthAnomaly        Category = "auth_anomaly"
	CategorySessionError       Category = "session_error"
	CategoryBlankState         Category = "blank_state"
)

// CategoryConfig tunes one category's window.
type CategoryConfig struct {
	Window                  time.Duration
	MaxPerWindow            int
	DistinctCodesToEscalate int
}

// Event is one reported failure occurrence.
type Event struct {
	Category Category
	Code     string
	Message  string
}

// Escalation is the at-most-once-per-window systemic-failure signal.
type Escalation struct {
	Category      Category
	DistinctCodes []string
	RawCount      int
	WindowStart   time.Time
}

// Outcome describes what the reporter did with one event.
type Outcome struct {
	Forwarded bool
	Escalated bool
}

// Reporter throttles events per category. Construct with explicit
// forward/escalate hooks and an injectable clock so window rollover is
// testable without wall-clock sleeps.
type Reporter struct {
	mu       sync.Mutex
	configs  map[Category]CategoryConfig
	windows  map[Category]*window
	nowFunc  func() time.Time
	forward  func(Event)
	escalate func(Escalation)
}

type window struct {
	start     time.Time
	rawCount  int
	codes     map[string]struct{}
	escalated bool
}

// DefaultConfigs is the per-category tuning used when configuration
// does not override it.
func DefaultConfigs() map[Category]CategoryConfig {
	return map[Category]CategoryConfig{
		CategoryInvariantViolation: {Window: 5 * time.Minute, MaxPerWindow: 5, DistinctCodesToEscalate: 3},
		CategoryUXRegression:       {Window: 10 * time.Minute, MaxPerWindow: 10, DistinctCodesToEscalate: 4},
		CategoryAuthAnomaly:        {Window: 5 * time.Minute, MaxPerWindow: 5, DistinctCodesToEscalate: 2},
		CategorySessionError:       {Window: 5 * time.Minute, MaxPerWindow: 8, DistinctCodesToEscalate: 3},
		CategoryBlankState:         {Window: 15 * time.Minute, MaxPerWindow: 3, DistinctCodesToEscalate: 2},
	}
}

// NewReporter creates a Reporter. Nil hooks default to structured logs.
func NewReporter(configs map[Category]CategoryConfig, forward func(Event), escalate func(Escalation)) *Reporter {
	if len(configs) == 0 {
		configs = DefaultConfigs()
	}
	if forward == nil {
		forward = func(ev Event) {
			slog.Warn("failure reported", "category", ev.Category, "code", ev.Code, "message", ev.Message)
		}
	}
	if escalate == nil {
		escalate = func(esc Escalation) {
			slog.Error("failure pattern escalated",
				"category", esc.Category,
				"distinct_codes", esc.DistinctCodes,
				"raw_count", esc.RawCount,
			)
		}
	}
	return &Reporter{
		configs:  configs,
		windows:  make(map[Category]*window),
		nowFunc:  time.Now,
		forward:  forward,
		escalate: escalate,
	}
}

// SetNowFunc overrides the time source (for testing).
func (r *Reporter) SetNowFunc(fn func() time.Time) {
	r.mu.Lock()
	r.nowFunc = fn
	r.mu.Unlock()
}

// Report counts one event. Events beyond the per-window cap are
// suppressed but still counted; the escalation signal fires at most
// once per window per category, when the distinct-code threshold is
// reached.
func (r *Reporter) Report(ev Event) Outcome {
	r.mu.Lock()

	cfg, ok := r.configs[ev.Category]
	if !ok {
		// Unconfigured categories forward unthrottled.
		r.mu.Unlock()
		r.forward(ev)
		return Outcome{Forwarded: true}
	}

	now := r.nowFunc()
	w := r.windows[ev.Category]
	if w == nil || now.Sub(w.start) >= cfg.Window {
		w = &window{start: now, codes: make(map[string]struct{})}
		r.windows[ev.Category] = w
	}

	w.rawCount++
	w.codes[ev.Code] = struct{}{}

	forwarded := w.rawCount <= cfg.MaxPerWindow
	if w.rawCount == cfg.MaxPerWindow+1 {
		slog.Warn("failure reports capped for window",
			"category", ev.Category,
			"max_per_window", cfg.MaxPerWindow,
		)
	}

	var escalation *Escalation
	if !w.escalated && len(w.codes) >= cfg.DistinctCodesToEscalate {
		w.escalated = true
		escalation = &Escalation{
			Category:      ev.Category,
			DistinctCodes: sortedCodes(w.codes),
			RawCount:      w.rawCount,
			WindowStart:   w.start,
		}
	}
	r.mu.Unlock()

	if forwarded {
		r.forward(ev)
	}
	if escalation != nil {
		r.escalate(*escalation)
	}
	return Outcome{Forwarded: forwarded, Escalated: escalation != nil}
}

func sortedCodes(codes map[string]struct{}) []string {
	out := make([]string, 0, len(codes))
	for code := range codes {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
