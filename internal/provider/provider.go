// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package provider

import (
	"context"

	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

// Kind identifies one of the supported upstream model vendors.
type Kind string

const (
	KindAnthropic Kind = "anthropic"
	KindOpenAI    Kind = "openai"
	KindGoogle    Kind = "google"
)

// Kinds returns all supported provider kinds.
func Kinds() []Kind {
	return []Kind{KindAnthropic, KindOpenAI, KindGoogle}
}

// Valid reports whether k is a supported provider kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAnthropic, KindOpenAI, KindGoogle:
		return true
	}
	return false
}

// Record is a tenant's configured upstream connection, read as a
// snapshot from the tenant configuration store. The orchestration core
// never mutates records.
type Record struct {
	ID     string
	Kind   Kind
	Active bool
}

// TaskCategory classifies an assistant request so the chain selector
// can apply task-specific provider affinity.
type TaskCategory string

const (
	TaskGeneral  TaskCategory = "general"
	TaskPlanning TaskCategory = "planning"
	TaskCoaching TaskCategory = "coaching"
	TaskAnalysis TaskCategory = "analysis"
	TaskChart    TaskCategory = "chart"
	TaskDefault  TaskCategory = "default"
)

// TaskCategories returns the full category domain, TaskDefault last.
func TaskCategories() []TaskCategory {
	return []TaskCategory{TaskGeneral, TaskPlanning, TaskCoaching, TaskAnalysis, TaskChart, TaskDefault}
}

// Normalize maps an unrecognized category to TaskDefault so chain
// selection always has a defined affinity order.
func (t TaskCategory) Normalize() TaskCategory {
	switch t {
	case TaskGeneral, TaskPlanning, TaskCoaching, TaskAnalysis, TaskChart, TaskDefault:
		return t
	}
	return TaskDefault
}

// TaskRequest is a single assistant task sent to one provider.
type TaskRequest struct {
	Task         TaskCategory
	Prompt       string
	SystemPrompt string
	Model        string
	MaxTokens    int
	Temperature  *float32
}

// TaskEvent is a streaming response event from a provider.
type TaskEvent struct {
	Type  EventType
	Text  string
	Usage *Usage
	Error string
}

// EventType defines the type of task event.
type EventType string

const (
	EventTypeTextDelta EventType = "text_delta"
	EventTypeUsage     EventType = "usage"
	EventTypeDone      EventType = "done"
	EventTypeError     EventType = "error"
)

// Usage tracks token consumption for one provider call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Provider is the interface implemented by each upstream vendor client.
type Provider interface {
	Kind() Kind
	Available(ctx context.Context) bool
	Run(ctx context.Context, req TaskRequest) (<-chan TaskEvent, error)
	Close() error
}

// Registry holds the constructed provider clients keyed by kind. It is
// populated once at startup from configuration; lookups during request
// handling are read-only.
type Registry struct {
	providers map[Kind]Provider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[Kind]Provider)}
}

// Register adds a provider client for its kind.
func (r *Registry) Register(p Provider) {
	r.providers[p.Kind()] = p
}

// Get returns the client for kind, or false if none is registered.
func (r *Registry) Get(kind Kind) (Provider, bool) {
	p, ok := r.providers[kind]
	return p, ok
}

// Records returns a snapshot of registered providers as Records, with
// Active reflecting each provider's current availability.
func (r *Registry) Records(ctx context.Context) []Record {
	records := make([]Record, 0, len(r.providers))
	for _, kind := range Kinds() {
		p, ok := r.providers[kind]
		if !ok {
			continue
		}
		records = append(records, Record{
			ID:     string(kind),
			Kind:   kind,
			Active: p.Available(ctx),
		})
	}
	return records
}

// Close shuts down all registered providers.
func (r *Registry) Close() error {
	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return pwerr.Join(errs...)
	}
	return nil
}
