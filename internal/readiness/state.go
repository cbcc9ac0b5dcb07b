// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

// Package readiness decides whether the AI assistant can run at all.
// A pure reducer sequences session validity, provider availability,
// configuration validity, and a health check into one composite state;
// a thin Checker drives the reducer against the external collaborators.
package readiness

// State is the composite availability state of the assistant for one
// caller session.
type State string

const (
	StateUninitialized         State = "UNINITIALIZED"
	StateSessionChecking       State = "SESSION_CHECKING"
	StateSessionInvalid        State = "SESSION_INVALID"
	StateProviderChecking      State = "PROVIDER_CHECKING"
	StateProviderNotConfigured State = "PROVIDER_NOT_CONFIGURED"
	StateConfigChecking        State = "CONFIG_CHECKING"
	StateConfigError           State = "CONFIG_ERROR"
	StateHealthCheckPending    State = "HEALTH_CHECK_PENDING"
	StateHealthCheckFailed     State = "HEALTH_CHECK_FAILED"
	StateReady                 State = "AI_READY"
	StateDegraded              State = "AI_DEGRADED"
	StateDisabled              State = "AI_DISABLED"
)

// Variant is the UI-facing tag derived from a State.
type Variant string

const (
	VariantLoading         Variant = "loading"
	VariantSessionInvalid  Variant = "session_invalid"
	VariantConnectProvider Variant = "connect_provider"
	VariantConfigError     Variant = "config_error"
	VariantHealthWarning   Variant = "health_warning"
	VariantReady           Variant = "ready"
	VariantDegraded        Variant = "degraded"
	VariantDisabled        Variant = "disabled"
)

// Variant maps the state to its UI-facing tag.
func (s State) Variant() Variant {
	switch s {
	case StateSessionInvalid:
		return VariantSessionInvalid
	case StateProviderNotConfigured:
		return VariantConnectProvider
	case StateConfigError:
		return VariantConfigError
	case StateHealthCheckFailed:
		return VariantHealthWarning
	case StateReady:
		return VariantReady
	case StateDegraded:
		return VariantDegraded
	case StateDisabled:
		return VariantDisabled
	default:
		return VariantLoading
	}
}

// Usable reports whether the assistant may serve requests in this
// state. Degraded is usable; callers present the quality concern but do
// not block the feature.
func (s State) Usable() bool {
	return s == StateReady || s == StateDegraded
}

// isChecking reports whether s is one of the in-flight check states
// from which an explicit disable is honored.
func (s State) isChecking() bool {
	switch s {
	case StateSessionChecking, StateProviderChecking, StateConfigChecking, StateHealthCheckPending:
		return true
	}
	return false
}

// EventType drives the reducer.
type EventType string

const (
	EventBegin            EventType = "BEGIN"
	EventSessionValid     EventType = "SESSION_VALID"
	EventSessionInvalid   EventType = "SESSION_INVALID"
	EventProvidersFound   EventType = "PROVIDERS_FOUND"
	EventProvidersMissing EventType = "PROVIDERS_MISSING"
	EventConfigValid      EventType = "CONFIG_VALID"
	EventConfigInvalid    EventType = "CONFIG_INVALID"
	EventHealthPassed     EventType = "HEALTH_PASSED"
	EventHealthDegraded   EventType = "HEALTH_DEGRADED"
	EventHealthFailed     EventType = "HEALTH_FAILED"
	EventDisable          EventType = "DISABLE"
	EventReset            EventType = "RESET"
)

// Event is one discrete input to the reducer. Code and Message are
// diagnostic only; they accumulate into the node context and never
// drive transitions.
type Event struct {
	Type    EventType
	Code    string
	Message string
	Count   int
}

// Context carries diagnostic fields accumulated across events.
type Context struct {
	SessionCode   string `json:"session_code,omitempty"`
	ProviderCount int    `json:"provider_count,omitempty"`
	ConfigCode    string `json:"config_code,omitempty"`
	ConfigMessage string `json:"config_message,omitempty"`
	HealthMessage string `json:"health_message,omitempty"`
}

// Node is the authoritative in-memory readiness representation.
type Node struct {
	State   State
	Context Context
}

// NewNode returns the initial node.
func NewNode() Node {
	return Node{State: StateUninitialized}
}

// Reduce applies one event to a node and returns the next node. It is
// a pure function: no clock, no I/O, and an event that is not valid for
// the current state leaves the node unchanged. Readiness is not sticky:
// from AI_READY or AI_DEGRADED a session or health failure transitions
// straight back to the corresponding failure state.
func Reduce(node Node, event Event) Node {
	switch event.Type {
	case EventReset:
		return NewNode()

	case EventDisable:
		if node.State.isChecking() {
			node.State = StateDisabled
			return node
		}
		return node

	case EventBegin:
		if node.State == StateUninitialized {
			node.State = StateSessionChecking
			return node
		}
		return node

	case EventSessionValid:
		if node.State == StateSessionChecking {
			node.State = StateProviderChecking
			return node
		}
		return node

	case EventSessionInvalid:
		if node.State == StateSessionChecking || node.State.Usable() {
			node.State = StateSessionInvalid
			node.Context.SessionCode = event.Code
			return node
		}
		return node

	case EventProvidersFound:
		if node.State == StateProviderChecking {
			node.State = StateConfigChecking
			node.Context.ProviderCount = event.Count
			return node
		}
		return node

	case EventProvidersMissing:
		if node.State == StateProviderChecking {
			node.State = StateProviderNotConfigured
			node.Context.ProviderCount = 0
			return node
		}
		return node

	case EventConfigValid:
		if node.State == StateConfigChecking {
			node.State = StateHealthCheckPending
			return node
		}
		return node

	case EventConfigInvalid:
		if node.State == StateConfigChecking {
			node.State = StateConfigError
			node.Context.ConfigCode = event.Code
			node.Context.ConfigMessage = event.Message
			return node
		}
		return node

	case EventHealthPassed:
		if node.State == StateHealthCheckPending {
			node.State = StateReady
			return node
		}
		return node

	case EventHealthDegraded:
		if node.State == StateHealthCheckPending {
			node.State = StateDegraded
			node.Context.HealthMessage = event.Message
			return node
		}
		return node

	case EventHealthFailed:
		if node.State == StateHealthCheckPending || node.State.Usable() {
			node.State = StateHealthCheckFailed
			node.Context.HealthMessage = event.Message
			return node
		}
		return node
	}

	return node
}
