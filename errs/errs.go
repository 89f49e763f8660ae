// Package errs provides structured error types for the engine's
// components: session, chain, and book raise errors tagged with the
// component name and a stable code, instead of bare fmt.Errorf strings,
// so a log line or a future alert rule can match on Code without parsing
// prose.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies a component-specific error category.
type Code string

const (
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeAuth indicates a failed or rejected authentication handshake.
	CodeAuth Code = "auth"
	// CodeNetwork indicates a network transport failure.
	CodeNetwork Code = "network"
	// CodeExchange indicates a venue-reported control-plane condition
	// (an error frame, maintenance mode, a compensating unwind).
	CodeExchange Code = "exchange_error"
	// CodeTimeout indicates a deadline was exceeded waiting for an
	// acknowledgment or fill.
	CodeTimeout Code = "timeout"
	// CodeVersionMismatch indicates the venue's protocol version differs
	// from the compiled-in one.
	CodeVersionMismatch Code = "version_mismatch"
)

// CanonicalCode captures venue-agnostic error categories, orthogonal to
// Code: two components can both raise CodeExchange while meaning very
// different things (maintenance vs. a compensating unwind), and
// CanonicalCode is where that distinction lives.
type CanonicalCode string

const (
	// CanonicalUnknown captures uncategorized failures.
	CanonicalUnknown CanonicalCode = "unknown"
	// CanonicalCapabilityMissing indicates the session's API key lacks a
	// required trading capability.
	CanonicalCapabilityMissing CanonicalCode = "capability_missing"
	// CanonicalMaintenanceMode indicates trading is suppressed during
	// venue maintenance.
	CanonicalMaintenanceMode CanonicalCode = "maintenance_mode"
	// CanonicalChainCompensating indicates an order chain is unwinding
	// after a step failure.
	CanonicalChainCompensating CanonicalCode = "chain_compensating"
)

// E captures structured error information produced across the engine's
// components.
type E struct {
	Component string
	Code      Code
	RawCode   string
	RawMsg    string
	Message   string
	Canonical CanonicalCode
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope tagged with the raising component (e.g.
// "session", "chain", "book") and a code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
		Canonical: CanonicalUnknown,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithRawCode captures the raw venue error code from a control-plane error
// frame.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw venue error message from a control-plane
// error frame.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCanonicalCode sets the canonical error code describing the failure
// category.
func WithCanonicalCode(code CanonicalCode) Option {
	trimmed := strings.TrimSpace(string(code))
	return func(e *E) {
		if trimmed == "" {
			e.Canonical = CanonicalUnknown
			return
		}
		e.Canonical = CanonicalCode(trimmed)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if cc := strings.TrimSpace(string(e.Canonical)); cc != "" && cc != string(CanonicalUnknown) {
		parts = append(parts, "canonical="+cc)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}

	return strings.Join(parts, " ")
}
