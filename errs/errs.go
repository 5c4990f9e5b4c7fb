// Package errs provides structured error types and helpers for stocktake services.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies an error category used across the update pipeline.
type Code string

const (
	// CodeConfig indicates a configuration problem (missing admin DB, ambiguous primary store).
	CodeConfig Code = "config_error"
	// CodeNetwork indicates a connectivity failure against an external database.
	CodeNetwork Code = "network"
	// CodeNotFound indicates a missing resource (unknown store, unknown product).
	CodeNotFound Code = "not_found"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeAuth indicates an authentication failure.
	CodeAuth Code = "auth"
	// CodeConflict indicates the target rejected a mutation.
	CodeConflict Code = "conflict"
	// CodeUnavailable indicates a collaborator is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
	// CodeLogWrite indicates the local transaction log could not be written.
	CodeLogWrite Code = "log_write_failed"
)

// E captures structured error information produced across the stocktake stack.
// Target names the database the failure relates to (a store nickname, "admin",
// or "local"); Detail carries operator-facing context that must never reach an
// end user response.
type E struct {
	Target      string
	Code        Code
	Message     string
	Detail      string
	Remediation string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the target database and error code.
func New(target string, code Code, opts ...Option) *E {
	e := &E{
		Target:      strings.TrimSpace(target),
		Code:        code,
		Message:     "",
		Detail:      "",
		Remediation: "",
		cause:       nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable, user-safe message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithDetail captures operator-facing diagnostic detail.
func WithDetail(detail string) Option {
	return func(e *E) {
		e.Detail = strings.TrimSpace(detail)
	}
}

// WithRemediation attaches remediation guidance to the error.
func WithRemediation(remediation string) Option {
	trimmed := strings.TrimSpace(remediation)
	return func(e *E) {
		e.Remediation = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	target := strings.TrimSpace(e.Target)
	if target == "" {
		target = "unknown"
	}
	parts = append(parts, "target="+target)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.Detail != "" {
		parts = append(parts, "detail="+strconv.Quote(e.Detail))
	}
	if e.Remediation != "" {
		parts = append(parts, "remediation="+strconv.Quote(e.Remediation))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the error code from err, walking the unwrap chain.
// Errors that carry no envelope report CodeUnavailable.
func CodeOf(err error) Code {
	var envelope *E
	if errors.As(err, &envelope) {
		return envelope.Code
	}
	return CodeUnavailable
}

// IsCode reports whether err carries the supplied code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// UserMessage returns the user-safe message for err, falling back to a generic
// phrase so internal topology and credentials never leak to callers.
func UserMessage(err error) string {
	var envelope *E
	if errors.As(err, &envelope) && envelope.Message != "" {
		return envelope.Message
	}
	return "internal error"
}
