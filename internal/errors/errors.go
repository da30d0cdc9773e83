// Package errors defines the closed error taxonomy shared by every runtime
// subsystem. Callers branch on Kind, never on error strings.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a runtime error. The set is closed; transport layers map
// kinds to status codes and UI copy.
type Kind string

const (
	KindValidation            Kind = "validation_error"
	KindParse                 Kind = "parse_error"
	KindBusiness              Kind = "business_error"
	KindToolNotFound          Kind = "tool_not_found"
	KindToolDeprecated        Kind = "tool_deprecated"
	KindToolExecutionFailed   Kind = "tool_execution_failed"
	KindNodeExecution         Kind = "node_execution_error"
	KindTimeout               Kind = "timeout"
	KindCancelled             Kind = "cancelled"
	KindInvalidTransition     Kind = "invalid_transition"
	KindQuotaExceeded         Kind = "quota_exceeded"
	KindRepositoryUnavailable Kind = "repository_unavailable"
	KindInvalidRequest        Kind = "invalid_request"
	KindInvalidContext        Kind = "invalid_context"
	KindConnectionClosed      Kind = "connection_closed"
)

// DomainError is the single error type the runtime returns across package
// boundaries. Meta carries structured detail (validator issue lists, node
// ids, decision snapshots) for the interface layer.
type DomainError struct {
	Kind      Kind
	Message   string
	Meta      map[string]any
	Retryable bool
	Err       error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Err }

// New creates a DomainError with the given kind and message.
func New(kind Kind, format string, args ...any) *DomainError {
	return &DomainError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message, preserving the chain.
func Wrap(err error, kind Kind, format string, args ...any) *DomainError {
	return &DomainError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithMeta attaches structured detail and returns the same error.
func (e *DomainError) WithMeta(key string, value any) *DomainError {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

// AsRetryable marks the error as safe to retry.
func (e *DomainError) AsRetryable() *DomainError {
	e.Retryable = true
	return e
}

// KindOf extracts the Kind from an error chain. Unknown errors report an
// empty kind so callers fail closed.
func KindOf(err error) Kind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// MetaOf returns the structured detail attached to err, or nil.
func MetaOf(err error) map[string]any {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Meta
	}
	return nil
}
