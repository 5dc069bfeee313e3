package core

import (
	"errors"
	"fmt"
)

// ErrorCategory groups errors by how callers should react to them.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // bad input, never retried
	ErrCatTimeout    ErrorCategory = "timeout"
	ErrCatUpstream   ErrorCategory = "upstream" // remote execution service
	ErrCatAuth       ErrorCategory = "auth"
	ErrCatNotFound   ErrorCategory = "not_found"
	ErrCatConflict   ErrorCategory = "conflict" // duplicate run or lost race
	ErrCatState      ErrorCategory = "state"    // illegal status transition
	ErrCatInternal   ErrorCategory = "internal"
)

// Error codes shared across packages. Validation failures raised in a single
// place use ad hoc codes instead.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeTimeout           = "TIMEOUT"
	CodeAuthFailed        = "AUTH_FAILED"
	CodeUpstreamTransient = "UPSTREAM_TRANSIENT"
	CodeUpstreamFatal     = "UPSTREAM_FATAL"
	CodeDuplicateRun      = "DUPLICATE_RUN"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeEmptyPrompt       = "EMPTY_PROMPT"
	CodePromptTooLong     = "PROMPT_TOO_LONG"
	CodeMissingProject    = "MISSING_PROJECT"
	CodeInvalidStatus     = "INVALID_STATUS"
	CodeInvalidPayload    = "INVALID_PAYLOAD"
)

// MaxPromptLength bounds the compiled prompt accepted for a run.
const MaxPromptLength = 200000

// DomainError is the error type returned across package boundaries. The API
// layer maps Category to an HTTP status and exposes Code and Details to
// clients; the engine consults Retryable.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

func newDomainError(cat ErrorCategory, code, message string, retryable bool) *DomainError {
	return &DomainError{Category: cat, Code: code, Message: message, Retryable: retryable}
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
	if e.Cause != nil {
		msg += fmt.Sprintf(" (%v)", e.Cause)
	}
	return msg
}

func (e *DomainError) Unwrap() error { return e.Cause }

// Is matches another *DomainError with the same category and code, so
// sentinel comparisons ignore message and cause.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return e.Category == other.Category && e.Code == other.Code
}

// WithCause sets the wrapped error and returns e.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail attaches a key to Details and returns e.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

func ErrValidation(code, message string) *DomainError {
	return newDomainError(ErrCatValidation, code, message, false)
}

// ErrTimeout is retryable: a remote call that timed out is treated like any
// other transient upstream failure.
func ErrTimeout(message string) *DomainError {
	return newDomainError(ErrCatTimeout, CodeTimeout, message, true)
}

// ErrTransientUpstream covers network failures, 5xx and throttling.
func ErrTransientUpstream(message string) *DomainError {
	return newDomainError(ErrCatUpstream, CodeUpstreamTransient, message, true)
}

// ErrFatalUpstream covers 4xx, unknown handles and malformed responses.
func ErrFatalUpstream(message string) *DomainError {
	return newDomainError(ErrCatUpstream, CodeUpstreamFatal, message, false)
}

func ErrAuth(message string) *DomainError {
	return newDomainError(ErrCatAuth, CodeAuthFailed, message, false)
}

func ErrNotFound(resource, id string) *DomainError {
	return newDomainError(ErrCatNotFound, CodeNotFound, fmt.Sprintf("%s not found: %s", resource, id), false)
}

func ErrConflict(code, message string) *DomainError {
	return newDomainError(ErrCatConflict, code, message, false)
}

func ErrState(code, message string) *DomainError {
	return newDomainError(ErrCatState, code, message, false)
}

// GetCategory returns the category of the first DomainError in err's chain,
// or ErrCatInternal when there is none.
func GetCategory(err error) ErrorCategory {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Category
	}
	return ErrCatInternal
}

func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

func IsNotFound(err error) bool {
	return IsCategory(err, ErrCatNotFound)
}

// IsTransientUpstream reports whether err should be retried on the next poll
// cycle rather than failing the run.
func IsTransientUpstream(err error) bool {
	var de *DomainError
	if !errors.As(err, &de) || !de.Retryable {
		return false
	}
	return de.Category == ErrCatUpstream || de.Category == ErrCatTimeout
}
