// Package errors provides the coded failures surfaced by the sync core and its HTTP surfaces.
//
// Usage:
//
//	// In the sync core - return typed errors
//	if strings.TrimSpace(name) == "" {
//	    return errors.Validation("list name is required")
//	}
//
//	// In handlers - check with errors.Is
//	if errors.Is(err, errors.ErrNotReady) {
//	    ...
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeValidation   Code = "VALIDATION"
	CodeNotReady     Code = "NOT_READY"
	CodeStore        Code = "STORE"
	CodeAtomicBatch  Code = "ATOMIC_BATCH"
	CodeNotFound     Code = "NOT_FOUND"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeInternal     Code = "INTERNAL"
)

// HTTPStatus returns the appropriate HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotReady, CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeStore, CodeAtomicBatch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details, cause: e.cause}
}

// Sentinel errors for use with errors.Is().
var (
	ErrValidation   = &Error{Code: CodeValidation, Message: "validation error"}
	ErrNotReady     = &Error{Code: CodeNotReady, Message: "identity not ready"}
	ErrStore        = &Error{Code: CodeStore, Message: "store error"}
	ErrAtomicBatch  = &Error{Code: CodeAtomicBatch, Message: "atomic batch failed"}
	ErrNotFound     = &Error{Code: CodeNotFound, Message: "not found"}
	ErrUnauthorized = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrInternal     = &Error{Code: CodeInternal, Message: "internal error"}
)

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// NotReady creates an identity-not-ready error.
func NotReady(msg string) *Error {
	return &Error{Code: CodeNotReady, Message: msg}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

// Store wraps a failed store call.
func Store(err error, msg string) *Error {
	return &Error{Code: CodeStore, Message: msg, cause: err}
}

// AtomicBatch wraps a failed cascading delete batch.
func AtomicBatch(err error, msg string) *Error {
	return &Error{Code: CodeAtomicBatch, Message: msg, cause: err}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
