// Package errors implements the two non-Finding error kinds flowctl's tool
// commands can raise: input errors, coded *_INPUT_INVALID by InputCode
// (caller-attributable, exit code 2), and internal errors, coded
// *_INTERNAL_ERROR by InternalCode (exit code 1), plus the AppError carrier
// for wrapped causes.
// Errors carry a stable Type, an HTTP-flavored StatusCode, optional
// Details, and an underlying Cause.
package errors

import (
	"fmt"
	"net/http"

	goerrors "github.com/go-faster/errors"
)

// ErrorType is a closed enum of error categories.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeInternal   ErrorType = "internal"
)

func statusCodeFor(t ErrorType) int {
	switch t {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuth:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeTimeout:
		return http.StatusRequestTimeout
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeDatabase, ErrorTypeNetwork, ErrorTypeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// AppError is a structured error carrying a category, a status code and an
// optional wrapped cause.
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Details    string
	Cause      error
}

// New creates an AppError with no cause.
func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusCodeFor(t)}
}

// Newf creates an AppError with a formatted message.
func Newf(t ErrorType, format string, args ...any) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

// Wrap wraps cause into an AppError, preserving it for Unwrap. The wrap is
// done through go-faster/errors so the resulting error carries a stack trace
// suitable for *_INTERNAL_ERROR diagnostics.
func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusCodeFor(t), Cause: goerrors.Wrap(cause, message)}
}

// Wrapf wraps cause with a formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...any) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// WithDetails sets Details and returns the same error, mutating in place.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf sets a formatted Details string.
func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// Validation, NotFound, Conflict, Internal are thin predefined constructors
// matching the categories the core actually raises.
func Validation(message string) *AppError { return New(ErrorTypeValidation, message) }
func NotFound(message string) *AppError   { return New(ErrorTypeNotFound, message) }
func Conflict(message string) *AppError   { return New(ErrorTypeConflict, message) }
func Internal(message string) *AppError   { return New(ErrorTypeInternal, message) }

// InputCode and InternalCode format the tool exit-code error codes flowctl
// attaches to its error envelopes.
func InputCode(prefix string) string    { return prefix + "_INPUT_INVALID" }
func InternalCode(prefix string) string { return prefix + "_INTERNAL_ERROR" }
