// Package apperror defines the error taxonomy shared by every layer.
//
// Services return (or wrap) an *AppError; handlers map the sentinel it
// carries to an HTTP status with errors.Is. Message is shown to the seller,
// so it is written in Portuguese and never contains internal details.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotConnected means the user has no usable marketplace credential.
	// The frontend branches on it to offer the connect flow.
	ErrNotConnected = errors.New("marketplace account not connected")

	// ErrUpstream covers non-2xx answers and timeouts from external services.
	ErrUpstream = errors.New("upstream failure")

	// ErrUnavailable means an optional integration is not configured.
	ErrUnavailable = errors.New("service unavailable")
)

type AppError struct {
	Err     error  // sentinel used for classification
	Message string // seller-facing message
	Field   string // optional: request field that failed validation
	Cause   error  // optional: underlying error, logged but never shown
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s não encontrado (%s)", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s já existe (%s)", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// NotConnected is returned whenever a marketplace token cannot be obtained,
// either because the user never connected or because the refresh failed.
func NotConnected() *AppError {
	return &AppError{
		Err:     ErrNotConnected,
		Message: "Conta do Mercado Livre não conectada. Conecte sua conta para continuar.",
	}
}

// Upstream wraps a failure from an external service. cause is kept for
// server-side logging only.
func Upstream(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: message,
		Cause:   cause,
	}
}

func Unavailable(message string) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: message,
	}
}
