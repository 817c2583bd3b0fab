// Package apperror defines the error taxonomy shared by the store, the service
// layer and the HTTP handlers.
//
// Every domain error is an *AppError that wraps one of the sentinels below, so
// callers can branch with errors.Is without caring which layer produced it.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrStorage      = errors.New("storage failure")
	ErrTooLarge     = errors.New("request too large")
)

type AppError struct {
	Err     error  // sentinel category
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying error (never shown to clients)
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the underlying cause, so errors.Is
// matches apperror.ErrStorage as well as e.g. fs.ErrPermission.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("no %s found", resource),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Unauthorized returns an AppError for a missing or wrong credential.
// The message must stay generic: it is echoed to the client.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Storage wraps a persistence failure. op describes what was attempted
// ("save profile", "delete profile") and becomes the client-facing message.
func Storage(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrStorage,
		Message: "failed to " + op,
		Cause:   cause,
	}
}

// TooLarge reports a request body over limit bytes.
func TooLarge(limit int64) *AppError {
	return &AppError{
		Err:     ErrTooLarge,
		Message: fmt.Sprintf("request body must be %d bytes or less", limit),
	}
}
