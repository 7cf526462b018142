// Package errors defines the structured error taxonomy shared by the job
// engine: validation errors surface synchronously at enqueue time, item
// errors stay inside engines as aggregate counters, systemic errors abort a
// job, and cancellation is terminal but not an error.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeValidation indicates malformed input parameters; the job is never created.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeItem indicates a single record or recipient failed; never aborts a job.
	ErrCodeItem ErrorCode = "item"
	// ErrCodeSystemic indicates an infrastructure failure affecting the whole job.
	ErrCodeSystemic ErrorCode = "systemic"
	// ErrCodeCanceled indicates owner-initiated cancellation.
	ErrCodeCanceled ErrorCode = "canceled"
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing data (e.g. unique constraint).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
)

// AppError is a structured application error with a code, message, optional
// cause, and a retryability hint used when finalizing failed jobs.
// It supports error wrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific parameter that caused the error (validation only)
	Field string
	// Retryable marks systemic errors that a Retry may recover from
	Retryable bool
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationField creates a new Validation error for a specific parameter.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// Item creates a new per-item error. Engines record these in failed_items
// counters; they never cross the engine boundary individually.
func Item(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeItem, Message: message, Cause: cause}
}

// Systemic creates a new Systemic error. Retryable defaults to true because
// infrastructure outages usually clear; callers use SystemicPermanent when
// the failure is baked into the job parameters.
func Systemic(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeSystemic, Message: message, Cause: cause, Retryable: true}
}

// SystemicPermanent creates a Systemic error that a Retry cannot fix.
func SystemicPermanent(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeSystemic, Message: message, Cause: cause}
}

// Canceled creates a new Cancellation signal.
func Canceled(message string) *AppError {
	return &AppError{Code: ErrCodeCanceled, Message: message}
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsItem checks if an error is a per-item error.
func IsItem(err error) bool {
	return isCode(err, ErrCodeItem)
}

// IsSystemic checks if an error is a Systemic error.
func IsSystemic(err error) bool {
	return isCode(err, ErrCodeSystemic)
}

// IsCanceled checks if an error is a Cancellation signal.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsRetryable reports whether a failed job carrying this error may be retried.
// Non-AppError failures are treated as retryable infrastructure faults.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return err != nil
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
