// Package errors provides error code definitions shared across the sync core.
package errors

import "fmt"

// ErrorCode represents a unique application error code.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Local cache errors. Cache failures are fatal to the operation
	// that hit them: there is no fallback beneath local-first.
	ErrCache        ErrorCode = "CACHE_ERROR"
	ErrCacheCorrupt ErrorCode = "CACHE_CORRUPT"

	// Remote store errors
	ErrRemoteTransient ErrorCode = "REMOTE_TRANSIENT"
	ErrRemotePermanent ErrorCode = "REMOTE_PERMANENT"
	ErrRemoteAuth      ErrorCode = "REMOTE_AUTH_FAILED"

	// Sync errors
	ErrUnknownTable   ErrorCode = "UNKNOWN_TABLE"
	ErrQueueFull      ErrorCode = "QUEUE_FULL"
	ErrSyncFailed     ErrorCode = "SYNC_FAILED"
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}
