package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeNotFound    ErrCode = "NOT_FOUND"
	ErrCodeRateLimited ErrCode = "RATE_LIMITED"
	ErrCodeTransient   ErrCode = "TRANSIENT"
	ErrCodeFatal       ErrCode = "FATAL"
	ErrCodeInternal    ErrCode = "INTERNAL_ERROR"
	ErrCodeBadRequest  ErrCode = "BAD_REQUEST"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error.
// The entity vanished or was renamed; callers skip it.
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewRateLimitedError creates a new rate limited error
func NewRateLimitedError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeRateLimited,
		Message: message,
	}
}

// NewTransientError creates an error for a failure that may succeed on a later run
func NewTransientError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeTransient,
		Message: message,
		Err:     err,
	}
}

// NewFatalError creates an error that aborts the process
func NewFatalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeFatal,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "" if none
func CodeOf(err error) ErrCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsRateLimited checks if the error is a rate limited error
func IsRateLimited(err error) bool {
	return CodeOf(err) == ErrCodeRateLimited
}

// IsTransient checks if the error is a transient error
func IsTransient(err error) bool {
	return CodeOf(err) == ErrCodeTransient
}

// IsFatal checks if the error is a fatal error
func IsFatal(err error) bool {
	return CodeOf(err) == ErrCodeFatal
}

// IsBadRequest checks if the error is a bad request error
func IsBadRequest(err error) bool {
	return CodeOf(err) == ErrCodeBadRequest
}
