package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrStorage
	ErrInternal

	// Verification failures. Expected and frequent; callers must not log
	// them as errors and must not distinguish them to end users.
	ErrNoActiveCode
	ErrCodeMismatch
	ErrTooManyAttempts
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

// NewStorage wraps an I/O fault from one of the stores. Storage faults are
// exceptional and always surface, unlike the logical verification failures.
func NewStorage(op string, err error) *AppError {
	return &AppError{
		Code:    ErrStorage,
		Message: fmt.Sprintf("storage failure during %s", op),
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal error",
		Err:     err,
	}
}

func NewNoActiveCode() *AppError {
	return &AppError{
		Code:    ErrNoActiveCode,
		Message: "no active verification code",
	}
}

func NewCodeMismatch() *AppError {
	return &AppError{
		Code:    ErrCodeMismatch,
		Message: "verification code mismatch",
	}
}

func NewTooManyAttempts() *AppError {
	return &AppError{
		Code:    ErrTooManyAttempts,
		Message: "too many verification attempts",
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

// IsCode reports whether err is an AppError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsLogical reports whether err is one of the expected verification
// failures rather than a fault.
func IsLogical(err error) bool {
	return IsCode(err, ErrNoActiveCode) ||
		IsCode(err, ErrCodeMismatch) ||
		IsCode(err, ErrTooManyAttempts)
}
