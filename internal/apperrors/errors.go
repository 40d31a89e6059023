// Package apperrors normalizes provider, store and gateway failures into a
// single error shape carrying a machine-readable code.
package apperrors

import (
	"errors"
	"fmt"
)

// AppError is the normalized error returned across every public boundary of
// this layer. Reference is set for payment failures when the payment
// reference is known.
type AppError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Reference string    `json:"reference,omitempty"`
	Err       error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError without an underlying cause.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches a code and message to an existing error.
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Validation flags malformed input caught before any network call.
func Validation(message string) *AppError {
	return &AppError{Code: CodeValidationFailed, Message: message}
}

// Payment flags a gateway or verification failure for the given reference.
func Payment(reference, message string, err error) *AppError {
	return &AppError{Code: CodePaymentFailed, Message: message, Reference: reference, Err: err}
}

// Config flags a missing or placeholder configuration value.
func Config(message string) *AppError {
	return &AppError{Code: CodeConfigError, Message: message}
}

// CodeOf extracts the ErrorCode from err, or CodeInternalError when err is
// not an AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternalError
}

// Is wraps the standard errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
