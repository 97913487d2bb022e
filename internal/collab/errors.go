// Package collab implements the collaboration service: presence, focus,
// node locks, cursors, typing indicators, and the hybrid durable/ephemeral
// session layer.
package collab

import (
	"errors"
	"fmt"
)

// Code is the closed set of collaboration error kinds.
type Code string

const (
	CodeLockAlreadyHeld Code = "LOCK_ALREADY_HELD"
	CodeLockNotFound    Code = "LOCK_NOT_FOUND"
	CodeLockNotOwned    Code = "LOCK_NOT_OWNED"
	CodeUserNotPresent  Code = "USER_NOT_PRESENT"
	CodeThrottled       Code = "THROTTLE_LIMIT_EXCEEDED"
	CodeConnection      Code = "ESS_CONNECTION_ERROR"
	CodeInvalidInput    Code = "INVALID_INPUT"
)

// Error is a structured collaboration error. Details carries payloads the
// caller surfaces to clients, e.g. the current lock on LOCK_ALREADY_HELD.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError creates an error of the given kind.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetails attaches a detail payload.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// CodeOf extracts the error kind, or "" for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given kind.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// AsError extracts the structured error, or nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
