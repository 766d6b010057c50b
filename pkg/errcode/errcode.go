// Package errcode defines the stable error taxonomy returned by every
// service operation. Callers match on the code, not the message; messages
// are for humans and may change.
package errcode

import (
	"errors"
	"fmt"
)

// Code identifies a failure class. Codes are part of the public contract
// and never renamed.
type Code string

const (
	// Authentication failures. These never reveal whether a username
	// exists.
	InvalidCredentials Code = "INVALID_CREDENTIALS"
	SessionConflict    Code = "SESSION_CONFLICT"
	SessionSuperseded  Code = "SESSION_SUPERSEDED"
	Deactivated        Code = "DEACTIVATED"
	ESignatureMismatch Code = "ESIGNATURE_MISMATCH"

	// Capability check failed. Recorded in the audit trail.
	PermissionDenied Code = "PERMISSION_DENIED"

	// Lifecycle state machine rejections.
	IllegalTransition Code = "ILLEGAL_TRANSITION"
	IllegalStatus     Code = "ILLEGAL_STATUS"

	// Edit-lock contention.
	Locked      Code = "LOCKED"
	LockNotHeld Code = "LOCK_NOT_HELD"
	LockExpired Code = "LOCK_EXPIRED"

	// Content-hash mismatch on save. Details carry the current hash.
	Conflict Code = "CONFLICT"

	// Structural errors.
	NotFound        Code = "NOT_FOUND"
	AlreadyExists   Code = "ALREADY_EXISTS"
	ValidationError Code = "VALIDATION_ERROR"

	// A detected attempt to break a storage invariant. Aborts the
	// transaction and surfaces as a 5xx-class failure, never swallowed.
	InvariantViolation Code = "INVARIANT_VIOLATION"
)

// Error is a coded failure with an optional structured details map
// (current content hash on CONFLICT, lock holder and expiry on LOCKED).
type Error struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`

	wrapped error
}

// New builds a coded error with a human message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted human message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a coded error around an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, wrapped: err}
}

// WithDetail attaches one key to the details map and returns the error
// for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.wrapped
}

// CodeOf extracts the Code from an error chain. Errors without a coded
// ancestor report InvariantViolation's sibling class: an empty code.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// DetailsOf returns the details map from the first coded error in the
// chain, or nil.
func DetailsOf(err error) map[string]interface{} {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Details
	}
	return nil
}
