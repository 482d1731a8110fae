//
// Copyright (c) 2024, 2026 jamakase and contributors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 as shown at
//  https://www.apache.org/licenses/LICENSE-2.0
//

// Package ydberr defines types and error code constants that represent errors
// which may be returned by the YDB table client.
package ydberr

import (
	"errors"
	"fmt"
)

// Error represents an error that wraps the error code, error message and an
// optional cause of the error.
//
// This implements the error interface.
type Error struct {
	// Code specifies the error code.
	Code ErrorCode `json:"code"`

	// Message specifies the description of error.
	Message string `json:"message"`

	// Cause optionally specifies the cause of error.
	Cause error `json:"cause,omitempty"`
}

// New creates an error with the specified error code and message.
func New(code ErrorCode, msgFmt string, msgArgs ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(msgFmt, msgArgs...),
	}
}

// NewWithCause creates an error with the specified error code, message and the cause of error.
func NewWithCause(code ErrorCode, cause error, msgFmt string, msgArgs ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(msgFmt, msgArgs...),
		Cause:   cause,
	}
}

// Error returns a descriptive message for the error.
func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("[%s]: %s", e.Code.String(), e.Message)
	}

	return fmt.Sprintf("[%s]: %s. Caused by:\n\t%s", e.Code.String(), e.Message, e.Cause.Error())
}

// Unwrap returns the cause of error, which may be nil.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable returns whether the error is retryable for idempotent operations.
// Use RetryableFor to take the idempotency of the failed operation into account.
func (e *Error) Retryable() bool {
	return retryableErrors[e.Code] || idempotentOnlyErrors[e.Code]
}

// RetryableFor returns whether an operation that failed with this error may
// be retried, given whether the operation is idempotent.
//
// Errors in the idempotent-only class, such as TransportError and
// Undetermined, leave the outcome of the failed attempt unknown: the server
// may or may not have applied it. Retrying those is only safe when the caller
// asserted the operation is idempotent.
func (e *Error) RetryableFor(idempotent bool) bool {
	if retryableErrors[e.Code] {
		return true
	}
	return idempotent && idempotentOnlyErrors[e.Code]
}

// retryableErrors represents a map whose keys are the error codes of
// pre-defined errors that are retryable regardless of operation idempotency.
// This is used as a fast lookup table to check if an error is retryable.
//
// BadSession and SessionBusy are retryable unconditionally: the session was
// unusable before the operation could take effect, so a retry on a fresh
// session cannot duplicate work.
var retryableErrors = map[ErrorCode]bool{
	BadSession:           true,
	SessionBusy:          true,
	SessionPoolExhausted: true,
	Aborted:              true,
	Overloaded:           true,
	Unavailable:          true,
}

// idempotentOnlyErrors represents the error codes that are retryable only
// when the failed operation is idempotent.
var idempotentOnlyErrors = map[ErrorCode]bool{
	TransportError: true,
	Undetermined:   true,
}

// NewIllegalArgument creates an IllegalArgument error with the specified message.
func NewIllegalArgument(msgFmt string, msgArgs ...interface{}) *Error {
	return New(IllegalArgument, msgFmt, msgArgs...)
}

// NewIllegalState creates an IllegalState error with the specified message.
func NewIllegalState(msgFmt string, msgArgs ...interface{}) *Error {
	return New(IllegalState, msgFmt, msgArgs...)
}

// Is checks if the specified error is an Error value and the error code
// matches any of the expected error codes if specified.
func Is(err error, expectedCodes ...ErrorCode) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	if len(expectedCodes) == 0 {
		return true
	}

	for _, code := range expectedCodes {
		if e.Code == code {
			return true
		}
	}

	return false
}

// IsBadSession returns true if the specified error is a BadSession error,
// otherwise returns false.
func IsBadSession(err error) bool {
	return Is(err, BadSession)
}

// IsSessionBusy returns true if the specified error is a SessionBusy error,
// otherwise returns false.
func IsSessionBusy(err error) bool {
	return Is(err, SessionBusy)
}

// IsSessionUnusable returns true if the specified error indicates the session
// it was reported on must be discarded rather than reused. This is the case
// for BadSession and SessionBusy errors.
func IsSessionUnusable(err error) bool {
	return Is(err, BadSession, SessionBusy)
}

// IsSessionPoolExhausted returns true if the specified error is a
// SessionPoolExhausted error, otherwise returns false.
func IsSessionPoolExhausted(err error) bool {
	return Is(err, SessionPoolExhausted)
}

// IsTimeout returns true if the specified error is a Timeout error,
// otherwise returns false.
func IsTimeout(err error) bool {
	return Is(err, Timeout)
}

// ErrorCode represents the error code.
// Error codes are divided into categories as follows:
//
// 1. Error codes for client-generated errors, range from 1 to 50(exclusive).
// These include illegal arguments, illegal client state and local pool
// conditions such as exhaustion.
//
// 2. Error codes for server-declared session and operation conditions, range
// from 50 to 100(exclusive). These are reported by the remote query service
// on a per-session or per-operation basis.
//
// 3. Error codes for transport-level failures, begin from 100. The outcome
// of the failed operation is generally unknown for these.
type ErrorCode int

const (
	// NoError represents there is no error.
	NoError ErrorCode = iota // 0

	// IllegalArgument error represents the application provided an illegal
	// argument for the operation.
	IllegalArgument // 1

	// IllegalState error represents an illegal client state, such as
	// acquiring a session that is not free or committing a transaction
	// that was never begun.
	IllegalState // 2

	// SessionPoolExhausted error represents an acquire call timed out while
	// waiting for a free session and the pool is at its capacity limit.
	//
	// Operations resulting in this error can be retried, and the condition
	// can be avoided by raising the pool's session limit.
	SessionPoolExhausted // 3

	// SessionClosed error represents the session pool or client has been
	// closed and no longer accepts requests.
	SessionClosed // 4
)

const (
	// BadSession error represents the server declared the session id is no
	// longer valid. The session must be discarded; the operation may be
	// retried on a fresh session.
	BadSession ErrorCode = iota + 50 // 50

	// SessionBusy error represents the server considers the session to be
	// mid-operation, for example after a network partition raced an
	// in-flight call. The session must be discarded.
	SessionBusy // 51

	// Aborted error represents the operation was aborted by the server, for
	// example due to a transaction lock conflict. The session remains usable
	// and the operation may be retried.
	Aborted // 52

	// Overloaded error represents the server is overloaded.
	// The operation may be retried after a delay.
	Overloaded // 53

	// Unavailable error represents the requested service is currently
	// unavailable. This is usually a temporary condition.
	Unavailable // 54
)

const (
	// Timeout error represents the operation did not complete before the
	// specified timeout duration elapsed.
	Timeout ErrorCode = iota + 100 // 100

	// TransportError error represents the RPC channel failed while the
	// operation was in flight. Whether the operation took effect is unknown.
	TransportError // 101

	// Undetermined error represents the server returned a status that leaves
	// the outcome of the operation unknown.
	Undetermined // 102
)

// String returns a string representation for the error code.
//
// This implements the fmt.Stringer interface.
func (code ErrorCode) String() string {
	switch code {
	case NoError:
		return "NoError"
	case IllegalArgument:
		return "IllegalArgument"
	case IllegalState:
		return "IllegalState"
	case SessionPoolExhausted:
		return "SessionPoolExhausted"
	case SessionClosed:
		return "SessionClosed"
	case BadSession:
		return "BadSession"
	case SessionBusy:
		return "SessionBusy"
	case Aborted:
		return "Aborted"
	case Overloaded:
		return "Overloaded"
	case Unavailable:
		return "Unavailable"
	case Timeout:
		return "Timeout"
	case TransportError:
		return "TransportError"
	case Undetermined:
		return "Undetermined"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(code))
	}
}
