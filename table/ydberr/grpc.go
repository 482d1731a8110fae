//
// Copyright (c) 2024, 2026 jamakase and contributors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 as shown at
//  https://www.apache.org/licenses/LICENSE-2.0
//

package ydberr

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FromTransport converts an error reported by the RPC transport into an
// *Error with a code from the taxonomy above.
//
// If err is already an *Error it is returned unchanged, so transport
// implementations that classify errors themselves, for example by decoding a
// server status into a BadSession or SessionBusy error, pass through intact.
// Otherwise the grpc status code carried by err determines the error code.
// Errors that carry no grpc status are classified as TransportError.
func FromTransport(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	s, ok := status.FromError(err)
	if !ok {
		return NewWithCause(TransportError, err, "transport failure")
	}

	switch s.Code() {
	case codes.Unavailable:
		return NewWithCause(Unavailable, err, "endpoint unavailable")
	case codes.ResourceExhausted:
		return NewWithCause(Overloaded, err, "endpoint overloaded")
	case codes.Aborted:
		return NewWithCause(Aborted, err, "operation aborted")
	case codes.DeadlineExceeded:
		return NewWithCause(Timeout, err, "operation deadline exceeded")
	case codes.Canceled:
		return NewWithCause(TransportError, err, "call canceled")
	default:
		// The call may or may not have been applied on the server.
		return NewWithCause(Undetermined, err, "undetermined grpc status %s", s.Code())
	}
}
