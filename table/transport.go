//
// Copyright (c) 2024, 2026 jamakase and contributors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 as shown at
//  https://www.apache.org/licenses/LICENSE-2.0
//

package table

import (
	"context"
	"fmt"
)

// Endpoint identifies a single server node that sessions can be created
// against.
type Endpoint struct {
	// Address specifies the target address of the node, including port.
	Address string

	// NodeID specifies the server-assigned id of the node, if known.
	NodeID uint32
}

// String returns a string representation for the endpoint.
//
// This implements the fmt.Stringer interface.
func (e Endpoint) String() string {
	if e.NodeID == 0 {
		return e.Address
	}
	return fmt.Sprintf("%s (node %d)", e.Address, e.NodeID)
}

// Discovery resolves service endpoints for the session pool.
//
// Implementations typically wrap the service's endpoint discovery call and
// maintain a preference order among the known endpoints. The pool consumes
// the interface as-is and never inspects how endpoints are ranked.
type Discovery interface {
	// GetEndpoint returns the endpoint new sessions should be created
	// against. It may block while endpoint information is being resolved.
	GetEndpoint(ctx context.Context) (Endpoint, error)

	// Pessimize deprioritizes the specified endpoint after repeated
	// failures, so that subsequent GetEndpoint calls prefer other nodes.
	Pessimize(e Endpoint)

	// OnEndpointRemoved registers a callback invoked when an endpoint
	// disappears from discovery results. The returned function cancels
	// the registration.
	OnEndpointRemoved(fn func(Endpoint)) (cancel func())
}

// Dialer establishes the RPC channel to a single endpoint.
//
// Authentication and TLS negotiation are the dialer's concern; the returned
// SessionAPI is consumed as an opaque request/response channel.
type Dialer interface {
	Dial(ctx context.Context, e Endpoint) (SessionAPI, error)
}

// SessionAPI is the per-endpoint RPC surface used to manage sessions and run
// queries on them.
//
// Errors returned by implementations are classified through
// ydberr.FromTransport: an implementation may return *ydberr.Error values
// directly when it can decode the server status (in particular BadSession
// and SessionBusy conditions), or plain grpc status errors which are then
// mapped by their code.
type SessionAPI interface {
	// CreateSession allocates a new session on the endpoint and returns
	// its server-assigned id.
	CreateSession(ctx context.Context) (sessionID string, err error)

	// DeleteSession releases the server-side session.
	DeleteSession(ctx context.Context, sessionID string) error

	// AttachSession opens the long-lived keep-alive stream for the session.
	// The stream terminating is the server's way of revoking the session.
	AttachSession(ctx context.Context, sessionID string) (AttachStream, error)

	// BeginTransaction starts an explicit transaction on the session and
	// returns the server-assigned transaction id.
	BeginTransaction(ctx context.Context, sessionID string, settings *TxSettings) (txID string, err error)

	// CommitTransaction commits the specified transaction.
	CommitTransaction(ctx context.Context, sessionID, txID string) error

	// RollbackTransaction rolls back the specified transaction.
	RollbackTransaction(ctx context.Context, sessionID, txID string) error

	// ExecuteQuery runs a query on the session. When txID is empty and
	// settings is non-nil, the server begins a transaction as part of the
	// call and returns its id in resultTxID; when txID is non-empty the
	// query runs inside that transaction and resultTxID echoes it.
	// The result payload is opaque to this package.
	ExecuteQuery(ctx context.Context, sessionID, txID string, settings *TxSettings, query Query) (resultTxID string, result []byte, err error)
}

// AttachStream represents the keep-alive stream attached to a session.
type AttachStream interface {
	// Recv blocks until the next keep-alive message or the end of the
	// stream. It returns a non-nil error, typically io.EOF, once the
	// stream has terminated.
	Recv() error

	// Close terminates the stream from the client side.
	Close() error
}

// TxMode specifies the isolation mode of a transaction.
type TxMode int

const (
	// SerializableReadWrite is the service's conventional default
	// transaction mode.
	SerializableReadWrite TxMode = iota

	// OnlineReadOnly reads the most recent committed data without taking
	// locks.
	OnlineReadOnly

	// StaleReadOnly reads possibly stale committed data without taking locks.
	StaleReadOnly
)

// String returns a string representation for the transaction mode.
//
// This implements the fmt.Stringer interface.
func (m TxMode) String() string {
	switch m {
	case SerializableReadWrite:
		return "SerializableReadWrite"
	case OnlineReadOnly:
		return "OnlineReadOnly"
	case StaleReadOnly:
		return "StaleReadOnly"
	default:
		return "N/A"
	}
}

// TxSettings specifies how transactions opened on behalf of an operation
// should behave.
type TxSettings struct {
	// Mode specifies the transaction isolation mode.
	Mode TxMode
}

// TxSettingsSerializableReadWrite returns the default transaction settings
// applied by DoTx when the caller specifies none: a serializable read-write
// transaction begun automatically with the first statement.
func TxSettingsSerializableReadWrite() *TxSettings {
	return &TxSettings{Mode: SerializableReadWrite}
}

// Query represents a single query sent through Session.Execute.
// The text and parameters are passed through to the transport untouched;
// this package does not interpret them.
type Query struct {
	// Text specifies the query text.
	Text string

	// Parameters optionally specifies named query parameters.
	Parameters map[string]interface{}
}
