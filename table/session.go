//
// Copyright (c) 2024, 2026 jamakase and contributors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 as shown at
//  https://www.apache.org/licenses/LICENSE-2.0
//

package table

import (
	"context"
	"sync"

	"github.com/jamakase/ydb-go-sdk/table/logger"
	"github.com/jamakase/ydb-go-sdk/table/ydberr"
)

// sessionHooks carries the routing callbacks the pool registers on a session
// at creation time. A session reports exactly one terminal routing per hold:
// released normally, released while closing, or broken (the broken signal
// goes through the pool directly since it is raised by the client, not the
// session).
type sessionHooks struct {
	onRelease        func(*Session)
	onClosingRelease func(*Session)
}

// Session represents a server-allocated handle for issuing queries and
// transactions against the remote query engine. Sessions are owned by a
// SessionPool; at most one caller holds a session at a time.
//
// A Session is safe for use by the single caller that acquired it. The
// accessors are safe for concurrent use by the pool.
type Session struct {
	id       string
	endpoint Endpoint
	api      SessionAPI
	logger   *logger.Logger
	hooks    sessionHooks

	mu      sync.Mutex
	busy    bool
	closing bool
	deleted bool

	// Transaction state. txID is non-empty while a transaction is open on
	// the server; txSettings is the per-call stamp applied by Do.
	txID       string
	txSettings *TxSettings

	// Per-call idempotency stamp. idempotentSetOnDo distinguishes a
	// call-level override from a default inherited from the retry strategy.
	isIdempotent      *bool
	idempotentSetOnDo bool

	// opCancel cancels the in-flight call, if any.
	opCancel context.CancelFunc

	// attachCancel terminates the keep-alive stream.
	attachCancel context.CancelFunc
}

func newSession(id string, endpoint Endpoint, api SessionAPI, lgr *logger.Logger) *Session {
	return &Session{
		id:       id,
		endpoint: endpoint,
		api:      api,
		logger:   lgr,
	}
}

// ID returns the server-assigned session id.
func (s *Session) ID() string {
	return s.id
}

// Endpoint returns the endpoint the session was created against.
func (s *Session) Endpoint() Endpoint {
	return s.endpoint
}

// TransactionID returns the id of the transaction currently open on the
// session, or an empty string if there is none.
func (s *Session) TransactionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txID
}

// IsFree reports whether the session can be handed out by the pool.
func (s *Session) IsFree() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.busy && !s.closing && !s.deleted
}

// IsClosing reports whether the session is marked for deletion on release.
func (s *Session) IsClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// IsDeleted reports whether the session has been deleted.
func (s *Session) IsDeleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted
}

// tryAcquire transitions the session from free to busy. It returns false if
// the session is not free, in which case the caller must not use it.
func (s *Session) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy || s.closing || s.deleted {
		return false
	}
	s.busy = true
	return true
}

// Release hands the session back to its pool. Do and DoTx call it
// automatically; only callers that acquired a session from the pool directly
// need to call it. Releasing a session that is not held is a no-op.
//
// The session is routed by the pool: to the longest-waiting acquire call if
// one is queued, to deletion if the session is marked closing, or back to
// the free set otherwise. The session must not be used after Release.
func (s *Session) Release() {
	s.mu.Lock()
	if !s.busy {
		s.mu.Unlock()
		return
	}
	// The session stays busy while the pool routes it, so a concurrent
	// acquire cannot grab it out from under a queued waiter.
	closing := s.closing || s.deleted
	s.mu.Unlock()

	if closing {
		if s.hooks.onClosingRelease != nil {
			s.hooks.onClosingRelease(s)
		}
		return
	}
	if s.hooks.onRelease != nil {
		s.hooks.onRelease(s)
	}
}

// setFree ends the current hold. Called by the pool once it decided not to
// hand the session to a waiter.
func (s *Session) setFree() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// closeOnStreamEnd records that the keep-alive stream has terminated.
// It returns true when the session is idle and should be deleted
// immediately; when the session is busy it is marked closing instead and
// deletion happens on release.
func (s *Session) closeOnStreamEnd() (deleteNow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return false
	}
	s.closing = true
	return !s.busy
}

// attach opens the keep-alive stream for the session. When the stream
// terminates, server-initiated or otherwise, onStreamClosed is invoked once.
func (s *Session) attach(onStreamClosed func(*Session)) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := s.api.AttachSession(streamCtx, s.id)
	if err != nil {
		cancel()
		return ydberr.FromTransport(err)
	}

	s.mu.Lock()
	s.attachCancel = cancel
	s.mu.Unlock()

	go func() {
		for {
			if err := stream.Recv(); err != nil {
				break
			}
		}
		s.logger.Debug("keep-alive stream for session %s ended", s.id)
		onStreamClosed(s)
	}()

	return nil
}

// BeginTransaction starts an explicit transaction on the session. Operations
// that want the Do wrapper to manage the transaction should pass
// WithTxSettings (or use DoTx) instead.
func (s *Session) BeginTransaction(ctx context.Context, settings *TxSettings) (string, error) {
	s.mu.Lock()
	if s.txID != "" {
		id := s.txID
		s.mu.Unlock()
		return "", ydberr.NewIllegalState("session %s already has open transaction %s", s.id, id)
	}
	s.mu.Unlock()

	txID, err := s.api.BeginTransaction(ctx, s.id, settings)
	if err != nil {
		return "", ydberr.FromTransport(err)
	}

	s.mu.Lock()
	s.txID = txID
	s.mu.Unlock()
	return txID, nil
}

// CommitTransaction commits the transaction currently open on the session.
// The transaction id is cleared whether or not the commit succeeds; a failed
// commit does not resurrect the transaction.
func (s *Session) CommitTransaction(ctx context.Context) error {
	txID, err := s.takeTransaction()
	if err != nil {
		return err
	}

	if err := s.api.CommitTransaction(ctx, s.id, txID); err != nil {
		return ydberr.FromTransport(err)
	}
	return nil
}

// RollbackTransaction rolls back the transaction currently open on the
// session. The transaction id is cleared whether or not the rollback
// succeeds.
func (s *Session) RollbackTransaction(ctx context.Context) error {
	txID, err := s.takeTransaction()
	if err != nil {
		return err
	}

	if err := s.api.RollbackTransaction(ctx, s.id, txID); err != nil {
		return ydberr.FromTransport(err)
	}
	return nil
}

func (s *Session) takeTransaction() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txID == "" {
		return "", ydberr.NewIllegalState("session %s has no open transaction", s.id)
	}
	txID := s.txID
	s.txID = ""
	return txID, nil
}

// Execute runs a query on the session and returns the opaque result payload.
//
// If transaction settings were stamped on the session for the current call
// and no transaction is open yet, the server begins one as part of this call
// and the session records its id. If a transaction is already open, the
// query runs inside it.
func (s *Session) Execute(ctx context.Context, query Query) ([]byte, error) {
	s.mu.Lock()
	txID := s.txID
	var settings *TxSettings
	if txID == "" {
		settings = s.txSettings
	}
	s.mu.Unlock()

	resultTxID, result, err := s.api.ExecuteQuery(ctx, s.id, txID, settings, query)
	if err != nil {
		return nil, ydberr.FromTransport(err)
	}

	if resultTxID != "" {
		s.mu.Lock()
		s.txID = resultTxID
		s.mu.Unlock()
	}
	return result, nil
}

// setOperationContext records the cancel function of the in-flight call.
func (s *Session) setOperationContext(cancel context.CancelFunc) {
	s.mu.Lock()
	s.opCancel = cancel
	s.mu.Unlock()
}

// setTransactionSettings stamps the session so that queries executed by the
// current call run under the specified transaction settings.
func (s *Session) setTransactionSettings(settings *TxSettings) {
	s.mu.Lock()
	s.txSettings = settings
	s.mu.Unlock()
}

// setIdempotent stamps the session with the idempotency hint of the current
// call. atDoLevel records that the hint was supplied at call granularity
// rather than inherited from the retry strategy's default.
func (s *Session) setIdempotent(idempotent, atDoLevel bool) {
	s.mu.Lock()
	v := idempotent
	s.isIdempotent = &v
	s.idempotentSetOnDo = atDoLevel
	s.mu.Unlock()
}

// Idempotent returns the idempotency hint stamped on the session and whether
// it was set at call granularity.
func (s *Session) Idempotent() (idempotent, atDoLevel bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isIdempotent == nil {
		return false, false
	}
	return *s.isIdempotent, s.idempotentSetOnDo
}

// clearCallState removes all per-call stamps from the session: the operation
// context, the transaction settings and the idempotency markers. The open
// transaction id is not touched; callers resolve transactions explicitly
// before the session leaves the attempt.
func (s *Session) clearCallState() {
	s.mu.Lock()
	cancel := s.opCancel
	s.opCancel = nil
	s.txSettings = nil
	s.isIdempotent = nil
	s.idempotentSetOnDo = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// delete releases the server-side session and terminates the keep-alive
// stream. It is idempotent: deleting an already-deleted session is a no-op.
// Any in-flight call on the session is canceled.
func (s *Session) delete(ctx context.Context) error {
	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return nil
	}
	s.deleted = true
	s.closing = true
	attachCancel := s.attachCancel
	s.attachCancel = nil
	opCancel := s.opCancel
	s.opCancel = nil
	s.mu.Unlock()

	if opCancel != nil {
		opCancel()
	}
	if attachCancel != nil {
		attachCancel()
	}

	if err := s.api.DeleteSession(ctx, s.id); err != nil {
		return ydberr.FromTransport(err)
	}
	return nil
}
