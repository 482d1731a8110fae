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
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jamakase/ydb-go-sdk/table/logger"
	"github.com/jamakase/ydb-go-sdk/table/ydberr"
)

// sessionWaiter is a single-fire completion handle for a queued acquire
// call. Exactly one of fulfilment, abandonment (timeout or context
// cancellation) and pool shutdown consumes it; the done flag, guarded by the
// pool mutex, makes the three mutually exclusive.
type sessionWaiter struct {
	// ch receives the session that fulfils the waiter. It is buffered so
	// the pool can fire the waiter while holding its mutex.
	ch chan *Session

	// poolClosed is closed when the pool shuts down before fulfilment.
	poolClosed chan struct{}

	// done is guarded by the pool mutex.
	done bool
}

func newSessionWaiter() *sessionWaiter {
	return &sessionWaiter{
		ch:         make(chan *Session, 1),
		poolClosed: make(chan struct{}),
	}
}

// SessionPool owns the set of live sessions and hands them out to concurrent
// callers, bounded by the configured session limits. Callers queued while
// the pool is at capacity are served strictly in FIFO order as sessions
// become free.
//
// A SessionPool is created by NewSessionPool or implicitly by NewClient, and
// must be shut down with Close.
type SessionPool struct {
	maxLimit      int
	discovery     Discovery
	dialer        Dialer
	retryStrategy RetryStrategy
	logger        *logger.Logger
	createTimeout time.Duration
	deleteTimeout time.Duration

	// mu guards everything below. The session set, the waiter queue and
	// the in-flight bookkeeping are only ever mutated under it.
	mu       sync.Mutex
	closed   bool
	sessions map[*Session]struct{}
	builders map[string]*sessionBuilder
	waiters  []*sessionWaiter

	// In-flight bookkeeping for admission control. Creation and deletion
	// are asynchronous; without them a concurrent acquire burst would
	// overshoot maxLimit and concurrent deletes would starve new creation.
	// A session being deleted stays in the live set until the remote
	// delete completes, with its membership in deleting freeing exactly
	// one slot for the duration.
	newSessionsRequested int
	deleting             map[*Session]struct{}

	unsubscribe func()
}

// NewSessionPool creates a SessionPool with the specified Config.
// Most applications use NewClient instead, which owns a pool internally.
func NewSessionPool(cfg Config) (*SessionPool, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return newSessionPool(&cfg), nil
}

func newSessionPool(cfg *Config) *SessionPool {
	p := &SessionPool{
		maxLimit:      cfg.SessionPoolMaxLimit,
		discovery:     cfg.Discovery,
		dialer:        cfg.Dialer,
		retryStrategy: cfg.RetryStrategy,
		logger:        cfg.Logger,
		createTimeout: cfg.DefaultSessionCreateTimeout(),
		deleteTimeout: cfg.DefaultSessionDeleteTimeout(),
		sessions:      make(map[*Session]struct{}),
		builders:      make(map[string]*sessionBuilder),
		deleting:      make(map[*Session]struct{}),
	}
	p.unsubscribe = cfg.Discovery.OnEndpointRemoved(p.handleEndpointRemoved)
	return p
}

var errPoolClosed = ydberr.New(ydberr.SessionClosed, "the session pool is closed")

// Acquire returns a session marked busy, owned exclusively by the caller
// until released or signaled broken.
//
// A currently free session is returned immediately if one exists. Otherwise,
// if the pool is below its session limit, a new session is created. Otherwise
// the call queues behind earlier waiters: with timeout > 0 it fails with a
// SessionPoolExhausted error once the timeout elapses; with timeout == 0 it
// waits until a session is released or ctx is done. The timeout bounds only
// the waiting phase; it never cancels a session creation already granted to
// this caller.
func (p *SessionPool) Acquire(ctx context.Context, timeout time.Duration) (*Session, error) {
	if ctx == nil {
		return nil, errNilContext
	}
	if err := ctx.Err(); err != nil {
		return nil, ydberr.NewWithCause(ydberr.Timeout, err, "context is done")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errPoolClosed
	}

	// Any free session is acceptable; no ordering guarantee among them.
	for s := range p.sessions {
		if s.tryAcquire() {
			p.mu.Unlock()
			p.logger.Fine("session pool: handing out free session %s", s.ID())
			return s, nil
		}
	}

	// Admission gate. In-flight creations count against the limit so a
	// concurrent burst cannot overshoot it; a session mid-deletion is
	// still in the live set and frees its slot through the deleting term,
	// exactly once.
	if len(p.sessions)+p.newSessionsRequested-len(p.deleting) < p.maxLimit {
		p.newSessionsRequested++
		p.mu.Unlock()
		return p.acquireNewSession(ctx)
	}

	w := newSessionWaiter()
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	return p.waitForSession(ctx, w, timeout)
}

// acquireNewSession creates a session on the caller's behalf and hands it
// out already busy. The caller must have incremented newSessionsRequested.
func (p *SessionPool) acquireNewSession(ctx context.Context) (*Session, error) {
	s, err := p.createSession(ctx)

	p.mu.Lock()
	p.newSessionsRequested--
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	if p.closed {
		p.mu.Unlock()
		p.deleteRemote(s)
		return nil, errPoolClosed
	}

	p.sessions[s] = struct{}{}
	if !s.tryAcquire() {
		// The keep-alive stream ended before the session was handed out.
		delete(p.sessions, s)
		p.mu.Unlock()
		p.deleteRemote(s)
		return nil, ydberr.New(ydberr.Unavailable, "session %s became unusable during creation", s.ID())
	}
	p.mu.Unlock()

	return s, nil
}

// createSession resolves the current endpoint and asks its builder for a new
// session. The session returned is not yet in the live set.
func (p *SessionPool) createSession(ctx context.Context) (*Session, error) {
	createCtx, cancel := context.WithTimeout(ctx, p.createTimeout)
	defer cancel()

	endpoint, err := p.discovery.GetEndpoint(createCtx)
	if err != nil {
		return nil, ydberr.FromTransport(err)
	}

	s, err := p.builderFor(endpoint).create(createCtx, p.handleStreamClosed)
	if err != nil {
		return nil, err
	}

	s.hooks = sessionHooks{
		onRelease:        p.handleReleased,
		onClosingRelease: p.discardSession,
	}
	return s, nil
}

func (p *SessionPool) builderFor(e Endpoint) *sessionBuilder {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.builders[e.Address]
	if !ok {
		b = newSessionBuilder(e, p.dialer, p.discovery, p.retryStrategy, p.logger)
		p.builders[e.Address] = b
	}
	return b
}

// waitForSession blocks until the waiter is fired, the timeout elapses, the
// pool closes or ctx is done.
func (p *SessionPool) waitForSession(ctx context.Context, w *sessionWaiter, timeout time.Duration) (*Session, error) {
	var timerC <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timerC = t.C
	}

	select {
	case s := <-w.ch:
		return s, nil
	case <-w.poolClosed:
		return nil, errPoolClosed
	case <-timerC:
		s, poolClosed := p.abandonWaiter(w)
		if s != nil {
			// The waiter was fulfilled concurrently with the timeout;
			// route the session back rather than leaking the hold.
			s.Release()
		}
		if poolClosed {
			return nil, errPoolClosed
		}
		return nil, ydberr.New(ydberr.SessionPoolExhausted,
			"no session became available within %v", timeout)
	case <-ctx.Done():
		s, poolClosed := p.abandonWaiter(w)
		if s != nil {
			s.Release()
		}
		if poolClosed {
			return nil, errPoolClosed
		}
		return nil, ydberr.NewWithCause(ydberr.Timeout, ctx.Err(), "acquire was canceled")
	}
}

// abandonWaiter cancels w so it can never be fired later, and reports how a
// concurrently resolved waiter ended. If w was already fulfilled, the
// session it received is returned so the caller can route it back to the
// pool; if w was consumed by Close, which sets done without sending a
// session, poolClosed is true. A fulfiller buffers the session before
// releasing the pool mutex, so under the mutex an empty channel on a done
// waiter can only mean Close. The waiter is never resolved twice.
func (p *SessionPool) abandonWaiter(w *sessionWaiter) (s *Session, poolClosed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.done {
		select {
		case s = <-w.ch:
			return s, false
		default:
			return nil, true
		}
	}
	w.done = true
	for i, queued := range p.waiters {
		if queued == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	return nil, false
}

// popWaiterLocked removes and returns the longest-waiting waiter, or nil.
// The pool mutex must be held.
func (p *SessionPool) popWaiterLocked() *sessionWaiter {
	if len(p.waiters) == 0 {
		return nil
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	return w
}

// handleReleased routes a session whose hold ended normally: directly to the
// longest-waiting acquire call if one is queued, bypassing the free state so
// no concurrent acquire can steal it, or back to the free set.
func (p *SessionPool) handleReleased(s *Session) {
	p.mu.Lock()
	if p.closed {
		if _, ok := p.sessions[s]; ok {
			delete(p.sessions, s)
			p.mu.Unlock()
			p.deleteRemote(s)
			return
		}
		p.mu.Unlock()
		return
	}

	if w := p.popWaiterLocked(); w != nil {
		w.done = true
		w.ch <- s // stays busy: direct hand-off
		p.mu.Unlock()
		p.logger.Fine("session pool: handed released session %s to a waiter", s.ID())
		return
	}
	p.mu.Unlock()

	s.setFree()
}

// discardSession deletes a session remotely, exactly once, and removes it
// from the live set when the delete completes. The session remains in the
// live set while the delete is in flight so the admission gate sees its slot
// freed only through the deleting term; tryAcquire rejects it meanwhile
// since it is closing or busy. Because a deletion can never feed a waiter
// directly, a replacement acquire is arranged on behalf of any waiter still
// pending. This is the terminal path for both closing releases and broken
// signals.
func (p *SessionPool) discardSession(s *Session) {
	p.mu.Lock()
	if _, ok := p.sessions[s]; !ok {
		// Never admitted, or already removed by Close.
		p.mu.Unlock()
		return
	}
	if _, ok := p.deleting[s]; ok {
		// Already being discarded by a racing path.
		p.mu.Unlock()
		return
	}
	p.deleting[s] = struct{}{}
	p.mu.Unlock()

	p.deleteRemote(s)

	p.mu.Lock()
	delete(p.sessions, s)
	delete(p.deleting, s)
	pending := !p.closed && len(p.waiters) > 0
	p.mu.Unlock()

	if pending {
		go p.replaceForWaiter()
	}
}

// signalBroken is invoked when the remote peer declared the session bad or
// busy. The session is deleted unconditionally and never reused.
func (p *SessionPool) signalBroken(s *Session) {
	p.logger.Debug("session pool: session %s signaled broken", s.ID())
	p.discardSession(s)
}

// replaceForWaiter re-runs the acquire path on behalf of a pending waiter
// after a deletion, so that capacity freed by the deletion turns into a
// fresh or free session for the queue. If every waiter is gone by the time
// a session is obtained, it is released back to the pool.
func (p *SessionPool) replaceForWaiter() {
	ctx, cancel := context.WithTimeout(context.Background(), p.createTimeout)
	defer cancel()

	s, err := p.Acquire(ctx, p.createTimeout)
	if err != nil {
		p.logger.Debug("session pool: could not replace a deleted session for a waiter: %v", err)
		return
	}
	s.Release()
}

// deleteRemote issues the remote delete for a session already removed from
// the live set, detached from whichever caller triggered it.
func (p *SessionPool) deleteRemote(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), p.deleteTimeout)
	defer cancel()

	if err := s.delete(ctx); err != nil {
		p.logger.Debug("session pool: deleting session %s failed: %v", s.ID(), err)
	}
}

// handleStreamClosed reacts to a session's keep-alive stream ending: an idle
// session is deleted immediately, a busy one is marked for deletion on
// release.
func (p *SessionPool) handleStreamClosed(s *Session) {
	if s.closeOnStreamEnd() {
		p.discardSession(s)
	}
}

// handleEndpointRemoved drops the builder for an endpoint discovery no
// longer reports. Sessions already created against it remain live until
// naturally evicted.
func (p *SessionPool) handleEndpointRemoved(e Endpoint) {
	p.mu.Lock()
	delete(p.builders, e.Address)
	p.mu.Unlock()
	p.logger.Debug("session pool: endpoint %s removed, dropped its session builder", e)
}

// Close deletes every live session concurrently and waits for completion.
// Pending waiters fail with a SessionClosed error and subsequent Acquire
// calls are refused. Close is idempotent.
func (p *SessionPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	unsubscribe := p.unsubscribe
	p.unsubscribe = nil

	for _, w := range p.waiters {
		if !w.done {
			w.done = true
			close(w.poolClosed)
		}
	}
	p.waiters = nil

	snapshot := make([]*Session, 0, len(p.sessions))
	for s := range p.sessions {
		snapshot = append(snapshot, s)
		delete(p.sessions, s)
	}
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	p.logger.Info("session pool: closing, deleting %d live session(s)", len(snapshot))

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range snapshot {
		s := s
		g.Go(func() error {
			return s.delete(gctx)
		})
	}
	return g.Wait()
}
