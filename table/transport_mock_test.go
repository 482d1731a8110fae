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
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jamakase/ydb-go-sdk/table/logger"
)

// fakeStream is an AttachStream whose termination is driven by the test or
// by cancellation of the context it was opened with.
type fakeStream struct {
	ctx   context.Context
	ended chan struct{}
	once  sync.Once
}

func (f *fakeStream) Recv() error {
	select {
	case <-f.ended:
		return io.EOF
	case <-f.ctx.Done():
		return f.ctx.Err()
	}
}

func (f *fakeStream) Close() error {
	f.end()
	return nil
}

func (f *fakeStream) end() {
	f.once.Do(func() {
		close(f.ended)
	})
}

// fakeAPI is an in-memory SessionAPI. All call counters are guarded by mu;
// behavior is overridable through the function fields.
type fakeAPI struct {
	mu sync.Mutex

	live    map[string]bool
	streams map[string]*fakeStream
	txSeq   int

	createCalls   int
	deleteCalls   int
	beginCalls    int
	commitCalls   int
	rollbackCalls int
	executeCalls  int

	// Overridable behavior. A nil field selects the default.
	createFn  func(call int) (string, error)
	deleteFn  func(sessionID string) error
	commitFn  func(sessionID, txID string) error
	executeFn func(call int, sessionID, txID string, settings *TxSettings, q Query) (string, []byte, error)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		live:    make(map[string]bool),
		streams: make(map[string]*fakeStream),
	}
}

func (f *fakeAPI) CreateSession(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.createCalls++
	call := f.createCalls
	createFn := f.createFn
	f.mu.Unlock()

	if createFn != nil {
		id, err := createFn(call)
		if err != nil {
			return "", err
		}
		f.mu.Lock()
		f.live[id] = true
		f.mu.Unlock()
		return id, nil
	}

	id := uuid.NewString()
	f.mu.Lock()
	f.live[id] = true
	f.mu.Unlock()
	return id, nil
}

func (f *fakeAPI) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	f.deleteCalls++
	deleteFn := f.deleteFn
	delete(f.live, sessionID)
	if s, ok := f.streams[sessionID]; ok {
		s.end()
		delete(f.streams, sessionID)
	}
	f.mu.Unlock()

	if deleteFn != nil {
		return deleteFn(sessionID)
	}
	return nil
}

func (f *fakeAPI) AttachSession(ctx context.Context, sessionID string) (AttachStream, error) {
	s := &fakeStream{ctx: ctx, ended: make(chan struct{})}
	f.mu.Lock()
	f.streams[sessionID] = s
	f.mu.Unlock()
	return s, nil
}

func (f *fakeAPI) BeginTransaction(ctx context.Context, sessionID string, settings *TxSettings) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beginCalls++
	f.txSeq++
	return fmt.Sprintf("tx-%d", f.txSeq), nil
}

func (f *fakeAPI) CommitTransaction(ctx context.Context, sessionID, txID string) error {
	f.mu.Lock()
	f.commitCalls++
	commitFn := f.commitFn
	f.mu.Unlock()

	if commitFn != nil {
		return commitFn(sessionID, txID)
	}
	return nil
}

func (f *fakeAPI) RollbackTransaction(ctx context.Context, sessionID, txID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbackCalls++
	return nil
}

func (f *fakeAPI) ExecuteQuery(ctx context.Context, sessionID, txID string, settings *TxSettings, q Query) (string, []byte, error) {
	f.mu.Lock()
	f.executeCalls++
	call := f.executeCalls
	executeFn := f.executeFn
	f.mu.Unlock()

	if executeFn != nil {
		return executeFn(call, sessionID, txID, settings, q)
	}

	if txID == "" && settings != nil {
		f.mu.Lock()
		f.txSeq++
		txID = fmt.Sprintf("tx-%d", f.txSeq)
		f.mu.Unlock()
	}
	return txID, []byte("ok"), nil
}

// endStream terminates the keep-alive stream of the specified session, as
// the server would when revoking it.
func (f *fakeAPI) endStream(sessionID string) {
	f.mu.Lock()
	s := f.streams[sessionID]
	f.mu.Unlock()
	if s != nil {
		s.end()
	}
}

func (f *fakeAPI) counters() (created, deleted, commits, rollbacks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.deleteCalls, f.commitCalls, f.rollbackCalls
}

// fakeDialer hands out the same fakeAPI for every endpoint.
type fakeDialer struct {
	api     *fakeAPI
	dialErr error
}

func (d *fakeDialer) Dial(ctx context.Context, e Endpoint) (SessionAPI, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.api, nil
}

// fakeDiscovery serves a single static endpoint and records pessimizations.
type fakeDiscovery struct {
	endpoint Endpoint

	mu          sync.Mutex
	pessimized  int
	removedSubs []func(Endpoint)
}

func newFakeDiscovery() *fakeDiscovery {
	return &fakeDiscovery{endpoint: Endpoint{Address: "localhost:2136", NodeID: 1}}
}

func (d *fakeDiscovery) GetEndpoint(ctx context.Context) (Endpoint, error) {
	return d.endpoint, nil
}

func (d *fakeDiscovery) Pessimize(e Endpoint) {
	d.mu.Lock()
	d.pessimized++
	d.mu.Unlock()
}

func (d *fakeDiscovery) OnEndpointRemoved(fn func(Endpoint)) func() {
	d.mu.Lock()
	d.removedSubs = append(d.removedSubs, fn)
	i := len(d.removedSubs) - 1
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		d.removedSubs[i] = nil
		d.mu.Unlock()
	}
}

func (d *fakeDiscovery) removeEndpoint(e Endpoint) {
	d.mu.Lock()
	subs := append([]func(Endpoint){}, d.removedSubs...)
	d.mu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(e)
		}
	}
}

func (d *fakeDiscovery) pessimizations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pessimized
}

// testConfig returns a Config wired to fresh fakes, with fast retries and
// logging off.
func testConfig() (Config, *fakeAPI, *fakeDiscovery) {
	api := newFakeAPI()
	discovery := newFakeDiscovery()
	retry, _ := NewDefaultRetryStrategy(3, time.Millisecond)

	cfg := Config{
		Discovery:     discovery,
		Dialer:        &fakeDialer{api: api},
		RetryStrategy: retry,
	}
	cfg.SetLogger(logger.New(nil, logger.Off, false))
	return cfg, api, discovery
}

// waitFor polls cond until it holds or the test deadline elapses.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", msg)
}

// poolSize returns the current number of live sessions in the pool.
func poolSize(p *SessionPool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// waiterCount returns the current number of queued waiters.
func waiterCount(p *SessionPool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
