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

// sessionBuilder creates sessions against a single endpoint. The pool keeps
// one builder per endpoint, created lazily and dropped when discovery
// reports the endpoint gone.
type sessionBuilder struct {
	endpoint  Endpoint
	dialer    Dialer
	discovery Discovery
	retry     RetryStrategy
	logger    *logger.Logger

	mu  sync.Mutex
	api SessionAPI
}

func newSessionBuilder(e Endpoint, dialer Dialer, discovery Discovery, retry RetryStrategy, lgr *logger.Logger) *sessionBuilder {
	return &sessionBuilder{
		endpoint:  e,
		dialer:    dialer,
		discovery: discovery,
		retry:     retry,
		logger:    lgr,
	}
}

// conn returns the RPC channel to the builder's endpoint, dialing it on
// first use.
func (b *sessionBuilder) conn(ctx context.Context) (SessionAPI, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.api != nil {
		return b.api, nil
	}

	api, err := b.dialer.Dial(ctx, b.endpoint)
	if err != nil {
		return nil, err
	}
	b.api = api
	return api, nil
}

// create requests a new remote session, wraps it in a Session bound to this
// endpoint and attaches the keep-alive stream. onStreamClosed is invoked
// once when that stream ends.
//
// The create RPC is retried transparently: creating a session has no partial
// side effects visible to the caller, so every attempt reports itself
// idempotent. These retries are independent of, and nested inside, the
// retry loop around Do. If creation ultimately fails the endpoint is
// pessimized so discovery deprioritizes it.
func (b *sessionBuilder) create(ctx context.Context, onStreamClosed func(*Session)) (*Session, error) {
	var s *Session
	err := b.retry.Retry(ctx, func(ctx context.Context) (bool, error) {
		api, err := b.conn(ctx)
		if err != nil {
			return true, ydberr.FromTransport(err)
		}

		id, err := api.CreateSession(ctx)
		if err != nil {
			return true, ydberr.FromTransport(err)
		}

		s = newSession(id, b.endpoint, api, b.logger)
		return true, nil
	})
	if err != nil {
		b.logger.Info("creating a session on %s failed, pessimizing the endpoint: %v", b.endpoint, err)
		b.discovery.Pessimize(b.endpoint)
		return nil, err
	}

	if err := s.attach(onStreamClosed); err != nil {
		_ = s.delete(ctx)
		return nil, err
	}

	b.logger.Fine("created session %s on %s", s.ID(), b.endpoint)
	return s, nil
}
