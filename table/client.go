//
// Copyright (c) 2024, 2026 jamakase and contributors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 as shown at
//  https://www.apache.org/licenses/LICENSE-2.0
//

package table

import (
	"context"
	"time"

	"github.com/jamakase/ydb-go-sdk/table/internal/sdkutil"
	"github.com/jamakase/ydb-go-sdk/table/logger"
	"github.com/jamakase/ydb-go-sdk/table/ydberr"
)

// Client represents a client used to run operations against the remote query
// service. It owns a session pool and wraps each unit of work with automatic
// retry and transaction boundary management.
type Client struct {
	// Config specifies the configuration parameters associated with the
	// Client. Most configuration parameters have default values that
	// should suffice for use.
	Config

	// pool owns the live sessions.
	pool *SessionPool

	// logger specifies a Client logger used to log events.
	logger *logger.Logger

	// retry specifies the retry strategy driving Do and DoTx.
	retry RetryStrategy
}

var (
	errNilOperation = ydberr.NewIllegalArgument("operation must be non-nil")
	errNilContext   = ydberr.NewIllegalArgument("nil context")
)

// NewClient creates a Client instance with the specified Config.
// If any errors occurred during the creation, it returns a non-nil error and
// a nil Client that should not be used.
//
// Applications should call the Close() method on the Client when it terminates.
func NewClient(cfg Config) (*Client, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		Config: cfg,
		pool:   newSessionPool(&cfg),
		logger: cfg.Logger,
		retry:  cfg.RetryStrategy,
	}
	c.logger.Info("created table client (%s)", sdkutil.UserAgent())
	return c, nil
}

// SessionPool returns the pool owned by the client, for callers that need to
// acquire sessions directly rather than through Do.
func (c *Client) SessionPool() *SessionPool {
	return c.pool
}

// Close releases any resources used by Client, deleting all live sessions.
func (c *Client) Close(ctx context.Context) error {
	// do not close the logger; it may have been passed to us and
	// may still be in use by the application
	return c.pool.Close(ctx)
}

// Operation is a user function executed against an acquired session.
// The operation must use the supplied ctx for every call it issues on the
// session; it may be invoked multiple times, each time with a fresh session.
type Operation func(ctx context.Context, s *Session) error

type doOptions struct {
	txSettings *TxSettings
	timeout    time.Duration
	idempotent *bool
}

// DoOption configures a single Do or DoTx call.
type DoOption func(*doOptions)

// WithTxSettings makes the Do wrapper manage a transaction with the
// specified settings around the operation: queries executed by the operation
// run under it, and it is committed automatically when the operation
// succeeds.
func WithTxSettings(settings *TxSettings) DoOption {
	return func(o *doOptions) {
		o.txSettings = settings
	}
}

// WithTimeout bounds the whole call, including session acquisition and all
// retries.
func WithTimeout(timeout time.Duration) DoOption {
	return func(o *doOptions) {
		o.timeout = timeout
	}
}

// WithIdempotent asserts at call level whether retrying the operation on a
// fresh session is safe. This overrides the default the retry strategy would
// otherwise apply.
func WithIdempotent(idempotent bool) DoOption {
	return func(o *doOptions) {
		o.idempotent = &idempotent
	}
}

// Do executes the operation against a pooled session inside a retry loop.
//
// Each attempt acquires a session, stamps it with the call's execution
// context and options, and invokes op. When the operation leaves a
// transaction open, Do resolves it before the session returns to the pool:
// it is committed if WithTxSettings was supplied, rolled back otherwise. On
// failure an open transaction is rolled back best-effort and the original
// error propagates. Sessions the server declared bad or busy are evicted
// from the pool instead of reused.
//
// Whether a failed attempt is retried is decided by the configured retry
// strategy from the error classification and the call's idempotency flag.
func (c *Client) Do(ctx context.Context, op Operation, opts ...DoOption) error {
	if ctx == nil {
		return errNilContext
	}
	if op == nil {
		return errNilOperation
	}

	var o doOptions
	for _, opt := range opts {
		opt(&o)
	}
	return c.do(ctx, op, &o)
}

// DoTx is Do with transaction settings defaulted to a serializable
// read-write transaction begun automatically with the first statement. It
// exists so the common one-transaction-per-call pattern does not require the
// caller to spell out transaction settings.
func (c *Client) DoTx(ctx context.Context, op Operation, opts ...DoOption) error {
	if ctx == nil {
		return errNilContext
	}
	if op == nil {
		return errNilOperation
	}

	var o doOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.txSettings == nil {
		o.txSettings = TxSettingsSerializableReadWrite()
	}
	return c.do(ctx, op, &o)
}

func (c *Client) do(ctx context.Context, op Operation, o *doOptions) error {
	var cancel context.CancelFunc
	if o.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	return c.retry.Retry(ctx, func(ctx context.Context) (bool, error) {
		return c.attempt(ctx, op, o)
	})
}

// attempt runs one attempt of the operation on a freshly acquired session
// and reports the result to the retry loop together with the call's
// idempotency verdict.
func (c *Client) attempt(ctx context.Context, op Operation, o *doOptions) (idempotent bool, err error) {
	idempotent = o.idempotent != nil && *o.idempotent

	s, err := c.pool.Acquire(ctx, 0)
	if err != nil {
		return idempotent, err
	}

	opCtx, opCancel := context.WithCancel(ctx)
	s.setOperationContext(opCancel)
	if o.idempotent != nil {
		s.setIdempotent(*o.idempotent, true)
	}
	if o.txSettings != nil {
		s.setTransactionSettings(o.txSettings)
	}

	err = op(opCtx, s)
	if err != nil {
		// A bad or busy session cannot serve a rollback RPC; skip it and
		// let the eviction below tear the transaction down server-side.
		if s.TransactionID() != "" && !ydberr.IsSessionUnusable(err) {
			if rbErr := c.rollbackAbandoned(s); rbErr != nil {
				c.logger.Debug("rollback on session %s after a failed operation: %v", s.ID(), rbErr)
			}
		}
	} else if s.TransactionID() != "" {
		if o.txSettings != nil {
			err = c.withRequestTimeout(ctx, s.CommitTransaction)
		} else {
			// The operation opened a transaction manually and left it
			// unresolved; every transaction must be closed before the
			// session returns to the pool.
			err = c.withRequestTimeout(ctx, s.RollbackTransaction)
		}
	}

	s.clearCallState()

	if ydberr.IsSessionUnusable(err) {
		c.pool.signalBroken(s)
	} else {
		s.Release()
	}
	return idempotent, err
}

// rollbackAbandoned rolls back the session's open transaction best-effort,
// detached from the failed operation's context.
func (c *Client) rollbackAbandoned(s *Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.DefaultRequestTimeout())
	defer cancel()
	return s.RollbackTransaction(ctx)
}

// withRequestTimeout runs a commit or rollback under the caller's context,
// bounded by the configured request timeout.
func (c *Client) withRequestTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.DefaultRequestTimeout())
	defer cancel()
	return fn(ctx)
}
