//
// Copyright (c) 2024, 2026 jamakase and contributors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 as shown at
//  https://www.apache.org/licenses/LICENSE-2.0
//

package table

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamakase/ydb-go-sdk/table/ydberr"
)

func newTestClient(t *testing.T) (*Client, *fakeAPI) {
	t.Helper()
	cfg, api, _ := testConfig()
	c, err := NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close(context.Background())
	})
	return c, api
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"missing discovery", func(c *Config) { c.Discovery = nil }},
		{"missing dialer", func(c *Config) { c.Dialer = nil }},
		{"negative min limit", func(c *Config) { c.SessionPoolMinLimit = -1 }},
		{"min above max", func(c *Config) {
			c.SessionPoolMinLimit = 10
			c.SessionPoolMaxLimit = 5
		}},
	}

	for _, r := range tests {
		t.Run(r.name, func(t *testing.T) {
			cfg, _, _ := testConfig()
			r.modify(&cfg)
			c, err := NewClient(cfg)
			assert.Nil(t, c)
			assert.True(t, ydberr.Is(err, ydberr.IllegalArgument), "NewClient() got error %v", err)
		})
	}
}

func TestDoNilArguments(t *testing.T) {
	c, _ := newTestClient(t)

	err := c.Do(context.Background(), nil)
	assert.True(t, ydberr.Is(err, ydberr.IllegalArgument))

	err = c.Do(nil, func(ctx context.Context, s *Session) error { return nil })
	assert.True(t, ydberr.Is(err, ydberr.IllegalArgument))
}

// The canonical DoTx round trip: the first statement begins the
// transaction, the wrapper commits it exactly once, and the session goes
// back to the pool clean.
func TestDoTxCommitsOnSuccess(t *testing.T) {
	c, api := newTestClient(t)

	var used *Session
	err := c.DoTx(context.Background(), func(ctx context.Context, s *Session) error {
		used = s
		if _, err := s.Execute(ctx, Query{Text: "UPSERT INTO t VALUES (1)"}); err != nil {
			return err
		}
		require.NotEmpty(t, s.TransactionID(), "the first statement must begin the transaction")
		_, err := s.Execute(ctx, Query{Text: "SELECT 1"})
		return err
	})
	require.NoError(t, err)

	_, _, commits, rollbacks := api.counters()
	assert.Equal(t, 1, commits)
	assert.Zero(t, rollbacks)

	require.NotNil(t, used)
	assert.Empty(t, used.TransactionID(), "the transaction must be resolved before release")
	waitFor(t, used.IsFree, "session returned to the pool")
}

func TestDoRollsBackManualTransactionOnError(t *testing.T) {
	c, api := newTestClient(t)

	opErr := errors.New("constraint violated")
	err := c.Do(context.Background(), func(ctx context.Context, s *Session) error {
		if _, err := s.BeginTransaction(ctx, TxSettingsSerializableReadWrite()); err != nil {
			return err
		}
		return opErr
	})
	assert.Equal(t, opErr, err, "the operation's error must propagate unchanged")

	_, _, commits, rollbacks := api.counters()
	assert.Zero(t, commits)
	assert.Equal(t, 1, rollbacks, "an abandoned transaction is rolled back")
}

func TestDoRollsBackTransactionLeftOpenOnSuccess(t *testing.T) {
	c, api := newTestClient(t)

	err := c.Do(context.Background(), func(ctx context.Context, s *Session) error {
		_, err := s.BeginTransaction(ctx, TxSettingsSerializableReadWrite())
		return err
	})
	require.NoError(t, err)

	_, _, commits, rollbacks := api.counters()
	assert.Zero(t, commits, "Do without transaction settings never commits")
	assert.Equal(t, 1, rollbacks)
}

func TestDoTxRollsBackOnOperationError(t *testing.T) {
	c, api := newTestClient(t)

	opErr := errors.New("application gave up")
	err := c.DoTx(context.Background(), func(ctx context.Context, s *Session) error {
		if _, err := s.Execute(ctx, Query{Text: "UPSERT INTO t VALUES (1)"}); err != nil {
			return err
		}
		return opErr
	})
	assert.Equal(t, opErr, err)

	_, _, commits, rollbacks := api.counters()
	assert.Zero(t, commits)
	assert.Equal(t, 1, rollbacks)
}

// A bad-session error evicts the session and the retry loop runs the
// operation again on a freshly created one. No rollback is attempted on the
// unusable session.
func TestDoRetriesOnBadSession(t *testing.T) {
	c, api := newTestClient(t)

	badID := ""
	api.executeFn = func(call int, sessionID, txID string, settings *TxSettings, q Query) (string, []byte, error) {
		if call == 1 {
			badID = sessionID
			return "", nil, ydberr.New(ydberr.BadSession, "session no longer exists")
		}
		return "tx-retried", []byte("ok"), nil
	}

	attempts := 0
	var lastSession *Session
	err := c.DoTx(context.Background(), func(ctx context.Context, s *Session) error {
		attempts++
		lastSession = s
		_, err := s.Execute(ctx, Query{Text: "SELECT 1"})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	require.NotNil(t, lastSession)
	assert.NotEqual(t, badID, lastSession.ID(), "the retry must run on a fresh session")

	created, deleted, commits, rollbacks := api.counters()
	assert.Equal(t, 2, created)
	assert.Equal(t, 1, deleted, "the bad session is evicted and deleted")
	assert.Equal(t, 1, commits)
	assert.Zero(t, rollbacks, "no rollback is sent to an unusable session")
	assert.Equal(t, 1, poolSize(c.SessionPool()))
}

func TestDoSessionBusyEvicts(t *testing.T) {
	c, api := newTestClient(t)

	api.executeFn = func(call int, sessionID, txID string, settings *TxSettings, q Query) (string, []byte, error) {
		if call == 1 {
			return "", nil, ydberr.New(ydberr.SessionBusy, "session is busy")
		}
		return "", []byte("ok"), nil
	}

	err := c.Do(context.Background(), func(ctx context.Context, s *Session) error {
		_, err := s.Execute(ctx, Query{Text: "SELECT 1"})
		return err
	})
	require.NoError(t, err)

	created, deleted, _, _ := api.counters()
	assert.Equal(t, 2, created)
	assert.Equal(t, 1, deleted)
}

func TestDoTransportErrorNotRetriedWhenNotIdempotent(t *testing.T) {
	c, _ := newTestClient(t)

	attempts := 0
	err := c.Do(context.Background(), func(ctx context.Context, s *Session) error {
		attempts++
		return ydberr.New(ydberr.TransportError, "connection reset")
	})
	assert.True(t, ydberr.Is(err, ydberr.TransportError))
	assert.Equal(t, 1, attempts, "a transport error on a non-idempotent call must not be retried")
}

func TestDoTransportErrorRetriedWithIdempotent(t *testing.T) {
	c, _ := newTestClient(t)

	attempts := 0
	err := c.Do(context.Background(), func(ctx context.Context, s *Session) error {
		attempts++
		if attempts < 3 {
			return ydberr.New(ydberr.TransportError, "connection reset")
		}
		return nil
	}, WithIdempotent(true))
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoIdempotencyVisibleToOperation(t *testing.T) {
	c, _ := newTestClient(t)

	err := c.Do(context.Background(), func(ctx context.Context, s *Session) error {
		idempotent, atDoLevel := s.Idempotent()
		assert.True(t, idempotent)
		assert.True(t, atDoLevel)
		return nil
	}, WithIdempotent(true))
	require.NoError(t, err)

	err = c.Do(context.Background(), func(ctx context.Context, s *Session) error {
		_, atDoLevel := s.Idempotent()
		assert.False(t, atDoLevel, "no call-level verdict was supplied")
		return nil
	})
	require.NoError(t, err)
}

func TestDoWithTimeout(t *testing.T) {
	c, _ := newTestClient(t)

	err := c.Do(context.Background(), func(ctx context.Context, s *Session) error {
		select {
		case <-ctx.Done():
			return ydberr.NewWithCause(ydberr.Timeout, ctx.Err(), "operation timed out")
		case <-time.After(2 * time.Second):
			return errors.New("the operation context was never canceled")
		}
	}, WithTimeout(30*time.Millisecond))
	assert.True(t, ydberr.IsTimeout(err), "Do() got error %v; want Timeout", err)
}

// An aborted commit is retryable: the whole operation runs again in a new
// transaction, and the second commit succeeds.
func TestDoTxRetriesAbortedCommit(t *testing.T) {
	c, api := newTestClient(t)

	commitAttempts := 0
	api.commitFn = func(sessionID, txID string) error {
		commitAttempts++
		if commitAttempts == 1 {
			return ydberr.New(ydberr.Aborted, "transaction was aborted")
		}
		return nil
	}

	attempts := 0
	err := c.DoTx(context.Background(), func(ctx context.Context, s *Session) error {
		attempts++
		_, err := s.Execute(ctx, Query{Text: "SELECT 1"})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 2, commitAttempts)

	created, _, _, _ := api.counters()
	assert.Equal(t, 1, created, "the aborted commit does not break the session")
}

func TestDoReleasesSessionBetweenCalls(t *testing.T) {
	c, api := newTestClient(t)

	var first *Session
	require.NoError(t, c.Do(context.Background(), func(ctx context.Context, s *Session) error {
		first = s
		return nil
	}))
	require.NoError(t, c.Do(context.Background(), func(ctx context.Context, s *Session) error {
		assert.Same(t, first, s, "sequential calls should reuse the pooled session")
		return nil
	}))

	created, _, _, _ := api.counters()
	assert.Equal(t, 1, created)
}
