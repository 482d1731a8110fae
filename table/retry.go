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
	"math/rand"
	"time"

	"github.com/jamakase/ydb-go-sdk/table/ydberr"
)

// AttemptFunc represents one attempt of a retryable operation.
//
// The returned idempotent flag is the attempt's own verdict on whether the
// work it performed is safe to repeat; the retry strategy combines it with
// the error classification to decide whether another attempt is made.
type AttemptFunc func(ctx context.Context) (idempotent bool, err error)

// RetryStrategy interface is used by Do, DoTx and the session builder when a
// retryable error is returned. It controls the number of retries as well as
// frequency of retries using a delaying algorithm.
//
// A default RetryStrategy is always configured on a Client instance and can
// be controlled or overridden using Config.RetryStrategy.
//
// Implementations of this interface must be immutable so they can be shared.
type RetryStrategy interface {
	// Retry repeatedly invokes the attempt function until it succeeds,
	// the error is not retryable for the attempt's idempotency verdict,
	// the configured retry budget is exhausted, or ctx is done.
	// It returns nil on success and the last attempt's error otherwise.
	Retry(ctx context.Context, attempt AttemptFunc) error
}

// DefaultRetryStrategy represents the default implementation of the
// RetryStrategy interface.
//
// The zero value retries up to the default number of times using
// exponential backoff with jitter.
type DefaultRetryStrategy struct {
	maxNumRetries uint
	retryInterval time.Duration
}

// NewDefaultRetryStrategy creates a DefaultRetryStrategy with the specified
// maximum number of retries and retry interval. The retry interval must be
// greater than or equal to 1 millisecond; a zero interval selects
// exponential backoff and is configured by leaving the strategy at its zero
// value instead.
func NewDefaultRetryStrategy(maxNumRetries uint, retryInterval time.Duration) (*DefaultRetryStrategy, error) {
	if retryInterval < time.Millisecond {
		return nil, errors.New("retry interval must be greater than or equal to 1 millisecond")
	}

	return &DefaultRetryStrategy{
		maxNumRetries: maxNumRetries,
		retryInterval: retryInterval,
	}, nil
}

// MaxNumRetries returns the maximum number of retries that this strategy
// will allow before the error is reported to the application.
func (r DefaultRetryStrategy) MaxNumRetries() uint {
	if r.maxNumRetries == 0 && r.retryInterval == 0 {
		return defaultMaxNumRetries
	}
	return r.maxNumRetries
}

// Retry implements the RetryStrategy interface.
//
// An attempt's failure is retried when the error is retryable for the
// attempt's idempotency verdict (see ydberr.Error.RetryableFor) and the
// number of retries performed so far is below the maximum. Cancellation of
// ctx aborts further retries and surfaces the last attempt's error.
func (r DefaultRetryStrategy) Retry(ctx context.Context, attempt AttemptFunc) error {
	var numRetries uint

	for {
		idempotent, err := attempt(ctx)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return err
		}

		if !r.shouldRetry(numRetries, idempotent, err) {
			return err
		}

		numRetries++
		d := r.retryInterval
		if d <= 0 {
			d = computeBackoffDelay(numRetries, 10*time.Millisecond)
		}

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}

// shouldRetry reports whether the operation should continue to retry upon
// receiving the specified error and having attempted the specified number
// of retries.
func (r DefaultRetryStrategy) shouldRetry(numRetries uint, idempotent bool, err error) bool {
	var e *ydberr.Error
	if !errors.As(err, &e) {
		return false
	}

	if !e.RetryableFor(idempotent) {
		return false
	}

	return numRetries < r.MaxNumRetries()
}

// Use an exponential backoff algorithm to compute time of delay.
//
// Assumption: numRetries starts with 1
// DelayMS = 2^(numRetries-1) * baseDelay + random MS (0-100)
func computeBackoffDelay(numRetries uint, baseDelay time.Duration) time.Duration {
	if numRetries < 1 {
		return baseDelay
	}
	if numRetries > 16 {
		numRetries = 16
	}
	d := (1 << (numRetries - 1)) * baseDelay
	d += time.Duration(rand.Intn(100)) * time.Millisecond
	return d
}
