// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package retry runs an operation with exponential backoff, honoring
// server-provided retry hints.
//
// A [Policy] makes at most MaxRetries+1 attempts. Between attempts it
// sleeps for the hint returned by Classify when there is one, otherwise
// for the current backoff delay. The backoff delay starts at
// InitialDelay and doubles after every failed attempt whether or not a
// hint was used. Errors that Classify reports as not retryable are
// returned immediately.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/matrixbot/lib/clock"
)

// Defaults applied when a Policy field is zero.
const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = time.Second
)

// Policy configures Do. The zero value retries every error three times
// starting at one second on the real clock.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Negative means no retries.
	MaxRetries int

	InitialDelay time.Duration

	Clock  clock.Clock
	Logger *slog.Logger

	// Classify inspects a failed attempt. It returns the server's retry
	// hint (zero for none) and whether the error is worth retrying. Nil
	// retries everything without a hint.
	Classify func(err error) (hint time.Duration, retryable bool)

	// OnRetry is called before each backoff sleep with the 1-based
	// number of the attempt that failed.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries == 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if p.Clock == nil {
		p.Clock = clock.Real()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

// Do calls fn until it succeeds, fails with a non-retryable error, the
// attempts run out, or ctx is cancelled during a backoff sleep. The
// last error is returned wrapped with the operation name.
func Do[T any](ctx context.Context, policy Policy, operation string, fn func(context.Context) (T, error)) (T, error) {
	policy = policy.withDefaults()
	delay := policy.InitialDelay

	var zero T
	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		hint, retryable := time.Duration(0), true
		if policy.Classify != nil {
			hint, retryable = policy.Classify(err)
		}
		if !retryable {
			return zero, err
		}
		if attempt > policy.MaxRetries {
			return zero, fmt.Errorf("%s: giving up after %d attempts: %w", operation, attempt, err)
		}

		wait := delay
		if hint > 0 {
			wait = hint
		}
		policy.Logger.Warn("retrying operation",
			"operation", operation,
			"attempt", attempt,
			"delay", wait,
			"error", err,
		)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, wait, err)
		}

		select {
		case <-policy.Clock.After(wait):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		delay *= 2
	}
}
