// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source for the session
// engine.
//
// Every component that sleeps, polls, or compares timestamps (retry
// backoff, the crypto readiness poll, the presence throttle, the sync
// reconnect loop) takes a Clock rather than calling the time package.
// Production wiring passes Real(); tests pass Fake() and drive time
// forward explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go engine.Run(ctx)
//	fake.WaitForTimers(1)           // the goroutine is now sleeping
//	fake.Advance(100 * time.Millisecond)
//
// WaitForTimers closes the race between a goroutine registering a
// timer and the test advancing past its deadline.
package clock
