// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/bureau-foundation/matrixbot/lib/clock"
)

// background tracks outbound calls that must finish before the client
// is closed: fire-and-forget calls (receipts, joins, presence, display
// name) run off the sync goroutine, and host calls (Send, Emote, Topic)
// run on the host's goroutine. Stop drains it.
type background struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newBackground() *background {
	ctx, cancel := context.WithCancel(context.Background())
	return &background{ctx: ctx, cancel: cancel}
}

// add registers one call. It fails once drain has started, so no call
// can slip past the wait.
func (b *background) add() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.wg.Add(1)
	return true
}

// Go runs fn in a goroutine. fn's context is cancelled by drain. Calls
// made after drain has started are dropped.
func (b *background) Go(fn func(ctx context.Context)) {
	if !b.add() {
		return
	}
	go func() {
		defer b.wg.Done()
		fn(b.ctx)
	}()
}

// track registers a call running on the caller's goroutine. The
// returned context ends with ctx or when drain gives up waiting. The
// caller must call done when the call returns. ok is false once drain
// has started.
func (b *background) track(ctx context.Context) (tracked context.Context, done func(), ok bool) {
	if !b.add() {
		return ctx, func() {}, false
	}
	tracked, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(b.ctx, cancel)
	return tracked, func() {
		stop()
		cancel()
		b.wg.Done()
	}, true
}

// Wait blocks until every call started so far has returned.
func (b *background) Wait() {
	b.wg.Wait()
}

// drain refuses new calls, waits up to timeout for running ones, then
// cancels the rest and waits for them to return. It reports whether
// everything finished before the timeout.
func (b *background) drain(clk clock.Clock, timeout time.Duration) bool {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.cancel()
		return true
	case <-clk.After(timeout):
		b.cancel()
		<-done
		return false
	}
}
