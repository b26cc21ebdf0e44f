// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/matrixbot/lib/credstore"
	"github.com/bureau-foundation/matrixbot/messaging"
)

// CursorStore keeps the sync position in memory and writes it to the
// credential store from a background goroutine. Save only signals the
// writer, so a slow disk never stalls the sync loop; signals that
// arrive while a write is pending collapse into one write of the
// latest position.
type CursorStore struct {
	store  credstore.Store
	logger *slog.Logger

	mu    sync.Mutex
	token string
	dirty bool

	flush   chan struct{}
	stop    chan struct{}
	done    chan struct{}
	started bool
	closed  bool
}

var _ messaging.SyncStore = (*CursorStore)(nil)

// NewCursorStore returns a CursorStore over store. Call Start before
// the sync loop runs and Close after it stops.
func NewCursorStore(store credstore.Store, logger *slog.Logger) *CursorStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CursorStore{
		store:  store,
		logger: logger,
		flush:  make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the writer goroutine. Idempotent.
func (c *CursorStore) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	go c.run()
}

func (c *CursorStore) run() {
	defer close(c.done)
	for {
		select {
		case <-c.flush:
			c.write()
		case <-c.stop:
			c.write()
			return
		}
	}
}

// SavedSyncToken loads the stored position. A store failure is
// returned as *PersistenceError and the sync starts from scratch.
func (c *CursorStore) SavedSyncToken(ctx context.Context) (string, error) {
	token, _, err := c.store.Get(ctx, credstore.KeySyncToken)
	if err != nil {
		return "", &PersistenceError{Op: "read", Key: credstore.KeySyncToken, Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.dirty = false
	return token, nil
}

// SetSyncToken records a new position. Recording the current position
// again does not mark it unsaved.
func (c *CursorStore) SetSyncToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token == c.token {
		return
	}
	c.token = token
	c.dirty = true
}

// Token returns the in-memory position.
func (c *CursorStore) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// WantsSave reports whether the in-memory position is unsaved.
func (c *CursorStore) WantsSave() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Save asks the writer to persist the position and returns at once.
// Before Start or after Close it writes synchronously.
func (c *CursorStore) Save(context.Context) error {
	c.mu.Lock()
	running := c.started && !c.closed
	c.mu.Unlock()
	if !running {
		c.write()
		return nil
	}
	select {
	case c.flush <- struct{}{}:
	default:
	}
	return nil
}

// Flush writes the position synchronously if it is unsaved.
func (c *CursorStore) Flush() {
	c.write()
}

// Close stops the writer after a final flush. Idempotent.
func (c *CursorStore) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	c.mu.Unlock()

	if !started {
		c.write()
		return
	}
	close(c.stop)
	<-c.done
}

func (c *CursorStore) write() {
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return
	}
	token := c.token
	c.mu.Unlock()

	if err := c.store.Set(context.Background(), credstore.KeySyncToken, token); err != nil {
		c.logger.Warn("persisting sync token failed",
			"error", &PersistenceError{Op: "write", Key: credstore.KeySyncToken, Err: err},
		)
		return
	}

	c.mu.Lock()
	if c.token == token {
		c.dirty = false
	}
	c.mu.Unlock()
}
