// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/matrixbot/lib/clock"
	"github.com/bureau-foundation/matrixbot/messaging"
)

// DefaultReadyTimeout bounds how long Run waits for crypto to come up.
const DefaultReadyTimeout = 30 * time.Second

// cryptoPollInterval is how often CryptoEnabled is polled after
// InitCrypto.
const cryptoPollInterval = 100 * time.Millisecond

// errSyncDegraded is reported to the consumer when the sync loop fails
// without an underlying error.
var errSyncDegraded = errors.New("adapter: sync connection degraded")

// SyncEngine owns the connection state. It authenticates, starts the
// sync loop and follows the loop's state events; reconnection itself
// belongs to the loop.
type SyncEngine struct {
	sessions     *SessionManager
	state        *stateHolder
	consumer     Consumer
	background   *background
	botName      string
	options      messaging.StartOptions
	readyTimeout time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	mu     sync.Mutex
	client ProtocolClient
	ready  bool
}

type syncEngineConfig struct {
	sessions     *SessionManager
	state        *stateHolder
	consumer     Consumer
	background   *background
	botName      string
	options      messaging.StartOptions
	readyTimeout time.Duration
	clock        clock.Clock
	logger       *slog.Logger
}

func newSyncEngine(config syncEngineConfig) *SyncEngine {
	if config.readyTimeout <= 0 {
		config.readyTimeout = DefaultReadyTimeout
	}
	return &SyncEngine{
		sessions:     config.sessions,
		state:        config.state,
		consumer:     config.consumer,
		background:   config.background,
		botName:      config.botName,
		options:      config.options,
		readyTimeout: config.readyTimeout,
		clock:        config.clock,
		logger:       config.logger,
	}
}

// State returns the current connection state.
func (e *SyncEngine) State() ConnectionState {
	return e.state.Load()
}

// Authenticate obtains a session, moving Disconnected → Authenticating
// → Syncing. On failure the state returns to Disconnected.
func (e *SyncEngine) Authenticate(ctx context.Context) (ProtocolClient, error) {
	e.state.Store(Authenticating)
	client, err := e.sessions.Obtain(ctx)
	if err != nil {
		e.state.Store(Disconnected)
		return nil, err
	}
	e.logger.Info("authenticated", "user_id", client.UserID())

	e.mu.Lock()
	e.client = client
	e.mu.Unlock()
	e.state.Store(Syncing)
	return client, nil
}

// Run bootstraps crypto and blocks in the sync loop until ctx ends or
// the loop fails fatally. Authenticate must have succeeded.
func (e *SyncEngine) Run(ctx context.Context) error {
	e.mu.Lock()
	client := e.client
	e.ready = false
	e.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}

	e.bootstrapCrypto(ctx, client)
	if ctx.Err() != nil {
		e.state.Store(Disconnected)
		return nil
	}

	client.OnSync(e.HandleSync)
	err := client.StartClient(ctx, e.options)
	e.state.Store(Disconnected)
	return err
}

func (e *SyncEngine) bootstrapCrypto(ctx context.Context, client ProtocolClient) {
	if err := client.InitCrypto(ctx); err != nil {
		e.logger.Warn("device tracking unavailable, continuing without it", "error", err)
		return
	}
	if client.CryptoEnabled() {
		e.logger.Info("device tracking enabled, messages are not encrypted")
		return
	}

	ticker := e.clock.NewTicker(cryptoPollInterval)
	defer ticker.Stop()
	deadline := e.clock.After(e.readyTimeout)
	for {
		select {
		case <-ticker.C:
			if client.CryptoEnabled() {
				e.logger.Info("device tracking enabled, messages are not encrypted")
				return
			}
		case <-deadline:
			e.logger.Warn("device tracking not ready, continuing without it", "timeout", e.readyTimeout)
			return
		case <-ctx.Done():
			return
		}
	}
}

// HandleSync applies one sync loop state event.
func (e *SyncEngine) HandleSync(event messaging.SyncStateEvent) {
	current := e.state.Load()
	switch event.State {
	case messaging.SyncPrepared, messaging.SyncSyncing:
		if (current == Syncing && event.State == messaging.SyncPrepared) || current == Degraded {
			e.enterPrepared()
		}

	case messaging.SyncError, messaging.SyncReconnecting:
		if current != Prepared {
			return
		}
		e.state.Store(Degraded)
		err := event.Err
		if err == nil {
			err = errSyncDegraded
		}
		e.logger.Warn("sync degraded", "state", event.State, "error", err)
		e.consumer.OnError(err)

	case messaging.SyncStopped:
		e.state.Store(Disconnected)
	}
}

func (e *SyncEngine) enterPrepared() {
	previous := e.state.Store(Prepared)

	e.mu.Lock()
	client := e.client
	fireReady := !e.ready
	e.ready = true
	e.mu.Unlock()

	e.logger.Info("sync prepared",
		"rooms", client.RoomCount(),
		"recovered", previous == Degraded,
	)
	e.background.Go(func(ctx context.Context) {
		e.reconcileDisplayName(ctx, client)
	})
	if fireReady {
		e.consumer.OnReady()
	}
}

// reconcileDisplayName sets the profile display name to the bot name
// if it differs.
func (e *SyncEngine) reconcileDisplayName(ctx context.Context, client ProtocolClient) {
	current, err := client.GetDisplayName(ctx, client.UserID())
	if err != nil {
		e.logger.Warn("reading display name failed", "error", err)
		return
	}
	if current == e.botName {
		return
	}
	e.logger.Info("updating display name", "from", current, "to", e.botName)
	if err := client.SetDisplayName(ctx, e.botName); err != nil {
		e.logger.Warn("setting display name failed", "error", err)
	}
}
