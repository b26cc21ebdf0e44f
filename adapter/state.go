// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"log/slog"
	"sync/atomic"
)

// ConnectionState is the adapter's view of the session.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Authenticating
	// Syncing means the sync loop is running but has not completed its
	// first sync.
	Syncing
	Prepared
	// Degraded means the sync loop is failing and reconnecting.
	Degraded
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Authenticating:
		return "authenticating"
	case Syncing:
		return "syncing"
	case Prepared:
		return "prepared"
	case Degraded:
		return "degraded"
	}
	return "unknown"
}

// Connected reports whether a sync loop is running.
func (s ConnectionState) Connected() bool {
	return s == Syncing || s == Prepared || s == Degraded
}

// stateHolder has one writer (the sync engine) and many readers.
type stateHolder struct {
	value   atomic.Int32
	metrics *Metrics
	logger  *slog.Logger
}

func (h *stateHolder) Load() ConnectionState {
	return ConnectionState(h.value.Load())
}

// Store sets the state and returns the previous one.
func (h *stateHolder) Store(next ConnectionState) ConnectionState {
	previous := ConnectionState(h.value.Swap(int32(next)))
	if previous != next {
		h.logger.Debug("connection state changed", "from", previous, "to", next)
		h.metrics.setState(next)
	}
	return previous
}
