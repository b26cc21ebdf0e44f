// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"context"
	"sync"
)

// Well-known keys.
const (
	KeyAccessToken = "access_token"
	KeyUserID      = "user_id"
	KeyDeviceID    = "device_id"
	KeyBotName     = "bot_name"
	KeySyncToken   = "sync_token"
)

// Store is a persistent string key/value map. Get reports whether the
// key exists; a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// SetAll writes every entry atomically.
	SetAll(ctx context.Context, entries map[string]string) error
	Close() error
}

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	writes int
	closed bool
}

// NewMemoryStore returns an empty MemoryStore, optionally seeded.
func NewMemoryStore(seed map[string]string) *MemoryStore {
	values := make(map[string]string, len(seed))
	for key, value := range seed {
		values[key] = value
	}
	return &MemoryStore{values: values}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.values[key] = value
	s.writes++
	return nil
}

func (s *MemoryStore) SetAll(_ context.Context, entries map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for key, value := range entries {
		s.values[key] = value
	}
	s.writes++
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Writes returns how many Set or SetAll calls have succeeded.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Snapshot returns a copy of the stored values.
func (s *MemoryStore) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]string, len(s.values))
	for key, value := range s.values {
		result[key] = value
	}
	return result
}
