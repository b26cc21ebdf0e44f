// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("credstore: store is closed")

const schema = `
CREATE TABLE IF NOT EXISTS session (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
) STRICT;
`

const upsert = `INSERT INTO session (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	pool   *sqlitex.Pool
	path   string
	logger *slog.Logger
	closed atomic.Bool
}

// OpenSQLite opens (creating if needed) the database at path. The
// parent directory must exist. Use ":memory:" only in tests.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("credstore: path is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	// The store sees a handful of writes per minute; two connections
	// let a cursor flush overlap a credential read.
	poolSize := 2
	if path == ":memory:" {
		poolSize = 1
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("credstore: opening %s: %w", path, err)
	}
	logger.Info("credential store opened", "path", path)
	return &SQLiteStore{pool: pool, path: path, logger: logger}, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("credstore: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("credstore: creating schema: %w", err)
	}
	return nil
}

// take borrows a connection, failing with ErrClosed after Close.
func (s *SQLiteStore) take(ctx context.Context) (*sqlite.Conn, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.pool.Take(ctx)
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return "", false, fmt.Errorf("credstore: get %s: %w", key, err)
	}
	defer s.pool.Put(conn)

	var (
		value string
		found bool
	)
	err = sqlitex.Execute(conn, "SELECT value FROM session WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnText(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("credstore: get %s: %w", key, err)
	}
	return value, found, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	conn, err := s.take(ctx)
	if err != nil {
		return fmt.Errorf("credstore: set %s: %w", key, err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, upsert, &sqlitex.ExecOptions{Args: []any{key, value}}); err != nil {
		return fmt.Errorf("credstore: set %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) SetAll(ctx context.Context, entries map[string]string) (err error) {
	if len(entries) == 0 {
		return nil
	}
	conn, err := s.take(ctx)
	if err != nil {
		return fmt.Errorf("credstore: set all: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("credstore: set all: begin: %w", err)
	}
	defer endTransaction(&err)

	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err = sqlitex.Execute(conn, upsert, &sqlitex.ExecOptions{Args: []any{key, entries[key]}}); err != nil {
			return fmt.Errorf("credstore: set all: %s: %w", key, err)
		}
	}
	return nil
}

// Close closes the database. Blocks until borrowed connections return.
// Idempotent.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("credstore: closing %s: %w", s.path, err)
	}
	s.logger.Info("credential store closed", "path", s.path)
	return nil
}
