// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credstore persists the bot's session material: the access
// token, user ID and device ID issued at login, the bot name those
// credentials belong to, and the latest sync cursor.
//
// [Store] is a small string key/value interface. [SQLiteStore] backs it
// with a single-table SQLite database in WAL mode (zombiezen.com/go/sqlite)
// so credentials survive restarts. [MemoryStore] is the in-process
// implementation used by tests and by the --ephemeral command-line mode.
//
// [Store.SetAll] writes several keys in one transaction. Login results
// go through SetAll so a crash never leaves a token without the device
// it was issued for.
package credstore
