// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated, immutable Matrix identifiers: user
// IDs, room IDs, event IDs and server names.
//
// Identifiers are parsed once at the boundary (a /sync response, a
// configuration value, a host call) and passed around as typed values
// afterwards, so a room ID can never be handed to a parameter that
// expects a user ID. Every type implements encoding.TextMarshaler and
// encoding.TextUnmarshaler, which makes them usable as JSON values and
// as JSON object keys.
package ref
