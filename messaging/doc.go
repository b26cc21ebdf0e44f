// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging speaks the Matrix client-server API for a single
// long-lived bot account.
//
// [Client] is the unauthenticated half: it holds the homeserver URL and
// HTTP transport and performs password login. [Client.SessionFromToken]
// resumes from stored credentials without a login round-trip. Either
// way the result is a [DirectSession], whose access token lives in
// mmap-backed secret.Buffer memory until Close.
//
// [SyncClient] owns the /sync long-poll loop. It persists the stream
// position through a [SyncStore], reconnects with capped exponential
// backoff on the injected clock, and fans each response out to typed
// subscribers in delivery order: timeline events, membership changes
// for the bot, and sync-state transitions (PREPARED, SYNCING, ERROR,
// RECONNECTING, STOPPED).
//
// [DeviceTracker] keeps the set of acknowledged devices. Before a send
// into an encrypted room it lists the room members' devices and
// refuses with [*UnknownDeviceError] if any are unacknowledged. The
// tracker does not implement Olm or Megolm; messages are sent as
// plaintext events.
//
// API failures are [*MatrixError] values carrying the Matrix error
// code, HTTP status and, for M_LIMIT_EXCEEDED, the server's retry
// hint. [RateLimit] extracts the hint.
package messaging
