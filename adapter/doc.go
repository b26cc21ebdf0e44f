// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package adapter turns a Matrix account into a long-running bot
// session for a host framework.
//
// The host constructs an [Adapter] with a [Connector] (normally
// [MatrixConnector]), a credstore.Store and a [Consumer], then calls
// Run. Run obtains a session, logging in only when stored credentials
// are incomplete, starts the sync loop and blocks until the context
// ends or the homeserver rejects the token. Inbound messages reach the
// Consumer as [InboundMessage] values; outbound text goes through
// Send, Emote, Reply and Topic.
//
// Internally the work is split the way the session behaves:
//
//   - [SessionManager] resolves credentials (resume or login).
//   - [SyncEngine] tracks [ConnectionState] from sync-state events and
//     bootstraps device tracking.
//   - [EventNormalizer] filters timeline traffic, sends read receipts and
//     accepts invites.
//   - [PresenceThrottle] rate-limits presence updates.
//   - [OutboundGateway] applies retry and unknown-device remediation
//     to every send, and turns image URLs into uploaded media.
//   - [CursorStore] persists the sync position in the background.
package adapter
