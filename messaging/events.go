// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "github.com/bureau-foundation/matrixbot/lib/ref"

// SyncState is the state of the sync loop as reported to subscribers.
type SyncState string

const (
	// SyncPrepared is emitted after the first successful sync.
	SyncPrepared SyncState = "PREPARED"
	// SyncSyncing is emitted after every later successful sync.
	SyncSyncing SyncState = "SYNCING"
	// SyncError is emitted when a sync request fails.
	SyncError SyncState = "ERROR"
	// SyncReconnecting is emitted when the loop retries after a failure.
	SyncReconnecting SyncState = "RECONNECTING"
	// SyncStopped is emitted once when the loop exits.
	SyncStopped SyncState = "STOPPED"
)

// SyncStateEvent reports a sync state change. Err is set for SyncError.
type SyncStateEvent struct {
	State    SyncState
	Previous SyncState
	Err      error
}

// TimelineEvent is one timeline event of a joined room.
// ToStartOfTimeline marks history delivered by the initial sync rather
// than live traffic.
type TimelineEvent struct {
	RoomID            ref.RoomID
	Event             Event
	ToStartOfTimeline bool
}

// MembershipEvent is a membership change affecting the bot's user,
// including invites seen in invite_state.
type MembershipEvent struct {
	RoomID     ref.RoomID
	UserID     ref.UserID
	Sender     ref.UserID
	Membership string
}
