// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"

	"github.com/bureau-foundation/matrixbot/lib/ref"
)

// Session is the slice of an authenticated session that SyncClient and
// DeviceTracker depend on. *DirectSession implements it.
type Session interface {
	UserID() ref.UserID
	DeviceID() string

	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)
	JoinedMembers(ctx context.Context, roomID ref.RoomID) ([]ref.UserID, error)
	QueryKeys(ctx context.Context, users []ref.UserID) (*KeysQueryResponse, error)

	// CloseIdleConnections drops pooled connections after a failed
	// poll, so a half-dead TCP connection is not reused.
	CloseIdleConnections()
}

var _ Session = (*DirectSession)(nil)
