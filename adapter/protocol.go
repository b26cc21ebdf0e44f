// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"io"

	"github.com/bureau-foundation/matrixbot/lib/ref"
	"github.com/bureau-foundation/matrixbot/lib/secret"
	"github.com/bureau-foundation/matrixbot/messaging"
)

// ProtocolClient is a resumed Matrix session as the adapter uses it.
// Subscription handlers run on the sync goroutine in delivery order.
type ProtocolClient interface {
	UserID() ref.UserID

	OnSync(handler func(messaging.SyncStateEvent))
	OnTimeline(handler func(messaging.TimelineEvent))
	OnMembership(handler func(messaging.MembershipEvent))

	// StartClient blocks running the sync loop until ctx ends.
	StartClient(ctx context.Context, options messaging.StartOptions) error

	// InitCrypto starts device tracking. CryptoEnabled reports that it
	// is active. Neither sets up end-to-end encryption.
	InitCrypto(ctx context.Context) error
	CryptoEnabled() bool
	RoomCount() int

	SendMessage(ctx context.Context, roomID ref.RoomID, content any) (ref.EventID, error)
	SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType, stateKey string, content any) (ref.EventID, error)
	SendReadReceipt(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) error
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)
	SetPresence(ctx context.Context, presence string) error
	GetDisplayName(ctx context.Context, userID ref.UserID) (string, error)
	SetDisplayName(ctx context.Context, name string) error
	SetDeviceKnown(ctx context.Context, userID ref.UserID, deviceID string) error
	UploadMedia(ctx context.Context, contentType, filename string, body io.Reader) (string, error)

	Close() error
}

// Identity is the credential set issued by a login. All four fields
// are required to resume.
type Identity struct {
	AccessToken string
	UserID      ref.UserID
	DeviceID    string
	BotName     string
}

// complete reports whether every field is present.
func (i Identity) complete() bool {
	return i.AccessToken != "" && !i.UserID.IsZero() && i.DeviceID != "" && i.BotName != ""
}

// Connector creates sessions. Login performs a password login and
// returns the issued credentials; Resume builds a client from them
// without contacting the server.
type Connector interface {
	Login(ctx context.Context, user string, password *secret.Buffer, deviceName string) (Identity, error)
	Resume(ctx context.Context, identity Identity, cursor messaging.SyncStore) (ProtocolClient, error)
}
