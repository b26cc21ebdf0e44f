// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/matrixbot/lib/clock"
	"github.com/bureau-foundation/matrixbot/lib/ref"
	"github.com/bureau-foundation/matrixbot/lib/secret"
	"github.com/bureau-foundation/matrixbot/messaging"
)

// MatrixConnector binds the adapter to a homeserver through the
// messaging package.
type MatrixConnector struct {
	client *messaging.Client
	clock  clock.Clock
	logger *slog.Logger
}

// NewMatrixConnector returns a Connector for client. clk drives the
// sync loop's reconnect backoff.
func NewMatrixConnector(client *messaging.Client, clk clock.Clock, logger *slog.Logger) *MatrixConnector {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MatrixConnector{client: client, clock: clk, logger: logger}
}

// Login performs a password login. The temporary session is closed;
// only the credentials are returned.
func (c *MatrixConnector) Login(ctx context.Context, user string, password *secret.Buffer, deviceName string) (Identity, error) {
	session, err := c.client.Login(ctx, user, password, deviceName)
	if err != nil {
		return Identity{}, err
	}
	defer session.Close()
	return Identity{
		AccessToken: session.AccessToken(),
		UserID:      session.UserID(),
		DeviceID:    session.DeviceID(),
	}, nil
}

// Resume builds a client from stored credentials.
func (c *MatrixConnector) Resume(_ context.Context, identity Identity, cursor messaging.SyncStore) (ProtocolClient, error) {
	session, err := c.client.SessionFromToken(identity.UserID, identity.DeviceID, identity.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("adapter: resuming session: %w", err)
	}
	syncClient := messaging.NewSyncClient(messaging.SyncClientConfig{
		Session: session,
		Store:   cursor,
		Clock:   c.clock,
		Logger:  c.logger,
	})
	return &matrixClient{
		SyncClient: syncClient,
		session:    session,
		devices:    messaging.NewDeviceTracker(session, syncClient, c.logger),
	}, nil
}

var _ ProtocolClient = (*matrixClient)(nil)

// matrixClient composes the session, its sync loop and device tracker
// into a ProtocolClient.
type matrixClient struct {
	*messaging.SyncClient
	session *messaging.DirectSession
	devices *messaging.DeviceTracker
}

func (m *matrixClient) UserID() ref.UserID { return m.session.UserID() }

func (m *matrixClient) InitCrypto(ctx context.Context) error { return m.devices.InitCrypto(ctx) }

func (m *matrixClient) CryptoEnabled() bool { return m.devices.CryptoEnabled() }

// SendMessage refuses with *messaging.UnknownDeviceError when the room
// is encrypted and has unacknowledged devices.
func (m *matrixClient) SendMessage(ctx context.Context, roomID ref.RoomID, content any) (ref.EventID, error) {
	if err := m.devices.CheckRoom(ctx, roomID); err != nil {
		return ref.EventID{}, err
	}
	return m.session.SendMessage(ctx, roomID, content)
}

func (m *matrixClient) SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType, stateKey string, content any) (ref.EventID, error) {
	return m.session.SendStateEvent(ctx, roomID, eventType, stateKey, content)
}

func (m *matrixClient) SendReadReceipt(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) error {
	return m.session.SendReadReceipt(ctx, roomID, eventID)
}

func (m *matrixClient) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	return m.session.JoinRoom(ctx, roomID)
}

func (m *matrixClient) SetPresence(ctx context.Context, presence string) error {
	return m.session.SetPresence(ctx, messaging.SetPresenceRequest{Presence: presence})
}

func (m *matrixClient) GetDisplayName(ctx context.Context, userID ref.UserID) (string, error) {
	return m.session.GetDisplayName(ctx, userID)
}

func (m *matrixClient) SetDisplayName(ctx context.Context, name string) error {
	return m.session.SetDisplayName(ctx, name)
}

func (m *matrixClient) SetDeviceKnown(_ context.Context, userID ref.UserID, deviceID string) error {
	m.devices.SetDeviceKnown(userID, deviceID)
	return nil
}

func (m *matrixClient) UploadMedia(ctx context.Context, contentType, filename string, body io.Reader) (string, error) {
	return m.session.UploadMedia(ctx, contentType, filename, body)
}

func (m *matrixClient) Close() error { return m.session.Close() }
