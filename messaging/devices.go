// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/matrixbot/lib/ref"
)

// RoomEncryption reports which rooms have encryption enabled.
// *SyncClient implements it.
type RoomEncryption interface {
	IsEncrypted(roomID ref.RoomID) bool
}

// DeviceTracker records which (user, device) pairs the bot has
// acknowledged and refuses sends into encrypted rooms that contain
// anything else. Acknowledgements live in memory and reset on restart.
//
// DeviceTracker does not encrypt. Messages it lets through are sent in
// cleartext, including into rooms with m.room.encryption set.
type DeviceTracker struct {
	session Session
	rooms   RoomEncryption
	logger  *slog.Logger

	ready atomic.Bool

	mu    sync.Mutex
	known map[ref.UserID]map[string]struct{}
}

// NewDeviceTracker creates a tracker. It does nothing until InitCrypto
// succeeds.
func NewDeviceTracker(session Session, rooms RoomEncryption, logger *slog.Logger) *DeviceTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceTracker{
		session: session,
		rooms:   rooms,
		logger:  logger,
		known:   make(map[ref.UserID]map[string]struct{}),
	}
}

// InitCrypto queries the bot's own devices and marks them known. Once
// it succeeds CryptoEnabled reports true, meaning device tracking is
// active. It sets up no Olm or Megolm sessions.
func (t *DeviceTracker) InitCrypto(ctx context.Context) error {
	userID := t.session.UserID()
	response, err := t.session.QueryKeys(ctx, []ref.UserID{userID})
	if err != nil {
		return fmt.Errorf("messaging: crypto init: %w", err)
	}
	t.SetDeviceKnown(userID, t.session.DeviceID())
	for deviceID := range response.DeviceKeys[userID] {
		t.SetDeviceKnown(userID, deviceID)
	}
	t.ready.Store(true)
	t.logger.Info("device tracking enabled, messages are not encrypted",
		"user_id", userID,
		"own_devices", len(response.DeviceKeys[userID]),
	)
	return nil
}

// CryptoEnabled reports whether InitCrypto has completed and device
// tracking is active.
func (t *DeviceTracker) CryptoEnabled() bool {
	return t.ready.Load()
}

// SetDeviceKnown acknowledges a device.
func (t *DeviceTracker) SetDeviceKnown(userID ref.UserID, deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	devices, ok := t.known[userID]
	if !ok {
		devices = make(map[string]struct{})
		t.known[userID] = devices
	}
	devices[deviceID] = struct{}{}
}

func (t *DeviceTracker) isKnown(userID ref.UserID, deviceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.known[userID][deviceID]
	return ok
}

// CheckRoom returns *UnknownDeviceError if roomID is encrypted and any
// joined member has an unacknowledged device. Unencrypted rooms, and
// every room before InitCrypto, pass without a request.
func (t *DeviceTracker) CheckRoom(ctx context.Context, roomID ref.RoomID) error {
	if !t.CryptoEnabled() || t.rooms == nil || !t.rooms.IsEncrypted(roomID) {
		return nil
	}

	members, err := t.session.JoinedMembers(ctx, roomID)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	response, err := t.session.QueryKeys(ctx, members)
	if err != nil {
		return err
	}

	unknown := make(map[ref.UserID][]string)
	for userID, devices := range response.DeviceKeys {
		for deviceID := range devices {
			if !t.isKnown(userID, deviceID) {
				unknown[userID] = append(unknown[userID], deviceID)
			}
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	for userID := range unknown {
		sort.Strings(unknown[userID])
	}
	return &UnknownDeviceError{RoomID: roomID, Devices: unknown}
}
