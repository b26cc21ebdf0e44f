// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/matrixbot/lib/clock"
	"github.com/bureau-foundation/matrixbot/lib/ref"
)

// SyncStore persists the sync stream position.
type SyncStore interface {
	// SavedSyncToken returns the stored position, or "" for none.
	SavedSyncToken(ctx context.Context) (string, error)
	// SetSyncToken records a new position in memory.
	SetSyncToken(token string)
	// WantsSave reports whether the recorded position is unsaved.
	WantsSave() bool
	// Save persists the recorded position. It may return before the
	// write completes.
	Save(ctx context.Context) error
}

// StartOptions configures SyncClient.StartClient.
type StartOptions struct {
	// Timeout is the server-side long-poll hold. Zero means 30s.
	Timeout time.Duration
	// InitialSyncLimit caps per-room timeline events when no position
	// is stored.
	InitialSyncLimit int
	// MaxBackoff caps the delay between failed polls. Zero means 30s.
	MaxBackoff time.Duration
}

const initialBackoff = time.Second

// SyncClientConfig holds the dependencies of a SyncClient.
type SyncClientConfig struct {
	Session Session
	// Store persists the stream position. Nil keeps it in memory only.
	Store SyncStore
	// Clock drives reconnect backoff. Nil means the real clock.
	Clock  clock.Clock
	Logger *slog.Logger
}

// SyncClient runs the /sync loop and dispatches what it receives.
// Subscribers run on the sync goroutine, one event at a time, in the
// order the server delivered them.
type SyncClient struct {
	session Session
	store   SyncStore
	clock   clock.Clock
	logger  *slog.Logger

	handlersMu         sync.Mutex
	syncHandlers       []func(SyncStateEvent)
	timelineHandlers   []func(TimelineEvent)
	membershipHandlers []func(MembershipEvent)

	mu        sync.Mutex
	state     SyncState
	joined    map[ref.RoomID]struct{}
	encrypted map[ref.RoomID]struct{}
}

// NewSyncClient creates a SyncClient. It does not contact the server
// until StartClient.
func NewSyncClient(config SyncClientConfig) *SyncClient {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncClient{
		session:   config.Session,
		store:     config.Store,
		clock:     clk,
		logger:    logger,
		joined:    make(map[ref.RoomID]struct{}),
		encrypted: make(map[ref.RoomID]struct{}),
	}
}

// OnSync subscribes to sync state changes.
func (c *SyncClient) OnSync(handler func(SyncStateEvent)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.syncHandlers = append(c.syncHandlers, handler)
}

// OnTimeline subscribes to timeline events of joined rooms.
func (c *SyncClient) OnTimeline(handler func(TimelineEvent)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.timelineHandlers = append(c.timelineHandlers, handler)
}

// OnMembership subscribes to membership changes of the bot's user.
func (c *SyncClient) OnMembership(handler func(MembershipEvent)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.membershipHandlers = append(c.membershipHandlers, handler)
}

// State returns the last emitted sync state, or "" before the first.
func (c *SyncClient) State() SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RoomCount returns the number of rooms the bot is joined to.
func (c *SyncClient) RoomCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.joined)
}

// IsEncrypted reports whether roomID has encryption enabled.
func (c *SyncClient) IsEncrypted(roomID ref.RoomID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.encrypted[roomID]
	return ok
}

// StartClient runs the sync loop until ctx is cancelled, then emits
// SyncStopped and returns nil. Failed polls emit SyncError, wait out
// the backoff and emit SyncReconnecting before retrying. A rejected
// access token (M_UNKNOWN_TOKEN) is not retried: StartClient emits
// SyncStopped and returns the error.
func (c *SyncClient) StartClient(ctx context.Context, options StartOptions) error {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBackoff := options.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	since := ""
	if c.store != nil {
		token, err := c.store.SavedSyncToken(ctx)
		if err != nil {
			c.logger.Warn("reading saved sync token failed, starting fresh", "error", err)
		}
		since = token
	}
	if since != "" {
		c.logger.Info("resuming sync", "since", since)
	}

	backoff := initialBackoff
	prepared := false
	for {
		if ctx.Err() != nil {
			c.emitState(SyncStopped, nil)
			return nil
		}

		syncOptions := SyncOptions{Since: since}
		if since == "" {
			syncOptions.Filter = initialSyncFilter(options.InitialSyncLimit)
		} else {
			syncOptions.SetTimeout = true
			syncOptions.Timeout = int(timeout / time.Millisecond)
		}

		response, err := c.session.Sync(ctx, syncOptions)
		if err != nil {
			if ctx.Err() != nil {
				c.emitState(SyncStopped, nil)
				return nil
			}
			if IsMatrixError(err, ErrCodeUnknownToken) {
				c.emitState(SyncError, err)
				c.emitState(SyncStopped, nil)
				return fmt.Errorf("messaging: access token rejected: %w", err)
			}

			c.logger.Warn("sync failed, backing off",
				"error", err,
				"backoff", backoff,
			)
			c.session.CloseIdleConnections()
			c.emitState(SyncError, err)

			select {
			case <-c.clock.After(backoff):
			case <-ctx.Done():
				c.emitState(SyncStopped, nil)
				return nil
			}
			backoff = min(backoff*2, maxBackoff)
			c.emitState(SyncReconnecting, nil)
			continue
		}
		backoff = initialBackoff

		c.dispatch(response, since == "")
		since = response.NextBatch
		if c.store != nil {
			c.store.SetSyncToken(since)
			if c.store.WantsSave() {
				if err := c.store.Save(ctx); err != nil {
					c.logger.Warn("saving sync token failed", "error", err)
				}
			}
		}

		if !prepared {
			prepared = true
			c.emitState(SyncPrepared, nil)
		} else {
			c.emitState(SyncSyncing, nil)
		}
	}
}

// dispatch delivers one sync response. Rooms are visited in sorted
// order; events within a room keep server order.
func (c *SyncClient) dispatch(response *SyncResponse, initial bool) {
	userID := c.session.UserID()
	ownStateKey := userID.String()

	for _, roomID := range sortedRooms(response.Rooms.Leave) {
		c.mu.Lock()
		delete(c.joined, roomID)
		c.mu.Unlock()
	}

	for _, roomID := range sortedRooms(response.Rooms.Join) {
		room := response.Rooms.Join[roomID]
		c.mu.Lock()
		c.joined[roomID] = struct{}{}
		c.mu.Unlock()

		for _, event := range room.State.Events {
			c.observeState(roomID, event)
		}
		for _, event := range room.Timeline.Events {
			event.RoomID = roomID
			c.observeState(roomID, event)
			c.emitTimeline(TimelineEvent{
				RoomID:            roomID,
				Event:             event,
				ToStartOfTimeline: initial,
			})
			if event.Type == EventTypeMember && event.StateKey != nil && *event.StateKey == ownStateKey && !initial {
				c.emitMembership(MembershipEvent{
					RoomID:     roomID,
					UserID:     userID,
					Sender:     event.Sender,
					Membership: event.ContentString("membership"),
				})
			}
		}
	}

	for _, roomID := range sortedRooms(response.Rooms.Invite) {
		for _, event := range response.Rooms.Invite[roomID].InviteState.Events {
			if event.Type != EventTypeMember || event.StateKey == nil || *event.StateKey != ownStateKey {
				continue
			}
			if event.ContentString("membership") != "invite" {
				continue
			}
			c.emitMembership(MembershipEvent{
				RoomID:     roomID,
				UserID:     userID,
				Sender:     event.Sender,
				Membership: "invite",
			})
		}
	}
}

func (c *SyncClient) observeState(roomID ref.RoomID, event Event) {
	if event.Type != EventTypeEncryption {
		return
	}
	c.mu.Lock()
	_, known := c.encrypted[roomID]
	c.encrypted[roomID] = struct{}{}
	c.mu.Unlock()
	if !known {
		c.logger.Debug("room is encrypted", "room_id", roomID)
	}
}

func (c *SyncClient) emitState(state SyncState, err error) {
	c.mu.Lock()
	previous := c.state
	c.state = state
	c.mu.Unlock()

	c.handlersMu.Lock()
	handlers := slices.Clone(c.syncHandlers)
	c.handlersMu.Unlock()
	for _, handler := range handlers {
		handler(SyncStateEvent{State: state, Previous: previous, Err: err})
	}
}

func (c *SyncClient) emitTimeline(event TimelineEvent) {
	c.handlersMu.Lock()
	handlers := slices.Clone(c.timelineHandlers)
	c.handlersMu.Unlock()
	for _, handler := range handlers {
		handler(event)
	}
}

func (c *SyncClient) emitMembership(event MembershipEvent) {
	c.handlersMu.Lock()
	handlers := slices.Clone(c.membershipHandlers)
	c.handlersMu.Unlock()
	for _, handler := range handlers {
		handler(event)
	}
}

func sortedRooms[V any](m map[ref.RoomID]V) []ref.RoomID {
	rooms := slices.Collect(maps.Keys(m))
	slices.SortFunc(rooms, func(a, b ref.RoomID) int {
		return strings.Compare(a.String(), b.String())
	})
	return rooms
}
