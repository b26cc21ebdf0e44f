// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/bureau-foundation/matrixbot/lib/clock"
	"github.com/bureau-foundation/matrixbot/lib/ref"
	"github.com/bureau-foundation/matrixbot/messaging"
)

// InboundMessage is a text message delivered to the consumer.
type InboundMessage struct {
	User    User
	RoomID  ref.RoomID
	EventID ref.EventID
	Body    string
}

// EventNormalizer turns sync events into consumer calls. It runs on the
// sync goroutine; the outbound calls it triggers run in the background.
type EventNormalizer struct {
	client     ProtocolClient
	consumer   Consumer
	users      *UserDirectory
	presence   *PresenceThrottle
	background *background
	botName    string
	clock      clock.Clock
	metrics    *Metrics
	logger     *slog.Logger

	mu       sync.Mutex
	receipts map[ref.RoomID]ref.EventID // last event acknowledged per room
	joining  map[ref.RoomID]struct{}    // rooms with a join in flight
}

type normalizerConfig struct {
	client     ProtocolClient
	consumer   Consumer
	users      *UserDirectory
	presence   *PresenceThrottle
	background *background
	botName    string
	clock      clock.Clock
	metrics    *Metrics
	logger     *slog.Logger
}

func newEventNormalizer(config normalizerConfig) *EventNormalizer {
	return &EventNormalizer{
		client:     config.client,
		consumer:   config.consumer,
		users:      config.users,
		presence:   config.presence,
		background: config.background,
		botName:    config.botName,
		clock:      config.clock,
		metrics:    config.metrics,
		logger:     config.logger,
		receipts:   make(map[ref.RoomID]ref.EventID),
		joining:    make(map[ref.RoomID]struct{}),
	}
}

// HandleTimeline processes one timeline event.
func (n *EventNormalizer) HandleTimeline(timeline messaging.TimelineEvent) {
	event := timeline.Event

	// Names are tracked from history too, so senders of the first live
	// message already carry their display name.
	if event.Type == messaging.EventTypeMember && event.StateKey != nil {
		if event.ContentString("membership") != "join" {
			return
		}
		member, err := ref.ParseUserID(*event.StateKey)
		if err != nil {
			n.logger.Debug("ignoring member event with malformed state key",
				"room_id", timeline.RoomID, "state_key", *event.StateKey, "error", err)
			return
		}
		n.users.Rename(member, event.ContentString("displayname"))
		return
	}

	if timeline.ToStartOfTimeline {
		return
	}
	if event.Type != messaging.EventTypeMessage {
		return
	}
	if event.Sender == n.client.UserID() {
		return
	}

	user := n.users.Resolve(event.Sender, timeline.RoomID)
	msgType := event.ContentString("msgtype")
	body := event.ContentString("body")

	n.logger.Debug("received message",
		"room_id", timeline.RoomID,
		"event_id", event.EventID,
		"sender", event.Sender,
		"msgtype", msgType,
	)

	mentioned := false
	if msgType == messaging.MsgTypeText {
		n.metrics.inbound.Inc()
		n.consumer.OnInboundMessage(InboundMessage{
			User:    user,
			RoomID:  timeline.RoomID,
			EventID: event.EventID,
			Body:    body,
		})
		mentioned = n.botName != "" && strings.Contains(body, n.botName)
		if mentioned {
			n.presence.MaybeUpdate(n.clock.Now())
		}
	}

	if msgType != messaging.MsgTypeText || mentioned {
		n.sendReceipt(timeline.RoomID, event.EventID)
	}
}

// HandleMembership joins rooms the bot is invited to.
func (n *EventNormalizer) HandleMembership(membership messaging.MembershipEvent) {
	if membership.Membership != "invite" || membership.UserID != n.client.UserID() {
		return
	}
	roomID := membership.RoomID

	n.mu.Lock()
	if _, inFlight := n.joining[roomID]; inFlight {
		n.mu.Unlock()
		return
	}
	n.joining[roomID] = struct{}{}
	n.mu.Unlock()

	n.logger.Info("invited to room, joining", "room_id", roomID, "inviter", membership.Sender)
	n.background.Go(func(ctx context.Context) {
		defer func() {
			n.mu.Lock()
			delete(n.joining, roomID)
			n.mu.Unlock()
		}()
		_, err := n.client.JoinRoom(ctx, roomID)
		n.metrics.outboundResult("join", err)
		if err != nil {
			n.logger.Warn("joining room failed", "room_id", roomID, "error", err)
			return
		}
		n.logger.Info("joined room", "room_id", roomID)
	})
}

func (n *EventNormalizer) sendReceipt(roomID ref.RoomID, eventID ref.EventID) {
	n.mu.Lock()
	if n.receipts[roomID] == eventID {
		n.mu.Unlock()
		return
	}
	n.receipts[roomID] = eventID
	n.mu.Unlock()

	n.background.Go(func(ctx context.Context) {
		err := n.client.SendReadReceipt(ctx, roomID, eventID)
		n.metrics.outboundResult("receipt", err)
		if err != nil {
			n.logger.Warn("sending read receipt failed",
				"room_id", roomID,
				"event_id", eventID,
				"error", err,
			)
			return
		}
		n.metrics.receipts.Inc()
	})
}
