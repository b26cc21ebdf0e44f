// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/bureau-foundation/matrixbot/adapter"
	"github.com/bureau-foundation/matrixbot/lib/ref"
	"github.com/bureau-foundation/matrixbot/lib/testutil"
)

func TestIsPing(t *testing.T) {
	for body, want := range map[string]bool{
		"hubot ping":     true,
		"hubot: ping":    true,
		"  Hubot PING  ": true,
		"hubot pingpong": false,
		"ping":           false,
		"hey hubot ping": false,
		"hubotping":      true,
		"hubot: ping me": false,
		"otherbot: ping": false,
	} {
		if got := isPing(body, "hubot"); got != want {
			t.Errorf("isPing(%q) = %v, want %v", body, got, want)
		}
	}
}

type replyRecorder struct {
	replies chan string
}

func (r *replyRecorder) Reply(_ context.Context, message adapter.InboundMessage, texts ...string) error {
	for _, text := range texts {
		r.replies <- message.RoomID.String() + " " + text
	}
	return nil
}

func TestPingerReplies(t *testing.T) {
	recorder := &replyRecorder{replies: make(chan string, 4)}
	bot := &pinger{botName: "hubot", session: recorder, logger: slog.New(slog.DiscardHandler)}

	room := ref.MustParseRoomID("!r:local")
	bot.OnInboundMessage(adapter.InboundMessage{RoomID: room, Body: "hello"})
	bot.OnInboundMessage(adapter.InboundMessage{RoomID: room, Body: "hubot: ping"})

	if reply := testutil.RequireReceive(t, recorder.replies, testutil.DefaultTimeout, "pong"); reply != "!r:local pong" {
		t.Errorf("reply = %q", reply)
	}
	select {
	case reply := <-recorder.replies:
		t.Errorf("unexpected reply %q", reply)
	case <-time.After(50 * time.Millisecond):
	}
}
