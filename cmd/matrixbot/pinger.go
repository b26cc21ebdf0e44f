// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bureau-foundation/matrixbot/adapter"
)

// replier is the part of the adapter the pinger answers through.
type replier interface {
	Reply(ctx context.Context, message adapter.InboundMessage, texts ...string) error
}

// pinger answers "<bot name> ping" with "pong".
type pinger struct {
	botName string
	session replier
	logger  *slog.Logger
}

func (p *pinger) OnReady() {
	p.logger.Info("ready")
}

func (p *pinger) OnError(err error) {
	p.logger.Warn("connection trouble", "error", err)
}

// OnInboundMessage replies off the sync goroutine.
func (p *pinger) OnInboundMessage(message adapter.InboundMessage) {
	if !isPing(message.Body, p.botName) {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := p.session.Reply(ctx, message, "pong"); err != nil {
			p.logger.Warn("reply failed", "room_id", message.RoomID, "error", err)
		}
	}()
}

// isPing matches "<name> ping" and "<name>: ping", ignoring case and
// surrounding space.
func isPing(body, botName string) bool {
	rest, ok := strings.CutPrefix(strings.ToLower(strings.TrimSpace(body)), strings.ToLower(botName))
	if !ok {
		return false
	}
	rest = strings.TrimPrefix(rest, ":")
	return strings.TrimSpace(rest) == "ping"
}
