// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/matrixbot/messaging"
)

// DefaultPresenceInterval is the minimum spacing of presence updates.
const DefaultPresenceInterval = time.Minute

// presenceRateLimitFallback is logged when a rate-limited presence
// update carries no retry hint.
const presenceRateLimitFallback = 10 * time.Second

// PresenceThrottle sets the bot online at most once per interval.
// Attempts are counted when made, not when they succeed, and a
// rate-limited attempt is never requeued.
type PresenceThrottle struct {
	client     ProtocolClient
	state      *stateHolder
	limiter    *rate.Limiter
	background *background
	metrics    *Metrics
	logger     *slog.Logger
}

func newPresenceThrottle(client ProtocolClient, state *stateHolder, interval time.Duration, bg *background, metrics *Metrics, logger *slog.Logger) *PresenceThrottle {
	if interval <= 0 {
		interval = DefaultPresenceInterval
	}
	return &PresenceThrottle{
		client:     client,
		state:      state,
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		background: bg,
		metrics:    metrics,
		logger:     logger,
	}
}

// MaybeUpdate starts a presence update if the session is connected and
// the last attempt is at least one interval before now. It reports
// whether an update was started.
func (p *PresenceThrottle) MaybeUpdate(now time.Time) bool {
	if !p.state.Load().Connected() {
		return false
	}
	if !p.limiter.AllowN(now, 1) {
		return false
	}
	p.background.Go(func(ctx context.Context) {
		err := p.client.SetPresence(ctx, messaging.PresenceOnline)
		p.metrics.outboundResult("presence", err)
		if err == nil {
			return
		}
		if hint, limited := messaging.RateLimit(err); limited {
			if hint == 0 {
				hint = presenceRateLimitFallback
			}
			p.logger.Warn("rate limited setting presence", "retry_after", hint)
			return
		}
		p.logger.Warn("setting presence failed", "error", err)
	})
	return true
}
