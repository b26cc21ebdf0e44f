// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/bureau-foundation/matrixbot/lib/ref"
	"github.com/bureau-foundation/matrixbot/lib/retry"
	"github.com/bureau-foundation/matrixbot/messaging"
)

// mediaURL matches text the gateway sends as an image instead.
var mediaURL = regexp.MustCompile(`(?i)^(f|ht)tps?://`)

// OutboundGateway performs every outbound send. Each call is retried
// on rate limits per the policy. A send refused for unknown devices
// acknowledges every listed device and is attempted exactly once more.
type OutboundGateway struct {
	client  ProtocolClient
	policy  retry.Policy
	media   *MediaFetcher
	metrics *Metrics
	logger  *slog.Logger
}

func newOutboundGateway(client ProtocolClient, policy retry.Policy, media *MediaFetcher, metrics *Metrics, logger *slog.Logger) *OutboundGateway {
	policy.Classify = classifyRetry
	policy.Logger = logger
	return &OutboundGateway{
		client:  client,
		policy:  policy,
		media:   media,
		metrics: metrics,
		logger:  logger,
	}
}

// Send posts text as an m.notice. Text starting with an http(s) or ftp
// URL is sent as an image via SendMedia.
func (g *OutboundGateway) Send(ctx context.Context, roomID ref.RoomID, text string) (ref.EventID, error) {
	if mediaURL.MatchString(text) {
		return g.SendMedia(ctx, roomID, text)
	}
	return g.sendMessage(ctx, "send", roomID, messaging.NewNoticeMessage(text))
}

// Emote posts text as an m.emote.
func (g *OutboundGateway) Emote(ctx context.Context, roomID ref.RoomID, text string) (ref.EventID, error) {
	return g.sendMessage(ctx, "emote", roomID, messaging.NewEmoteMessage(text))
}

// Topic sets the room topic.
func (g *OutboundGateway) Topic(ctx context.Context, roomID ref.RoomID, topic string) (ref.EventID, error) {
	return g.deliver(ctx, "topic", func(ctx context.Context) (ref.EventID, error) {
		return g.client.SendStateEvent(ctx, roomID, messaging.EventTypeTopic, "", messaging.TopicContent{Topic: topic})
	})
}

// SendMedia downloads url, uploads it and posts it as m.image. If the
// URL cannot be turned into an image the URL is sent as plain text.
func (g *OutboundGateway) SendMedia(ctx context.Context, roomID ref.RoomID, url string) (ref.EventID, error) {
	content, err := g.prepareImage(ctx, url)
	if err != nil {
		g.logger.Warn("sending URL as text", "url", url, "error", err)
		return g.sendMessage(ctx, "send", roomID, messaging.NewNoticeMessage(url))
	}
	return g.sendMessage(ctx, "image", roomID, content)
}

func (g *OutboundGateway) prepareImage(ctx context.Context, url string) (messaging.ImageContent, error) {
	image, err := g.media.Fetch(ctx, url)
	if err != nil {
		return messaging.ImageContent{}, err
	}
	uri, err := retry.Do(ctx, g.policyFor("upload"), "upload", func(ctx context.Context) (string, error) {
		return g.client.UploadMedia(ctx, image.MimeType, url, image.reader())
	})
	g.metrics.outboundResult("upload", err)
	if err != nil {
		return messaging.ImageContent{}, err
	}
	return messaging.ImageContent{
		MsgType: messaging.MsgTypeImage,
		Body:    url,
		URL:     uri,
		Info: messaging.ImageInfo{
			MimeType: image.MimeType,
			Height:   image.Height,
			Width:    image.Width,
			Size:     len(image.Data),
		},
	}, nil
}

func (g *OutboundGateway) sendMessage(ctx context.Context, operation string, roomID ref.RoomID, content any) (ref.EventID, error) {
	return g.deliver(ctx, operation, func(ctx context.Context) (ref.EventID, error) {
		return g.client.SendMessage(ctx, roomID, content)
	})
}

// deliver runs send under the retry policy, remediating unknown
// devices once.
func (g *OutboundGateway) deliver(ctx context.Context, operation string, send func(context.Context) (ref.EventID, error)) (ref.EventID, error) {
	policy := g.policyFor(operation)
	eventID, err := retry.Do(ctx, policy, operation, send)

	var unknown *messaging.UnknownDeviceError
	if errors.As(err, &unknown) {
		if ackErr := g.acknowledge(ctx, unknown); ackErr != nil {
			g.metrics.outboundResult(operation, ackErr)
			return ref.EventID{}, ackErr
		}
		eventID, err = retry.Do(ctx, policy, operation, send)
	}

	g.metrics.outboundResult(operation, err)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("adapter: %s: %w", operation, err)
	}
	return eventID, nil
}

func (g *OutboundGateway) acknowledge(ctx context.Context, unknown *messaging.UnknownDeviceError) error {
	for userID, devices := range unknown.Devices {
		for _, deviceID := range devices {
			g.logger.Debug("acknowledging device", "user_id", userID, "device_id", deviceID)
			if err := g.client.SetDeviceKnown(ctx, userID, deviceID); err != nil {
				return fmt.Errorf("adapter: acknowledging %s device %s: %w", userID, deviceID, err)
			}
			g.metrics.devicesAcked.Inc()
		}
	}
	return nil
}

func (g *OutboundGateway) policyFor(operation string) retry.Policy {
	policy := g.policy
	onRetry := g.policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		g.metrics.retries.WithLabelValues(operation).Inc()
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}
	return policy
}
