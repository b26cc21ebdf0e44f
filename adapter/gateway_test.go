// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bureau-foundation/matrixbot/lib/clock"
	"github.com/bureau-foundation/matrixbot/lib/ref"
	"github.com/bureau-foundation/matrixbot/lib/retry"
	"github.com/bureau-foundation/matrixbot/lib/testutil"
	"github.com/bureau-foundation/matrixbot/messaging"
)

func newTestGateway(client *fakeClient, clk clock.Clock, httpClient *http.Client) (*OutboundGateway, *Metrics) {
	metrics := NewMetrics(nil)
	media := newMediaFetcher(httpClient, 0, discardLogger())
	return newOutboundGateway(client, retry.Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		Clock:        clk,
	}, media, metrics, discardLogger()), metrics
}

func unknownDevices(devices map[string][]string) error {
	typed := make(map[ref.UserID][]string, len(devices))
	for userID, deviceIDs := range devices {
		typed[ref.MustParseUserID(userID)] = deviceIDs
	}
	return &messaging.UnknownDeviceError{RoomID: testRoom, Devices: typed}
}

func TestGatewaySendsNotice(t *testing.T) {
	client := newFakeClient()
	gateway, metrics := newTestGateway(client, testClock(), nil)

	eventID, err := gateway.Send(context.Background(), testRoom, "hello")
	if err != nil || eventID.String() != "$sent" {
		t.Fatalf("Send = (%s, %v)", eventID, err)
	}
	sent := client.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent = %+v", sent)
	}
	if sent[0].Content != messaging.NewNoticeMessage("hello") {
		t.Errorf("content = %+v", sent[0].Content)
	}
	if got := promtest.ToFloat64(metrics.outbound.WithLabelValues("send", "ok")); got != 1 {
		t.Errorf("outbound ok = %v", got)
	}
}

func TestGatewayEmoteAndTopic(t *testing.T) {
	client := newFakeClient()
	gateway, _ := newTestGateway(client, testClock(), nil)

	if _, err := gateway.Emote(context.Background(), testRoom, "waves"); err != nil {
		t.Fatalf("Emote: %v", err)
	}
	if sent := client.sentMessages(); len(sent) != 1 || sent[0].Content != messaging.NewEmoteMessage("waves") {
		t.Errorf("sent = %+v", sent)
	}

	if _, err := gateway.Topic(context.Background(), testRoom, "new topic"); err != nil {
		t.Fatalf("Topic: %v", err)
	}
	want := stateEventCall{"!room:local", messaging.EventTypeTopic, "", messaging.TopicContent{Topic: "new topic"}}
	if len(client.stateEvents) != 1 || client.stateEvents[0] != want {
		t.Errorf("state events = %+v", client.stateEvents)
	}
}

func TestGatewayUnknownDeviceAcknowledgedOnce(t *testing.T) {
	client := newFakeClient()
	client.sendErrs = []error{unknownDevices(map[string][]string{"@alice:local": {"deviceA"}})}
	gateway, metrics := newTestGateway(client, testClock(), nil)

	if _, err := gateway.Send(context.Background(), testRoom, "secret"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	acks := client.deviceAcks()
	if len(acks) != 1 || acks[0] != (deviceAck{"@alice:local", "deviceA"}) {
		t.Errorf("acks = %+v", acks)
	}
	if sent := client.sentMessages(); len(sent) != 2 {
		t.Errorf("send attempts = %d, want 2", len(sent))
	}
	if got := promtest.ToFloat64(metrics.devicesAcked); got != 1 {
		t.Errorf("devices acknowledged = %v", got)
	}
}

func TestGatewayUnknownDeviceSecondFailurePropagates(t *testing.T) {
	client := newFakeClient()
	devices := map[string][]string{"@alice:local": {"deviceA"}}
	client.sendErrs = []error{unknownDevices(devices), unknownDevices(devices), nil}
	gateway, _ := newTestGateway(client, testClock(), nil)

	_, err := gateway.Send(context.Background(), testRoom, "secret")
	var unknown *messaging.UnknownDeviceError
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want UnknownDeviceError", err)
	}
	if len(client.deviceAcks()) != 1 {
		t.Errorf("acks = %+v, want exactly one", client.deviceAcks())
	}
	if sent := client.sentMessages(); len(sent) != 2 {
		t.Errorf("send attempts = %d, want 2", len(sent))
	}
}

func TestGatewayAcknowledgesEveryDevice(t *testing.T) {
	client := newFakeClient()
	client.sendErrs = []error{unknownDevices(map[string][]string{
		"@alice:local": {"A1", "A2"},
		"@bob:local":   {"B1"},
	})}
	gateway, _ := newTestGateway(client, testClock(), nil)

	if _, err := gateway.Emote(context.Background(), testRoom, "waves"); err != nil {
		t.Fatalf("Emote: %v", err)
	}
	if got := len(client.deviceAcks()); got != 3 {
		t.Errorf("acks = %d, want 3", got)
	}
}

func TestGatewayRetriesRateLimit(t *testing.T) {
	client := newFakeClient()
	client.sendErrs = []error{rateLimited()}
	fake := testClock()
	gateway, metrics := newTestGateway(client, fake, nil)

	done := make(chan error, 1)
	go func() {
		_, err := gateway.Send(context.Background(), testRoom, "hello")
		done <- err
	}()
	fake.WaitForTimers(1)
	fake.Advance(500 * time.Millisecond)

	if err := testutil.RequireReceive(t, done, testutil.DefaultTimeout, "Send to finish"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent := client.sentMessages(); len(sent) != 2 {
		t.Errorf("send attempts = %d, want 2", len(sent))
	}
	if got := promtest.ToFloat64(metrics.retries.WithLabelValues("send")); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
}

func TestGatewayOtherErrorsNotRetried(t *testing.T) {
	client := newFakeClient()
	client.sendErrs = []error{errBoom}
	gateway, metrics := newTestGateway(client, testClock(), nil)

	_, err := gateway.Send(context.Background(), testRoom, "hello")
	if !errors.Is(err, errBoom) {
		t.Fatalf("error = %v", err)
	}
	if sent := client.sentMessages(); len(sent) != 1 {
		t.Errorf("send attempts = %d, want 1", len(sent))
	}
	if got := promtest.ToFloat64(metrics.outbound.WithLabelValues("send", "error")); got != 1 {
		t.Errorf("outbound error = %v", got)
	}
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return buffer.Bytes()
}

func TestGatewaySendsImageURLAsMedia(t *testing.T) {
	pngData := encodePNG(t, 4, 3)
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		// A wrong Content-Type must not matter.
		writer.Header().Set("Content-Type", "application/octet-stream")
		writer.Write(pngData)
	}))
	defer server.Close()

	client := newFakeClient()
	gateway, _ := newTestGateway(client, testClock(), server.Client())

	url := server.URL + "/cat.png"
	if _, err := gateway.Send(context.Background(), testRoom, url); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(client.uploads) != 1 {
		t.Fatalf("uploads = %d", len(client.uploads))
	}
	upload := client.uploads[0]
	if upload.ContentType != "image/png" || upload.Filename != url || !bytes.Equal(upload.Data, pngData) {
		t.Errorf("upload = %q %q (%d bytes)", upload.ContentType, upload.Filename, len(upload.Data))
	}

	sent := client.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent = %+v", sent)
	}
	want := messaging.ImageContent{
		MsgType: messaging.MsgTypeImage,
		Body:    url,
		URL:     "mxc://local/media",
		Info: messaging.ImageInfo{
			MimeType: "image/png",
			Height:   3,
			Width:    4,
			Size:     len(pngData),
		},
	}
	if sent[0].Content != want {
		t.Errorf("content = %+v, want %+v", sent[0].Content, want)
	}
}

func TestGatewayMediaFallsBackToText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		switch request.URL.Path {
		case "/page":
			writer.Header().Set("Content-Type", "text/html")
			writer.Write([]byte("<html><body>not an image</body></html>"))
		default:
			http.NotFound(writer, request)
		}
	}))
	defer server.Close()

	for _, path := range []string{"/page", "/missing"} {
		t.Run(path, func(t *testing.T) {
			client := newFakeClient()
			gateway, _ := newTestGateway(client, testClock(), server.Client())
			url := server.URL + path

			if _, err := gateway.Send(context.Background(), testRoom, url); err != nil {
				t.Fatalf("Send: %v", err)
			}
			if len(client.uploads) != 0 {
				t.Errorf("uploaded %d files", len(client.uploads))
			}
			sent := client.sentMessages()
			if len(sent) != 1 || sent[0].Content != messaging.NewNoticeMessage(url) {
				t.Errorf("sent = %+v, want the URL as text", sent)
			}
		})
	}
}

func TestGatewayMediaURLMatching(t *testing.T) {
	for text, want := range map[string]bool{
		"http://example.com/a.png":  true,
		"HTTPS://example.com/a.png": true,
		"ftp://example.com/a.png":   true,
		"ftps://example.com/a.png":  true,
		" http://example.com":       false,
		"see http://example.com":    false,
		"gopher://example.com":      false,
	} {
		if got := mediaURL.MatchString(text); got != want {
			t.Errorf("mediaURL(%q) = %v, want %v", text, got, want)
		}
	}
}
