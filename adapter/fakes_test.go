// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/matrixbot/lib/clock"
	"github.com/bureau-foundation/matrixbot/lib/ref"
	"github.com/bureau-foundation/matrixbot/lib/secret"
	"github.com/bureau-foundation/matrixbot/messaging"
)

const (
	botUserID = "@hubot:local"
	botName   = "hubot"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type sentMessage struct {
	RoomID  string
	Content any
}

type stateEventCall struct {
	RoomID    string
	EventType string
	StateKey  string
	Content   any
}

type receiptCall struct {
	RoomID  string
	EventID string
}

type deviceAck struct {
	UserID   string
	DeviceID string
}

type uploadCall struct {
	ContentType string
	Filename    string
	Data        []byte
}

// fakeClient is a scripted ProtocolClient. Handlers registered through
// the On* methods are invoked by the emit helpers on the caller's
// goroutine, standing in for the sync goroutine. Calls are recorded
// with identifiers in their wire form.
type fakeClient struct {
	userID ref.UserID

	// start replaces StartClient when set. The default blocks until ctx
	// ends.
	start   func(ctx context.Context) error
	started chan struct{}

	// sendErrs is consumed by SendMessage, one error per call; nil
	// entries and an exhausted queue succeed.
	sendErrs []error
	// joinGate, when set, blocks JoinRoom until closed.
	joinGate chan struct{}
	// joinErr and presenceErr fail every JoinRoom and SetPresence call.
	joinErr     error
	presenceErr error

	initCryptoErr error
	cryptoEnabled bool
	displayName   string
	roomCount     int

	mu                 sync.Mutex
	syncHandlers       []func(messaging.SyncStateEvent)
	timelineHandlers   []func(messaging.TimelineEvent)
	membershipHandlers []func(messaging.MembershipEvent)
	sent               []sentMessage
	stateEvents        []stateEventCall
	receipts           []receiptCall
	joins              []string
	presenceCalls      int
	setDisplayNames    []string
	acks               []deviceAck
	uploads            []uploadCall
	closed             bool
}

var _ ProtocolClient = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		userID:        ref.MustParseUserID(botUserID),
		started:       make(chan struct{}),
		cryptoEnabled: true,
		displayName:   botName,
	}
}

func (f *fakeClient) UserID() ref.UserID { return f.userID }

func (f *fakeClient) OnSync(handler func(messaging.SyncStateEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncHandlers = append(f.syncHandlers, handler)
}

func (f *fakeClient) OnTimeline(handler func(messaging.TimelineEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timelineHandlers = append(f.timelineHandlers, handler)
}

func (f *fakeClient) OnMembership(handler func(messaging.MembershipEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.membershipHandlers = append(f.membershipHandlers, handler)
}

func (f *fakeClient) StartClient(ctx context.Context, _ messaging.StartOptions) error {
	close(f.started)
	if f.start != nil {
		return f.start(ctx)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeClient) InitCrypto(context.Context) error { return f.initCryptoErr }

func (f *fakeClient) CryptoEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cryptoEnabled
}

func (f *fakeClient) RoomCount() int { return f.roomCount }

func (f *fakeClient) SendMessage(_ context.Context, roomID ref.RoomID, content any) (ref.EventID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{RoomID: roomID.String(), Content: content})
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return ref.EventID{}, err
		}
	}
	return ref.MustParseEventID("$sent"), nil
}

func (f *fakeClient) SendStateEvent(_ context.Context, roomID ref.RoomID, eventType, stateKey string, content any) (ref.EventID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateEvents = append(f.stateEvents, stateEventCall{roomID.String(), eventType, stateKey, content})
	return ref.MustParseEventID("$state"), nil
}

func (f *fakeClient) SendReadReceipt(_ context.Context, roomID ref.RoomID, eventID ref.EventID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, receiptCall{roomID.String(), eventID.String()})
	return nil
}

func (f *fakeClient) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	if f.joinGate != nil {
		select {
		case <-f.joinGate:
		case <-ctx.Done():
			return ref.RoomID{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, roomID.String())
	if f.joinErr != nil {
		return ref.RoomID{}, f.joinErr
	}
	return roomID, nil
}

func (f *fakeClient) SetPresence(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presenceCalls++
	return f.presenceErr
}

func (f *fakeClient) GetDisplayName(context.Context, ref.UserID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.displayName, nil
}

func (f *fakeClient) SetDisplayName(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setDisplayNames = append(f.setDisplayNames, name)
	f.displayName = name
	return nil
}

func (f *fakeClient) SetDeviceKnown(_ context.Context, userID ref.UserID, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, deviceAck{userID.String(), deviceID})
	return nil
}

func (f *fakeClient) UploadMedia(_ context.Context, contentType, filename string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, uploadCall{contentType, filename, data})
	return "mxc://local/media", nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) emitSync(event messaging.SyncStateEvent) {
	f.mu.Lock()
	handlers := slices.Clone(f.syncHandlers)
	f.mu.Unlock()
	for _, handler := range handlers {
		handler(event)
	}
}

func (f *fakeClient) emitTimeline(event messaging.TimelineEvent) {
	f.mu.Lock()
	handlers := slices.Clone(f.timelineHandlers)
	f.mu.Unlock()
	for _, handler := range handlers {
		handler(event)
	}
}

func (f *fakeClient) emitMembership(event messaging.MembershipEvent) {
	f.mu.Lock()
	handlers := slices.Clone(f.membershipHandlers)
	f.mu.Unlock()
	for _, handler := range handlers {
		handler(event)
	}
}

func (f *fakeClient) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeClient) receiptCalls() []receiptCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]receiptCall(nil), f.receipts...)
}

func (f *fakeClient) joinCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joins...)
}

func (f *fakeClient) presenceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presenceCalls
}

func (f *fakeClient) deviceAcks() []deviceAck {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]deviceAck(nil), f.acks...)
}

func (f *fakeClient) displayNameSets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.setDisplayNames...)
}

func (f *fakeClient) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeConnector hands out one fakeClient and records logins.
type fakeConnector struct {
	client   *fakeClient
	identity Identity
	loginErr error

	mu        sync.Mutex
	logins    []string
	passwords []string
	resumed   []Identity
}

func newFakeConnector(client *fakeClient) *fakeConnector {
	return &fakeConnector{
		client: client,
		identity: Identity{
			AccessToken: "fresh-token",
			UserID:      ref.MustParseUserID(botUserID),
			DeviceID:    "NEWDEVICE",
		},
	}
}

func (c *fakeConnector) Login(_ context.Context, user string, password *secret.Buffer, _ string) (Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logins = append(c.logins, user)
	c.passwords = append(c.passwords, password.String())
	if c.loginErr != nil {
		return Identity{}, c.loginErr
	}
	return c.identity, nil
}

func (c *fakeConnector) Resume(_ context.Context, identity Identity, _ messaging.SyncStore) (ProtocolClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumed = append(c.resumed, identity)
	return c.client, nil
}

func (c *fakeConnector) loginCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.logins)
}

func staticPassword(value string) PasswordSource {
	return func() (*secret.Buffer, error) {
		return secret.NewFromString(value)
	}
}

// recordingConsumer records every Consumer call.
type recordingConsumer struct {
	mu       sync.Mutex
	ready    int
	messages []InboundMessage
	errs     []error
	readyCh  chan struct{}
}

func newRecordingConsumer() *recordingConsumer {
	return &recordingConsumer{readyCh: make(chan struct{}, 16)}
}

func (r *recordingConsumer) OnReady() {
	r.mu.Lock()
	r.ready++
	r.mu.Unlock()
	r.readyCh <- struct{}{}
}

func (r *recordingConsumer) OnInboundMessage(message InboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *recordingConsumer) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingConsumer) readyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

func (r *recordingConsumer) inbound() []InboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]InboundMessage(nil), r.messages...)
}

func (r *recordingConsumer) reportedErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// messageEvent builds a live m.room.message timeline event.
func messageEvent(roomID, eventID, sender, msgType, body string) messaging.TimelineEvent {
	return messaging.TimelineEvent{
		RoomID: ref.MustParseRoomID(roomID),
		Event: messaging.Event{
			EventID: ref.MustParseEventID(eventID),
			Type:    messaging.EventTypeMessage,
			Sender:  ref.MustParseUserID(sender),
			Content: map[string]any{"msgtype": msgType, "body": body},
		},
	}
}

func rateLimited() error {
	return &messaging.MatrixError{
		Code:         messaging.ErrCodeLimitExceeded,
		Message:      "slow down",
		RetryAfterMs: 500,
		StatusCode:   429,
	}
}

var errBoom = errors.New("boom")

func testClock() *clock.FakeClock {
	return clock.Fake(time.Unix(1_700_000_000, 0))
}
