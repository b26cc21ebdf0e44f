// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/matrixbot/lib/clock"
	"github.com/bureau-foundation/matrixbot/lib/credstore"
	"github.com/bureau-foundation/matrixbot/lib/ref"
	"github.com/bureau-foundation/matrixbot/lib/retry"
	"github.com/bureau-foundation/matrixbot/messaging"
)

// DefaultDrainTimeout bounds how long Stop waits for background calls.
const DefaultDrainTimeout = 5 * time.Second

// Consumer receives the session's output. Calls are made from the sync
// goroutine and must not block for long.
type Consumer interface {
	// OnReady is called once per Run, when the first sync completes.
	OnReady()
	OnInboundMessage(message InboundMessage)
	// OnError reports a sync failure after the session was prepared.
	// The sync loop keeps reconnecting on its own.
	OnError(err error)
}

// Config configures an Adapter.
type Config struct {
	// BotName is the display name the bot keeps and answers to.
	BotName string
	// LoginUser defaults to BotName.
	LoginUser string
	// DeviceName labels the device created by a login. Defaults to
	// BotName.
	DeviceName string
	Password   PasswordSource

	MaxRetries   int
	InitialDelay time.Duration

	PresenceInterval time.Duration
	ReadyTimeout     time.Duration
	Sync             messaging.StartOptions

	MediaMaxBytes int64
	DrainTimeout  time.Duration
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithClock replaces the real clock.
func WithClock(clk clock.Clock) Option {
	return func(a *Adapter) { a.clock = clk }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// WithRegisterer registers the adapter's metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *Adapter) { a.registerer = reg }
}

// WithHTTPClient sets the client used to download media.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) { a.httpClient = client }
}

// Adapter is one bot session.
type Adapter struct {
	config     Config
	connector  Connector
	store      credstore.Store
	consumer   Consumer
	clock      clock.Clock
	logger     *slog.Logger
	registerer prometheus.Registerer
	httpClient *http.Client

	metrics    *Metrics
	state      *stateHolder
	cursor     *CursorStore
	users      *UserDirectory
	background *background
	sessions   *SessionManager
	engine     *SyncEngine

	live atomic.Pointer[liveSession]

	mu      sync.Mutex
	client  ProtocolClient
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	stopped bool
}

// liveSession is the outbound surface of a connected session.
type liveSession struct {
	gateway  *OutboundGateway
	presence *PresenceThrottle
}

// New creates an Adapter. Nothing touches the network or the store
// until Run.
func New(config Config, connector Connector, store credstore.Store, consumer Consumer, options ...Option) *Adapter {
	a := &Adapter{
		config:    config,
		connector: connector,
		store:     store,
		consumer:  consumer,
	}
	for _, option := range options {
		option(a)
	}
	if a.clock == nil {
		a.clock = clock.Real()
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.config.DrainTimeout <= 0 {
		a.config.DrainTimeout = DefaultDrainTimeout
	}

	a.metrics = NewMetrics(a.registerer)
	a.state = &stateHolder{metrics: a.metrics, logger: a.logger}
	a.cursor = NewCursorStore(store, a.logger)
	a.users = NewUserDirectory()
	a.background = newBackground()
	a.sessions = NewSessionManager(SessionManagerConfig{
		Store:      store,
		Connector:  connector,
		Cursor:     a.cursor,
		BotName:    config.BotName,
		LoginUser:  config.LoginUser,
		DeviceName: config.DeviceName,
		Password:   config.Password,
		Metrics:    a.metrics,
		Logger:     a.logger,
	})
	a.engine = newSyncEngine(syncEngineConfig{
		sessions:     a.sessions,
		state:        a.state,
		consumer:     consumer,
		background:   a.background,
		botName:      config.BotName,
		options:      config.Sync,
		readyTimeout: config.ReadyTimeout,
		clock:        a.clock,
		logger:       a.logger,
	})
	return a
}

// State returns the connection state.
func (a *Adapter) State() ConnectionState {
	return a.state.Load()
}

// Users returns the directory of senders seen so far.
func (a *Adapter) Users() *UserDirectory {
	return a.users
}

// Run connects and blocks until ctx ends, Stop is called, or the
// session fails fatally. A rejected access token is forgotten so the
// next Run logs in again, and is returned as *AuthError.
func (a *Adapter) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.started || a.stopped {
		a.mu.Unlock()
		return errors.New("adapter: already started or stopped")
	}
	a.started = true
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	done := a.done
	a.mu.Unlock()
	defer close(done)
	defer cancel()

	a.cursor.Start()

	client, err := a.engine.Authenticate(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.client = client
	a.mu.Unlock()

	presence := newPresenceThrottle(client, a.state, a.config.PresenceInterval, a.background, a.metrics, a.logger)
	media := newMediaFetcher(a.httpClient, a.config.MediaMaxBytes, a.logger)
	gateway := newOutboundGateway(client, retry.Policy{
		MaxRetries:   a.config.MaxRetries,
		InitialDelay: a.config.InitialDelay,
		Clock:        a.clock,
	}, media, a.metrics, a.logger)
	normalizer := newEventNormalizer(normalizerConfig{
		client:     client,
		consumer:   a.consumer,
		users:      a.users,
		presence:   presence,
		background: a.background,
		botName:    a.config.BotName,
		clock:      a.clock,
		metrics:    a.metrics,
		logger:     a.logger,
	})
	client.OnTimeline(normalizer.HandleTimeline)
	client.OnMembership(normalizer.HandleMembership)
	a.live.Store(&liveSession{gateway: gateway, presence: presence})
	defer a.live.Store(nil)

	err = a.engine.Run(ctx)
	if messaging.IsMatrixError(err, messaging.ErrCodeUnknownToken) {
		a.sessions.Invalidate(context.Background())
		return &AuthError{Op: "sync", Err: err}
	}
	return err
}

// Send posts each text to roomID as a notice, in order. Texts that are
// image URLs are sent as images. Every text is attempted; the failures
// are joined.
func (a *Adapter) Send(ctx context.Context, roomID ref.RoomID, texts ...string) error {
	live, ctx, done, err := a.begin(ctx)
	if err != nil {
		return err
	}
	defer done()
	live.presence.MaybeUpdate(a.clock.Now())

	var errs []error
	for _, text := range texts {
		if _, err := live.gateway.Send(ctx, roomID, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emote posts each text to roomID as an emote.
func (a *Adapter) Emote(ctx context.Context, roomID ref.RoomID, texts ...string) error {
	live, ctx, done, err := a.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	var errs []error
	for _, text := range texts {
		if _, err := live.gateway.Emote(ctx, roomID, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reply sends each text to the message's room, addressed to its sender.
func (a *Adapter) Reply(ctx context.Context, message InboundMessage, texts ...string) error {
	addressed := make([]string, len(texts))
	for i, text := range texts {
		addressed[i] = fmt.Sprintf("%s: %s", message.User.Name, text)
	}
	return a.Send(ctx, message.RoomID, addressed...)
}

// Topic sets the room topic. With several topics each is set in turn,
// so the last one wins.
func (a *Adapter) Topic(ctx context.Context, roomID ref.RoomID, topics ...string) error {
	live, ctx, done, err := a.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	var errs []error
	for _, topic := range topics {
		if _, err := live.gateway.Topic(ctx, roomID, topic); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// begin registers a host call with the background tracker so Stop
// waits for it before closing the client. The returned context is
// cancelled if the drain timeout expires first.
func (a *Adapter) begin(ctx context.Context) (*liveSession, context.Context, func(), error) {
	live := a.live.Load()
	if live == nil {
		return nil, ctx, nil, ErrNotConnected
	}
	tracked, done, ok := a.background.track(ctx)
	if !ok {
		return nil, ctx, nil, ErrNotConnected
	}
	return live, tracked, done, nil
}

// Stop ends the session: it halts the sync loop, waits up to the drain
// timeout for background and in-flight host calls, writes the sync
// position and closes the client and the store. Host calls made once
// Stop has begun return ErrNotConnected. Safe to call more than once and before Run.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	cancel, done, client := a.cancel, a.done, a.client
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if !a.background.drain(a.clock, a.config.DrainTimeout) {
		a.logger.Warn("outbound calls still running at shutdown were cancelled")
	}
	a.cursor.Close()

	var errs []error
	if client != nil {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("adapter: closing client: %w", err))
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("adapter: closing store: %w", err))
	}
	a.state.Store(Disconnected)
	return errors.Join(errs...)
}
