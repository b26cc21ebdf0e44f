// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bureau-foundation/matrixbot/lib/clock"
	"github.com/bureau-foundation/matrixbot/lib/credstore"
	"github.com/bureau-foundation/matrixbot/lib/testutil"
	"github.com/bureau-foundation/matrixbot/messaging"
)

type engineHarness struct {
	client     *fakeClient
	consumer   *recordingConsumer
	background *background
	metrics    *Metrics
	logs       *bytes.Buffer
	engine     *SyncEngine
}

func newEngineHarness(t *testing.T, clk clock.Clock) *engineHarness {
	t.Helper()
	client := newFakeClient()
	consumer := newRecordingConsumer()
	metrics := NewMetrics(nil)
	state := &stateHolder{metrics: metrics, logger: discardLogger()}
	bg := newBackground()
	logs := &bytes.Buffer{}
	sessions := NewSessionManager(SessionManagerConfig{
		Store:     credstore.NewMemoryStore(storedCredentials()),
		Connector: newFakeConnector(client),
		BotName:   botName,
		Metrics:   metrics,
		Logger:    discardLogger(),
	})
	return &engineHarness{
		client:     client,
		consumer:   consumer,
		background: bg,
		metrics:    metrics,
		logs:       logs,
		engine: newSyncEngine(syncEngineConfig{
			sessions:     sessions,
			state:        state,
			consumer:     consumer,
			background:   bg,
			botName:      botName,
			readyTimeout: time.Second,
			clock:        clk,
			logger:       captureLogger(logs),
		}),
	}
}

func syncEvent(state messaging.SyncState) messaging.SyncStateEvent {
	return messaging.SyncStateEvent{State: state}
}

func TestEngineAuthenticate(t *testing.T) {
	h := newEngineHarness(t, testClock())
	if h.engine.State() != Disconnected {
		t.Fatalf("initial state = %v", h.engine.State())
	}
	if _, err := h.engine.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if h.engine.State() != Syncing {
		t.Errorf("state = %v, want syncing", h.engine.State())
	}
	if got := promtest.ToFloat64(h.metrics.state); got != float64(Syncing) {
		t.Errorf("state gauge = %v", got)
	}
}

func TestEngineAuthenticateFailure(t *testing.T) {
	consumer := newRecordingConsumer()
	connector := newFakeConnector(newFakeClient())
	connector.loginErr = errBoom
	metrics := NewMetrics(nil)
	engine := newSyncEngine(syncEngineConfig{
		sessions: NewSessionManager(SessionManagerConfig{
			Store:     credstore.NewMemoryStore(nil),
			Connector: connector,
			BotName:   botName,
			Password:  staticPassword("pw"),
			Logger:    discardLogger(),
		}),
		state:      &stateHolder{metrics: metrics, logger: discardLogger()},
		consumer:   consumer,
		background: newBackground(),
		botName:    botName,
		clock:      testClock(),
		logger:     discardLogger(),
	})

	_, err := engine.Authenticate(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want AuthError", err)
	}
	if engine.State() != Disconnected {
		t.Errorf("state = %v, want disconnected", engine.State())
	}
}

func TestEngineStateMachine(t *testing.T) {
	h := newEngineHarness(t, testClock())
	if _, err := h.engine.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	steps := []struct {
		event messaging.SyncState
		want  ConnectionState
	}{
		{messaging.SyncError, Syncing},
		{messaging.SyncReconnecting, Syncing},
		{messaging.SyncPrepared, Prepared},
		{messaging.SyncSyncing, Prepared},
		{messaging.SyncError, Degraded},
		{messaging.SyncReconnecting, Degraded},
		{messaging.SyncSyncing, Prepared},
		{messaging.SyncReconnecting, Degraded},
		{messaging.SyncPrepared, Prepared},
		{messaging.SyncStopped, Disconnected},
	}
	for i, step := range steps {
		h.engine.HandleSync(syncEvent(step.event))
		if got := h.engine.State(); got != step.want {
			t.Fatalf("step %d (%s): state = %v, want %v", i, step.event, got, step.want)
		}
	}
	h.background.Wait()

	if got := h.consumer.readyCount(); got != 1 {
		t.Errorf("OnReady calls = %d, want 1", got)
	}
	errs := h.consumer.reportedErrors()
	if len(errs) != 2 {
		t.Fatalf("OnError calls = %d, want 2 (one per degradation)", len(errs))
	}
	if !errors.Is(errs[0], errSyncDegraded) {
		t.Errorf("OnError(%v), want the generic degradation error", errs[0])
	}
}

func TestEngineDegradeCarriesSyncError(t *testing.T) {
	h := newEngineHarness(t, testClock())
	if _, err := h.engine.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	h.engine.HandleSync(syncEvent(messaging.SyncPrepared))
	h.engine.HandleSync(messaging.SyncStateEvent{State: messaging.SyncError, Err: errBoom})
	h.background.Wait()

	errs := h.consumer.reportedErrors()
	if len(errs) != 1 || !errors.Is(errs[0], errBoom) {
		t.Errorf("OnError = %v, want errBoom", errs)
	}
}

func TestEngineReconcilesDisplayName(t *testing.T) {
	h := newEngineHarness(t, testClock())
	h.client.displayName = "old name"
	if _, err := h.engine.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	h.engine.HandleSync(syncEvent(messaging.SyncPrepared))
	h.background.Wait()
	if got := h.client.displayNameSets(); len(got) != 1 || got[0] != botName {
		t.Fatalf("SetDisplayName calls = %v, want [%s]", got, botName)
	}

	// Matching names are left alone on later entries into Prepared.
	h.engine.HandleSync(syncEvent(messaging.SyncError))
	h.engine.HandleSync(syncEvent(messaging.SyncSyncing))
	h.background.Wait()
	if got := h.client.displayNameSets(); len(got) != 1 {
		t.Errorf("SetDisplayName calls = %v, want one", got)
	}
}

func TestEngineRunWaitsForCrypto(t *testing.T) {
	fake := testClock()
	h := newEngineHarness(t, fake)
	h.client.cryptoEnabled = false
	if _, err := h.engine.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	// Ticker and deadline.
	fake.WaitForTimers(2)
	select {
	case <-h.client.started:
		t.Fatal("sync started before crypto was ready")
	default:
	}

	h.client.mu.Lock()
	h.client.cryptoEnabled = true
	h.client.mu.Unlock()
	fake.Advance(cryptoPollInterval)

	testutil.RequireClosed(t, h.client.started, testutil.DefaultTimeout, "sync to start after crypto became ready")
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v", err)
	}
	if h.engine.State() != Disconnected {
		t.Errorf("state after Run = %v", h.engine.State())
	}
}

func TestEngineRunContinuesWithoutCrypto(t *testing.T) {
	for name, setup := range map[string]func(*fakeClient){
		"init fails": func(c *fakeClient) { c.initCryptoErr = errBoom },
		"times out":  func(c *fakeClient) { c.cryptoEnabled = false },
	} {
		t.Run(name, func(t *testing.T) {
			fake := testClock()
			h := newEngineHarness(t, fake)
			setup(h.client)
			if _, err := h.engine.Authenticate(context.Background()); err != nil {
				t.Fatalf("Authenticate: %v", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- h.engine.Run(ctx) }()

			if h.client.initCryptoErr == nil {
				fake.WaitForTimers(2)
				fake.Advance(2 * time.Second)
			}
			testutil.RequireClosed(t, h.client.started, testutil.DefaultTimeout, "sync to start")
			cancel()
			<-done
		})
	}
}

func TestEngineRunReportsDeviceTrackingAsUnencrypted(t *testing.T) {
	h := newEngineHarness(t, testClock())
	if _, err := h.engine.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()
	testutil.RequireClosed(t, h.client.started, testutil.DefaultTimeout, "sync to start")
	cancel()
	<-done

	logs := h.logs.String()
	if !strings.Contains(logs, "device tracking enabled, messages are not encrypted") {
		t.Errorf("device tracking not reported as unencrypted:\n%s", logs)
	}
	if strings.Contains(logs, "crypto ready") {
		t.Errorf("log claims encryption is ready:\n%s", logs)
	}
}

func TestEngineRunReturnsSyncFailure(t *testing.T) {
	h := newEngineHarness(t, testClock())
	h.client.start = func(context.Context) error { return errBoom }
	if _, err := h.engine.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := h.engine.Run(context.Background()); !errors.Is(err, errBoom) {
		t.Errorf("Run = %v, want errBoom", err)
	}
	if h.engine.State() != Disconnected {
		t.Errorf("state = %v", h.engine.State())
	}
}

func TestEngineRunRequiresSession(t *testing.T) {
	h := newEngineHarness(t, testClock())
	if err := h.engine.Run(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Run = %v, want ErrNotConnected", err)
	}
}
