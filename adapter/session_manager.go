// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bureau-foundation/matrixbot/lib/credstore"
	"github.com/bureau-foundation/matrixbot/lib/secret"
	"github.com/bureau-foundation/matrixbot/messaging"
)

// PasswordSource produces the login password on demand. It is called
// only when a login is needed; the returned buffer is closed after use.
type PasswordSource func() (*secret.Buffer, error)

// SessionManager resolves a ProtocolClient from stored credentials,
// logging in only when they are incomplete.
type SessionManager struct {
	store      credstore.Store
	connector  Connector
	cursor     messaging.SyncStore
	botName    string
	loginUser  string
	deviceName string
	password   PasswordSource
	metrics    *Metrics
	logger     *slog.Logger
}

// SessionManagerConfig configures a SessionManager.
type SessionManagerConfig struct {
	Store     credstore.Store
	Connector Connector
	// Cursor is handed to Connector.Resume.
	Cursor  messaging.SyncStore
	BotName string
	// LoginUser defaults to BotName.
	LoginUser string
	// DeviceName labels a newly created device. Defaults to BotName.
	DeviceName string
	Password   PasswordSource
	Metrics    *Metrics
	Logger     *slog.Logger
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(config SessionManagerConfig) *SessionManager {
	manager := &SessionManager{
		store:      config.Store,
		connector:  config.Connector,
		cursor:     config.Cursor,
		botName:    config.BotName,
		loginUser:  config.LoginUser,
		deviceName: config.DeviceName,
		password:   config.Password,
		metrics:    config.Metrics,
		logger:     config.Logger,
	}
	if manager.loginUser == "" {
		manager.loginUser = config.BotName
	}
	if manager.deviceName == "" {
		manager.deviceName = config.BotName
	}
	if manager.metrics == nil {
		manager.metrics = NewMetrics(nil)
	}
	if manager.logger == nil {
		manager.logger = slog.Default()
	}
	return manager
}

// Obtain returns a resumed client. With all four credentials stored it
// only resumes. Otherwise it logs in,
// writes the new credentials in one transaction and resumes from them.
// Login failures are *AuthError. Store failures are logged and the
// session continues with what it has in memory.
func (m *SessionManager) Obtain(ctx context.Context) (ProtocolClient, error) {
	identity, ok := m.load(ctx)
	if !ok {
		var err error
		identity, err = m.login(ctx)
		if err != nil {
			return nil, err
		}
		m.persist(ctx, identity)
	} else {
		m.logger.Info("resuming stored session",
			"user_id", identity.UserID,
			"device_id", identity.DeviceID,
		)
	}

	client, err := m.connector.Resume(ctx, identity, m.cursor)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Invalidate forgets the stored access token so the next Obtain logs
// in again. Used when the homeserver rejects the token.
func (m *SessionManager) Invalidate(ctx context.Context) {
	if err := m.store.Set(ctx, credstore.KeyAccessToken, ""); err != nil {
		m.logger.Warn("clearing rejected access token failed",
			"error", &PersistenceError{Op: "write", Key: credstore.KeyAccessToken, Err: err},
		)
		return
	}
	m.logger.Info("cleared rejected access token")
}

func (m *SessionManager) load(ctx context.Context) (Identity, bool) {
	values := make(map[string]string, 4)
	for _, key := range []string{
		credstore.KeyAccessToken,
		credstore.KeyUserID,
		credstore.KeyDeviceID,
		credstore.KeyBotName,
	} {
		value, _, err := m.store.Get(ctx, key)
		if err != nil {
			m.logger.Warn("reading stored credentials failed, logging in",
				"error", &PersistenceError{Op: "read", Key: key, Err: err},
			)
			return Identity{}, false
		}
		values[key] = value
	}

	identity := Identity{
		AccessToken: values[credstore.KeyAccessToken],
		DeviceID:    values[credstore.KeyDeviceID],
		BotName:     values[credstore.KeyBotName],
	}
	if err := identity.UserID.UnmarshalText([]byte(values[credstore.KeyUserID])); err != nil {
		m.logger.Warn("stored user ID is malformed, logging in", "error", err)
		return Identity{}, false
	}
	if !identity.complete() {
		m.logger.Info("stored credentials incomplete, logging in")
		return Identity{}, false
	}
	if identity.BotName != m.botName {
		m.logger.Warn("stored credentials were issued under another bot name, resuming them anyway",
			"stored_bot_name", identity.BotName,
			"bot_name", m.botName,
		)
	}
	return identity, true
}

func (m *SessionManager) login(ctx context.Context) (Identity, error) {
	if m.password == nil {
		return Identity{}, &AuthError{Op: "login", Err: errors.New("no password configured")}
	}
	password, err := m.password()
	if err != nil {
		return Identity{}, &AuthError{Op: "login", Err: err}
	}
	defer password.Close()

	m.logger.Info("logging in", "user", m.loginUser)
	identity, err := m.connector.Login(ctx, m.loginUser, password, m.deviceName)
	if err != nil {
		return Identity{}, &AuthError{Op: "login", Err: err}
	}
	m.metrics.logins.Inc()
	identity.BotName = m.botName
	return identity, nil
}

func (m *SessionManager) persist(ctx context.Context, identity Identity) {
	err := m.store.SetAll(ctx, map[string]string{
		credstore.KeyAccessToken: identity.AccessToken,
		credstore.KeyUserID:      identity.UserID.String(),
		credstore.KeyDeviceID:    identity.DeviceID,
		credstore.KeyBotName:     identity.BotName,
	})
	if err != nil {
		m.logger.Warn("persisting credentials failed, session will not survive a restart",
			"error", &PersistenceError{Op: "write", Err: err},
		)
	}
}
