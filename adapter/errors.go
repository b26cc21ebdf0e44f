// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/matrixbot/messaging"
)

// ErrNotConnected is returned by outbound calls made before Run has
// obtained a session or after Stop.
var ErrNotConnected = errors.New("adapter: not connected")

// AuthError means the bot cannot authenticate: the password login
// failed or the homeserver rejected the stored token. It is fatal to
// Run and never retried.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("adapter: authentication failed during %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// PersistenceError is a credential store failure. The session carries
// on in memory; these are logged, not returned to the host.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("adapter: credential store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("adapter: credential store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// classifyRetry retries rate-limit responses only, using the server's
// hint when it sent one.
func classifyRetry(err error) (time.Duration, bool) {
	return messaging.RateLimit(err)
}
