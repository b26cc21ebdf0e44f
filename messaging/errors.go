// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bureau-foundation/matrixbot/lib/ref"
)

// MatrixError is a structured error response from the homeserver.
// Inspect it with errors.As:
//
//	var matrixErr *MatrixError
//	if errors.As(err, &matrixErr) && matrixErr.Code == ErrCodeLimitExceeded { ... }
type MatrixError struct {
	// Code is the Matrix error code, e.g. "M_FORBIDDEN".
	Code string `json:"errcode"`
	// Message is the server's human-readable description.
	Message string `json:"error"`
	// RetryAfterMs accompanies M_LIMIT_EXCEEDED. Zero when absent.
	RetryAfterMs int64 `json:"retry_after_ms,omitempty"`
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// RetryAfter returns the server's retry hint, or zero.
func (e *MatrixError) RetryAfter() time.Duration {
	return time.Duration(e.RetryAfterMs) * time.Millisecond
}

// Matrix error codes the bot reacts to.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnknown       = "M_UNKNOWN"
)

// ErrSessionClosed is returned by DirectSession calls made after Close.
var ErrSessionClosed = errors.New("messaging: session closed")

// IsMatrixError reports whether err wraps a *MatrixError with code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// RateLimit reports whether err is a rate-limit response and returns
// the server's hint (zero when none was given).
func RateLimit(err error) (time.Duration, bool) {
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		return 0, false
	}
	if matrixErr.Code != ErrCodeLimitExceeded && matrixErr.StatusCode != 429 {
		return 0, false
	}
	return matrixErr.RetryAfter(), true
}

// UnknownDeviceError refuses a send into an encrypted room that has
// devices the bot has not acknowledged. Devices maps user ID to device
// IDs. Acknowledge them with DeviceTracker.SetDeviceKnown and resend.
type UnknownDeviceError struct {
	RoomID  ref.RoomID
	Devices map[ref.UserID][]string
}

func (e *UnknownDeviceError) Error() string {
	users := make([]string, 0, len(e.Devices))
	for user, devices := range e.Devices {
		users = append(users, fmt.Sprintf("%s[%s]", user, strings.Join(devices, ",")))
	}
	sort.Strings(users)
	return fmt.Sprintf("messaging: unknown devices in %s: %s", e.RoomID, strings.Join(users, " "))
}
