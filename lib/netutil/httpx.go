// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds HTTP response reads.
//
// JSON API responses from the homeserver go through [DecodeResponse]
// and [ErrorBody], capped at MaxResponseSize. Media downloads use
// [ReadLimited], which fails instead of truncating when the body is
// larger than the caller allows.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize caps JSON API response bodies at 64 MB. A full
// initial sync of a large account stays well under this.
const MaxResponseSize int64 = 64 << 20

// ReadResponse reads a JSON API response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a bounded response body and JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody returns an error response body as a string for diagnostics.
// Read errors are ignored.
func ErrorBody(body io.Reader) string {
	data, _ := ReadResponse(body)
	return string(data)
}

// ReadLimited reads all of body, failing if it holds more than limit bytes.
func ReadLimited(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return data, nil
}
