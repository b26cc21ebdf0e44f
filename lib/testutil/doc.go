// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern tests use when waiting on a goroutine, and [Eventually] polls
// for state that another goroutine updates. These are the only places
// tests wait on the wall clock; anything driven by lib/clock uses the
// fake clock instead.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
