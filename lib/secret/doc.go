// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds the bot's password and access token outside the
// Go heap.
//
// [Buffer] is an anonymous mmap region locked into RAM (mlock) and
// excluded from core dumps (MADV_DONTDUMP). Close zeroes, unlocks and
// unmaps it. [ReadFromPath] loads a password file straight into a
// Buffer; [Zero] scrubs transient heap copies such as decoded JSON.
package secret
