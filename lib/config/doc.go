// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the bot's YAML configuration.
//
// The file is named by the --config flag ([LoadFile]) or the
// MATRIXBOT_CONFIG environment variable ([Load]). There is no search
// path. Values start from [Default] and the file overrides them.
//
// String fields that carry deployment-specific values (homeserver URL,
// credentials, paths) expand ${VAR} and ${VAR:-default} from the
// environment after loading, so a password never needs to live in the
// file itself. Durations use Go syntax ("30s", "1m").
//
// [Config.Validate] reports every problem at once via errors.Join.
package config
