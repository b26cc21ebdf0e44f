// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "encoding/json"

// initialSyncFilter builds the inline filter for a sync without a
// stored position. It caps each room's timeline at limit events so a
// first boot does not replay history, and drops presence and account
// data, which the bot never reads. The room state section is kept:
// encryption and membership are discovered from it.
func initialSyncFilter(limit int) string {
	filter := map[string]any{
		"room": map[string]any{
			"timeline": map[string]any{"limit": limit},
		},
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}
	encoded, _ := json.Marshal(filter)
	return string(encoded)
}
