// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// validateServer checks that a Matrix server name is minimally valid:
// non-empty, with no control characters, spaces or Matrix sigils.
func validateServer(server string) error {
	if server == "" {
		return fmt.Errorf("server name is empty")
	}
	for i := 0; i < len(server); i++ {
		c := server[i]
		if c <= ' ' || c == '@' || c == '#' || c == '!' || c == '$' {
			return fmt.Errorf("server name %q: invalid character at position %d", server, i)
		}
	}
	return nil
}

// parseSigilID splits "<sigil>local:server" into its parts. The server
// is everything after the first colon, so it may carry a port.
func parseSigilID(identifier string, sigil byte, kind string) (local, server string, err error) {
	if identifier == "" {
		return "", "", fmt.Errorf("empty %s", kind)
	}
	if identifier[0] != sigil {
		return "", "", fmt.Errorf("%s must start with '%c': %q", kind, sigil, identifier)
	}
	colonIndex := strings.IndexByte(identifier[1:], ':')
	if colonIndex < 0 {
		return "", "", fmt.Errorf("%s missing ':server' suffix: %q", kind, identifier)
	}
	if colonIndex == 0 {
		return "", "", fmt.Errorf("%s has empty local part: %q", kind, identifier)
	}
	local = identifier[1 : 1+colonIndex]
	server = identifier[1+colonIndex+1:]
	if server == "" {
		return "", "", fmt.Errorf("%s has empty server name: %q", kind, identifier)
	}
	if err := validateServer(server); err != nil {
		return "", "", fmt.Errorf("%s %q: %w", kind, identifier, err)
	}
	return local, server, nil
}
