// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// UserID is a validated Matrix user ID such as "@hubot:example.org".
// The zero value means unset; check it with IsZero.
type UserID struct {
	id string
}

// ParseUserID validates raw as "@localpart:server".
func ParseUserID(raw string) (UserID, error) {
	if _, _, err := parseSigilID(raw, '@', "user ID"); err != nil {
		return UserID{}, err
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is ParseUserID for known-valid input. It panics on
// error.
func MustParseUserID(raw string) UserID {
	u, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return u
}

// String returns the full user ID.
func (u UserID) String() string { return u.id }

// IsZero reports whether u is unset.
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the part between '@' and the first ':'. Empty for
// the zero value.
func (u UserID) Localpart() string {
	if u.id == "" {
		return ""
	}
	local, _, _ := parseSigilID(u.id, '@', "user ID")
	return local
}

// Server returns the homeserver the user lives on. Zero for the zero
// value.
func (u UserID) Server() ServerName {
	if u.id == "" {
		return ServerName{}
	}
	_, server, _ := parseSigilID(u.id, '@', "user ID")
	return ServerName{name: server}
}

// MarshalText implements encoding.TextMarshaler.
func (u UserID) MarshalText() ([]byte, error) {
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input gives
// the zero value.
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
