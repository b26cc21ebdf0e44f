// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"sync"

	"github.com/bureau-foundation/matrixbot/lib/ref"
)

// User is a message sender as the host sees it. Room is the room the
// user was last seen speaking in.
type User struct {
	ID   ref.UserID
	Name string
	Room ref.RoomID
}

// UserDirectory remembers every sender the bot has heard from.
type UserDirectory struct {
	mu    sync.Mutex
	users map[ref.UserID]*User
}

// NewUserDirectory returns an empty directory.
func NewUserDirectory() *UserDirectory {
	return &UserDirectory{users: make(map[ref.UserID]*User)}
}

// Resolve returns the record for id, creating it with Name = id on
// first sight, and records roomID as its current room.
func (d *UserDirectory) Resolve(id ref.UserID, roomID ref.RoomID) User {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[id]
	if !ok {
		user = &User{ID: id, Name: id.String()}
		d.users[id] = user
	}
	user.Room = roomID
	return *user
}

// Lookup returns the record for id.
func (d *UserDirectory) Lookup(id ref.UserID) (User, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[id]
	if !ok {
		return User{}, false
	}
	return *user, true
}

// Rename sets the display name used for id. An empty name reverts to
// the ID.
func (d *UserDirectory) Rename(id ref.UserID, name string) {
	if name == "" {
		name = id.String()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[id]
	if !ok {
		user = &User{ID: id}
		d.users[id] = user
	}
	user.Name = name
}
