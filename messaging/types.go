// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "github.com/bureau-foundation/matrixbot/lib/ref"

// Event types the sync engine and gateway care about.
const (
	EventTypeMessage    = "m.room.message"
	EventTypeMember     = "m.room.member"
	EventTypeTopic      = "m.room.topic"
	EventTypeEncryption = "m.room.encryption"
)

// Message types.
const (
	MsgTypeText   = "m.text"
	MsgTypeNotice = "m.notice"
	MsgTypeEmote  = "m.emote"
	MsgTypeImage  = "m.image"
)

// Presence states.
const (
	PresenceOnline      = "online"
	PresenceOffline     = "offline"
	PresenceUnavailable = "unavailable"
)

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Type                     string          `json:"type"`
	Identifier               *UserIdentifier `json:"identifier,omitempty"`
	Password                 string          `json:"password,omitempty"`
	InitialDeviceDisplayName string          `json:"initial_device_display_name,omitempty"`
}

// UserIdentifier names the account in a LoginRequest.
type UserIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// AuthResponse is returned by /login.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// MessageContent is the content of an m.room.message event.
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// NewTextMessage returns m.text content.
func NewTextMessage(body string) MessageContent {
	return MessageContent{MsgType: MsgTypeText, Body: body}
}

// NewNoticeMessage returns m.notice content, the msgtype bots use so
// other bots do not answer them.
func NewNoticeMessage(body string) MessageContent {
	return MessageContent{MsgType: MsgTypeNotice, Body: body}
}

// NewEmoteMessage returns m.emote content.
func NewEmoteMessage(body string) MessageContent {
	return MessageContent{MsgType: MsgTypeEmote, Body: body}
}

// ImageContent is the content of an m.image message.
type ImageContent struct {
	MsgType string    `json:"msgtype"`
	Body    string    `json:"body"`
	URL     string    `json:"url"`
	Info    ImageInfo `json:"info"`
}

// ImageInfo describes uploaded image media.
type ImageInfo struct {
	MimeType string `json:"mimetype"`
	Height   int    `json:"h"`
	Width    int    `json:"w"`
	Size     int    `json:"size"`
}

// TopicContent is the content of an m.room.topic state event.
type TopicContent struct {
	Topic string `json:"topic"`
}

// Event is a Matrix event as delivered by /sync.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           string         `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
}

// ContentString returns a string field of the content, or "".
func (e Event) ContentString(key string) string {
	value, _ := e.Content[key].(string)
	return value
}

// SyncOptions are the query parameters of one /sync call.
type SyncOptions struct {
	Since      string // next_batch from the previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds
	SetTimeout bool   // send timeout even when zero
	Filter     string // filter ID or inline JSON filter
}

// SyncResponse is the body of GET /sync.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection groups rooms by the bot's membership. The map keys are
// parsed through ref.RoomID's TextUnmarshaler, so a malformed room ID
// fails the whole response.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom is a joined room's slice of a sync.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// InvitedRoom carries the stripped state of a pending invite.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom is a room the bot left or was removed from.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
}

// TimelineSection is a room timeline chunk.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection is a list of state events.
type StateSection struct {
	Events []Event `json:"events"`
}

// SendEventResponse is returned by send and state endpoints.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// SetPresenceRequest is the body of PUT /presence/{user}/status.
type SetPresenceRequest struct {
	Presence  string `json:"presence"`
	StatusMsg string `json:"status_msg,omitempty"`
}

// DisplayNameRequest is the body and response of the displayname profile field.
type DisplayNameRequest struct {
	DisplayName string `json:"displayname"`
}

// UploadResponse is returned by the media upload endpoint.
type UploadResponse struct {
	ContentURI string `json:"content_uri"`
}

// JoinedMembersResponse is returned by GET /rooms/{id}/joined_members.
type JoinedMembersResponse struct {
	Joined map[ref.UserID]struct {
		DisplayName string `json:"display_name,omitempty"`
	} `json:"joined"`
}

// KeysQueryRequest is the body of POST /keys/query. An empty device
// list asks for every device of that user.
type KeysQueryRequest struct {
	DeviceKeys map[ref.UserID][]string `json:"device_keys"`
	Timeout    int                     `json:"timeout,omitempty"`
}

// KeysQueryResponse maps user ID to device ID to that device's keys.
type KeysQueryResponse struct {
	DeviceKeys map[ref.UserID]map[string]DeviceKeys `json:"device_keys"`
	Failures   map[string]any                       `json:"failures,omitempty"`
}

// DeviceKeys is one device's published identity.
type DeviceKeys struct {
	UserID     ref.UserID        `json:"user_id"`
	DeviceID   string            `json:"device_id"`
	Algorithms []string          `json:"algorithms"`
	Keys       map[string]string `json:"keys"`
}
