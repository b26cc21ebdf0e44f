// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/matrixbot/lib/ref"
	"github.com/bureau-foundation/matrixbot/lib/secret"
)

// DirectSession is an authenticated Matrix session: a Client plus an
// access token. The token lives in a secret.Buffer; call Close to
// release it.
type DirectSession struct {
	client      *Client
	accessToken *secret.Buffer
	userID      ref.UserID
	deviceID    string

	transactionCounter atomic.Int64
}

// UserID returns the fully-qualified user ID, e.g. "@hubot:example.org".
func (s *DirectSession) UserID() ref.UserID {
	return s.userID
}

// DeviceID returns the device this session's token was issued for.
func (s *DirectSession) DeviceID() string {
	return s.deviceID
}

// AccessToken returns a heap copy of the token, for persisting it.
func (s *DirectSession) AccessToken() string {
	return s.accessToken.String()
}

// CloseIdleConnections drops pooled HTTP connections.
func (s *DirectSession) CloseIdleConnections() {
	s.client.CloseIdleConnections()
}

// Close releases the access token memory. Idempotent.
func (s *DirectSession) Close() error {
	if s.accessToken != nil {
		return s.accessToken.Close()
	}
	return nil
}

// JoinRoom joins a room by ID and returns the joined room ID.
func (s *DirectSession) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID.String())
	body, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: join room %s failed: %w", roomID, err)
	}

	var response struct {
		RoomID ref.RoomID `json:"room_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	return response.RoomID, nil
}

// SendMessage sends m.room.message content and returns the event ID.
func (s *DirectSession) SendMessage(ctx context.Context, roomID ref.RoomID, content any) (ref.EventID, error) {
	return s.SendEvent(ctx, roomID, EventTypeMessage, content)
}

// SendEvent sends a timeline event with an idempotent transaction ID.
func (s *DirectSession) SendEvent(ctx context.Context, roomID ref.RoomID, eventType string, content any) (ref.EventID, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventType),
		url.PathEscape(s.nextTransactionID()),
	)
	body, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, content)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: send %s to %s failed: %w", eventType, roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// SendStateEvent sets a state event and returns its event ID.
func (s *DirectSession) SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType, stateKey string, content any) (ref.EventID, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventType),
		url.PathEscape(stateKey),
	)
	body, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, content)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: send state %s to %s failed: %w", eventType, roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse send state response: %w", err)
	}
	return response.EventID, nil
}

// SendReadReceipt marks eventID as read in roomID.
func (s *DirectSession) SendReadReceipt(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/receipt/m.read/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventID.String()),
	)
	if _, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{}); err != nil {
		return fmt.Errorf("messaging: read receipt for %s in %s failed: %w", eventID, roomID, err)
	}
	return nil
}

// SetPresence sets the session user's presence.
func (s *DirectSession) SetPresence(ctx context.Context, request SetPresenceRequest) error {
	path := "/_matrix/client/v3/presence/" + url.PathEscape(s.userID.String()) + "/status"
	if _, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, request); err != nil {
		return fmt.Errorf("messaging: set presence failed: %w", err)
	}
	return nil
}

// GetDisplayName returns a user's display name, or "" when unset.
func (s *DirectSession) GetDisplayName(ctx context.Context, userID ref.UserID) (string, error) {
	path := "/_matrix/client/v3/profile/" + url.PathEscape(userID.String()) + "/displayname"
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		if IsMatrixError(err, ErrCodeNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("messaging: get display name for %s failed: %w", userID, err)
	}

	var response DisplayNameRequest
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse display name response: %w", err)
	}
	return response.DisplayName, nil
}

// SetDisplayName sets the session user's display name.
func (s *DirectSession) SetDisplayName(ctx context.Context, name string) error {
	path := "/_matrix/client/v3/profile/" + url.PathEscape(s.userID.String()) + "/displayname"
	if _, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, DisplayNameRequest{DisplayName: name}); err != nil {
		return fmt.Errorf("messaging: set display name failed: %w", err)
	}
	return nil
}

// JoinedMembers returns the user IDs currently joined to roomID.
func (s *DirectSession) JoinedMembers(ctx context.Context, roomID ref.RoomID) ([]ref.UserID, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/joined_members", url.PathEscape(roomID.String()))
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: joined members of %s failed: %w", roomID, err)
	}

	var response JoinedMembersResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse joined members response: %w", err)
	}
	members := make([]ref.UserID, 0, len(response.Joined))
	for userID := range response.Joined {
		members = append(members, userID)
	}
	return members, nil
}

// QueryKeys fetches the published devices of users.
func (s *DirectSession) QueryKeys(ctx context.Context, users []ref.UserID) (*KeysQueryResponse, error) {
	request := KeysQueryRequest{
		DeviceKeys: make(map[ref.UserID][]string, len(users)),
		Timeout:    10000,
	}
	for _, user := range users {
		request.DeviceKeys[user] = []string{}
	}
	body, err := s.client.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/keys/query", s.accessToken, request)
	if err != nil {
		return nil, fmt.Errorf("messaging: keys query failed: %w", err)
	}

	var response KeysQueryResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse keys query response: %w", err)
	}
	return &response, nil
}

// Sync performs one /sync request.
func (s *DirectSession) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// UploadMedia uploads body to the media repository and returns its
// mxc:// URI. filename may be empty.
func (s *DirectSession) UploadMedia(ctx context.Context, contentType, filename string, body io.Reader) (string, error) {
	var query url.Values
	if filename != "" {
		query = url.Values{"filename": {filename}}
	}
	responseBody, err := s.client.doRequestRaw(ctx, http.MethodPost,
		"/_matrix/media/v3/upload", query, s.accessToken, contentType, body)
	if err != nil {
		return "", fmt.Errorf("messaging: media upload failed: %w", err)
	}

	var response UploadResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse upload response: %w", err)
	}
	return response.ContentURI, nil
}

// nextTransactionID returns "mb-<unix_ms>-<counter>", unique across
// restarts of the same device.
func (s *DirectSession) nextTransactionID() string {
	counter := s.transactionCounter.Add(1)
	return fmt.Sprintf("mb-%d-%d", time.Now().UnixMilli(), counter)
}
