// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bureau-foundation/matrixbot/lib/netutil"
	"github.com/bureau-foundation/matrixbot/lib/ref"
	"github.com/bureau-foundation/matrixbot/lib/secret"
	"github.com/bureau-foundation/matrixbot/lib/version"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the homeserver base URL, e.g. "https://matrix.example.org".
	HomeserverURL string
	// HTTPClient is used for all requests. If nil, a client without a
	// global timeout is used; /sync long-polls rely on request contexts.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is an unauthenticated Matrix client. It holds the homeserver
// URL and HTTP transport shared by every session created from it.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new unauthenticated Matrix client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL is required")
	}
	// Request URLs are built by concatenation onto the trimmed string;
	// url.URL.String would re-encode already-escaped room IDs.
	if _, err := url.Parse(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("messaging: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.HomeserverURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CloseIdleConnections drops pooled connections so the next request
// dials fresh. The sync loop calls this after a failed poll.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Login authenticates with a password and returns a session carrying
// the issued access token and device ID. The password Buffer is read
// but not closed.
func (c *Client) Login(ctx context.Context, username string, password *secret.Buffer, deviceName string) (*DirectSession, error) {
	if username == "" {
		return nil, fmt.Errorf("messaging: username is required for login")
	}
	if password == nil {
		return nil, fmt.Errorf("messaging: password is required for login")
	}

	request := LoginRequest{
		Type: "m.login.password",
		Identifier: &UserIdentifier{
			Type: "m.id.user",
			User: username,
		},
		Password:                 password.String(),
		InitialDeviceDisplayName: deviceName,
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/login", nil, request)
	if err != nil {
		return nil, fmt.Errorf("messaging: login failed: %w", err)
	}

	var auth AuthResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse login response: %w", err)
	}
	if auth.AccessToken == "" || auth.UserID.IsZero() {
		return nil, fmt.Errorf("messaging: login response missing access_token or user_id")
	}

	c.logger.Info("logged in to matrix",
		"user_id", auth.UserID.String(),
		"device_id", auth.DeviceID,
	)
	return c.SessionFromToken(auth.UserID, auth.DeviceID, auth.AccessToken)
}

// SessionFromToken resumes a session from stored credentials. The token
// is copied into protected memory. It is not validated here; the first
// request fails with M_UNKNOWN_TOKEN if it has been revoked.
//
// The caller must Close the returned session.
func (c *Client) SessionFromToken(userID ref.UserID, deviceID, accessToken string) (*DirectSession, error) {
	if userID.IsZero() || accessToken == "" {
		return nil, fmt.Errorf("messaging: user ID and access token are required")
	}
	tokenBuffer, err := secret.NewFromString(accessToken)
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}
	return &DirectSession{
		client:      c,
		accessToken: tokenBuffer,
		userID:      userID,
		deviceID:    deviceID,
	}, nil
}

// doRequest sends a JSON request and returns the response body. Non-2xx
// responses become *MatrixError. accessToken may be nil.
func (c *Client) doRequest(ctx context.Context, method, path string, accessToken *secret.Buffer, requestBody any, query ...url.Values) ([]byte, error) {
	var (
		bodyReader  io.Reader
		contentType string
	)
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("messaging: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
		contentType = "application/json"
	}
	var values url.Values
	if len(query) > 0 {
		values = query[0]
	}
	return c.do(ctx, method, path, values, accessToken, contentType, bodyReader)
}

// doRequestRaw sends a raw body, used for media upload.
func (c *Client) doRequestRaw(ctx context.Context, method, path string, query url.Values, accessToken *secret.Buffer, contentType string, body io.Reader) ([]byte, error) {
	return c.do(ctx, method, path, query, accessToken, contentType, body)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, accessToken *secret.Buffer, contentType string, body io.Reader) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var token string
	if accessToken != nil {
		var err error
		if token, err = accessToken.TryString(); err != nil {
			return nil, ErrSessionClosed
		}
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create request: %w", err)
	}
	request.Header.Set("User-Agent", version.UserAgent())
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if accessToken != nil {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("messaging: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to read response body: %w", err)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil || matrixErr.Code == "" {
		// Proxies in front of the homeserver answer 429 and 5xx with HTML.
		if response.StatusCode == http.StatusTooManyRequests {
			return nil, &MatrixError{Code: ErrCodeLimitExceeded, StatusCode: response.StatusCode}
		}
		return nil, fmt.Errorf("messaging: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	matrixErr.StatusCode = response.StatusCode
	return nil, &matrixErr
}
