// Package authclient calls the auth service's token introspection endpoint
// on behalf of sibling services.
package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/emberchat/ember/internal/platform/timeouts"
)

// ErrUnauthorized indicates the token did not resolve to an active identity.
var ErrUnauthorized = errors.New("token is not active")

// Identity is the resolved display identity for an access token.
type Identity struct {
	ID       string
	Username string
	Color    string
}

// Client introspects bearer tokens against the auth service.
type Client struct {
	baseURL        string
	resourceSecret string
	httpClient     *http.Client
}

// New creates an introspection client. Returns nil when the auth base URL or
// resource secret is missing, which callers treat as "auth not configured".
func New(baseURL, resourceSecret string) *Client {
	baseURL = strings.TrimSpace(baseURL)
	resourceSecret = strings.TrimSpace(resourceSecret)
	if baseURL == "" || resourceSecret == "" {
		return nil
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		resourceSecret: resourceSecret,
		httpClient:     &http.Client{Timeout: timeouts.HTTPClient},
	}
}

type introspectResponse struct {
	Active   bool   `json:"active"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Color    string `json:"color"`
}

// Resolve maps an access token onto an identity, or ErrUnauthorized.
func (c *Client) Resolve(ctx context.Context, accessToken string) (Identity, error) {
	if c == nil || c.httpClient == nil {
		return Identity{}, errors.New("auth is not configured")
	}
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return Identity{}, ErrUnauthorized
	}

	callCtx, cancel := context.WithTimeout(ctx, timeouts.Introspect)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/introspect", nil)
	if err != nil {
		return Identity{}, fmt.Errorf("build introspection request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Resource-Secret", c.resourceSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("call auth introspection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("auth introspection status %d", resp.StatusCode)
	}

	var payload introspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Identity{}, fmt.Errorf("decode introspection response: %w", err)
	}
	if !payload.Active || strings.TrimSpace(payload.UserID) == "" {
		return Identity{}, ErrUnauthorized
	}

	return Identity{
		ID:       strings.TrimSpace(payload.UserID),
		Username: strings.TrimSpace(payload.Username),
		Color:    strings.TrimSpace(payload.Color),
	}, nil
}
