// Package api is a thin client for the chat server's REST endpoints that the
// sync engine depends on.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/babelbye/bbchat/internal/store"
	"go.uber.org/zap"
)

// Error is a non-2xx response from the server.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the REST API authenticated as a single user.
type Client struct {
	baseURL string
	token   string
	userID  string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a Client. A bearer token takes precedence over the
// development user id header.
func NewClient(baseURL, token, userID string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		userID:  userID,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

// ListConnections returns every connection of the authenticated user,
// whatever its status.
func (c *Client) ListConnections(ctx context.Context) ([]store.Connection, error) {
	var conns []store.Connection
	if err := c.do(ctx, http.MethodGet, "/api/connections", &conns); err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return conns, nil
}

// GetProfile returns the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context) (*store.Profile, error) {
	var p store.Profile
	if err := c.do(ctx, http.MethodGet, "/api/profile", &p); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// DeleteHistory removes the server-side history shared with peerID.
func (c *Client) DeleteHistory(ctx context.Context, peerID string) error {
	var deleted int64
	if err := c.do(ctx, http.MethodDelete, "/api/history/"+url.PathEscape(peerID), &deleted); err != nil {
		return fmt.Errorf("delete history with %s: %w", peerID, err)
	}
	c.logger.Info("remote history deleted", zap.String("peer", peerID), zap.Int64("deleted", deleted))
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.userID != "":
		req.Header.Set("x-user-id", c.userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		var body struct {
			Message string `json:"message"`
		}
		if data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil && json.Unmarshal(data, &body) == nil {
			apiErr.Message = body.Message
		}
		return apiErr
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
