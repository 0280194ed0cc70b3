// Package api is the HTTP client for the ScuffedSnap server's REST surface.
// The server is the single source of truth for profiles, friends, and
// messages; every mutating call either fully succeeds or fully fails.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Error is a non-2xx response from the server.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: HTTP %d: %s", e.Status, e.Message)
}

// Client talks to the ScuffedSnap REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the given server origin and bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Status: resp.StatusCode, Message: errorMessage(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}

// Me returns the profile of the authenticated user.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProfile returns a single profile by id.
func (c *Client) GetProfile(ctx context.Context, id int64) (*Profile, error) {
	var p Profile
	if err := c.do(ctx, http.MethodGet, "/api/profiles/"+strconv.FormatInt(id, 10), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateMessage persists a new message and returns the canonical record.
func (c *Client) CreateMessage(ctx context.Context, req CreateMessageRequest) (*Message, error) {
	var m Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMessage edits the content of an existing message. The server rejects
// edits from anyone but the original sender.
func (c *Client) UpdateMessage(ctx context.Context, id int64, content string) error {
	body := map[string]string{"content": content}
	return c.do(ctx, http.MethodPatch, "/api/messages/"+strconv.FormatInt(id, 10), body, nil)
}

// DeleteMessage removes a message. Sender-only, like UpdateMessage.
func (c *Client) DeleteMessage(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+strconv.FormatInt(id, 10), nil, nil)
}

// ListMessages returns up to limit messages exchanged with peerID, newest first.
func (c *Client) ListMessages(ctx context.Context, peerID int64, limit int) ([]Message, error) {
	path := fmt.Sprintf("/api/messages/%d?limit=%d", peerID, limit)
	var msgs []Message
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead marks all messages from peerID to the authenticated user as read.
func (c *Client) MarkRead(ctx context.Context, peerID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/messages/%d/read", peerID), nil, nil)
}

// ListConversations returns conversation summaries, most recent first.
func (c *Client) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	var convs []Conversation
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/conversations?limit=%d", limit), nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// ListFriends returns the authenticated user's accepted friends.
func (c *Client) ListFriends(ctx context.Context) ([]Profile, error) {
	var friends []Profile
	if err := c.do(ctx, http.MethodGet, "/api/friends", nil, &friends); err != nil {
		return nil, err
	}
	return friends, nil
}

// ListFriendRequests returns pending requests addressed to the authenticated user.
func (c *Client) ListFriendRequests(ctx context.Context) ([]FriendRequest, error) {
	var reqs []FriendRequest
	if err := c.do(ctx, http.MethodGet, "/api/friends/requests", nil, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// AcceptFriendRequest transitions a pending request to accepted.
func (c *Client) AcceptFriendRequest(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/friends/requests/%d/accept", id), nil, nil)
}

// DeclineFriendRequest deletes a pending request.
func (c *Client) DeclineFriendRequest(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/friends/requests/%d", id), nil, nil)
}
