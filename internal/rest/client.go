// Package rest wraps the marketplace HTTP API consumed by the messaging core:
// message history, conversation summaries, seen/read reconciliation and
// notification history.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lucasmrqs/freelink/internal/store"
	"go.uber.org/zap"
)

// Page is the server's pagination envelope.
type Page[T any] struct {
	Content       []T   `json:"content"`
	Number        int   `json:"number"`
	TotalPages    int   `json:"totalPages"`
	TotalElements int64 `json:"totalElements"`
}

// APIError is a non-2xx response from the marketplace API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Body)
}

// Client is the REST client for the marketplace API. All calls are plain
// request/response and safe to retry; credentials are attached by the
// underlying Transport.
type Client struct {
	base   string
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a client rooted at baseURL. hc may carry an auth
// Transport; pass nil for http.DefaultClient.
func NewClient(baseURL string, hc *http.Client, logger *zap.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc, logger: logger}
}

// Messages fetches one page of a conversation's history. The server returns
// pages newest-first; callers normalize to ascending before display.
func (c *Client) Messages(ctx context.Context, conversationID int64, page, size int) (*Page[store.Message], error) {
	q := url.Values{"page": {strconv.Itoa(page)}, "size": {strconv.Itoa(size)}}
	var out Page[store.Message]
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/chat/conversations/%d/messages", conversationID), q, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkSeen marks every message of a conversation as seen for the current user.
func (c *Client) MarkSeen(ctx context.Context, conversationID int64) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/chat/conversations/%d/seen", conversationID), nil, nil, nil)
}

// Conversations fetches one page of the current user's conversation list.
func (c *Client) Conversations(ctx context.Context, page, size int) (*Page[store.Conversation], error) {
	q := url.Values{"page": {strconv.Itoa(page)}, "size": {strconv.Itoa(size)}}
	var out Page[store.Conversation]
	if err := c.do(ctx, http.MethodGet, "/conversations", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InitConversation creates (or returns) the conversation for a mission and
// counterpart user.
func (c *Client) InitConversation(ctx context.Context, missionID, otherUserID int64) (*store.Conversation, error) {
	q := url.Values{
		"missionId":   {strconv.FormatInt(missionID, 10)},
		"otherUserId": {strconv.FormatInt(otherUserID, 10)},
	}
	var out store.Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations/init", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Notifications fetches one page of notification history. status filters by
// seen/read state and may be empty.
func (c *Client) Notifications(ctx context.Context, page, size int, notifStatus string) (*Page[store.Notification], error) {
	q := url.Values{"page": {strconv.Itoa(page)}, "size": {strconv.Itoa(size)}}
	if notifStatus != "" {
		q.Set("status", notifStatus)
	}
	var out Page[store.Notification]
	if err := c.do(ctx, http.MethodGet, "/notifications", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkNotificationSeen stamps a single notification as seen.
func (c *Client) MarkNotificationSeen(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/notifications/%d/seen", id), nil, nil, nil)
}

// MarkNotificationsRead stamps a batch of notifications as read.
func (c *Client) MarkNotificationsRead(ctx context.Context, ids []int64) error {
	return c.do(ctx, http.MethodPatch, "/notifications/mark-read", nil, ids, nil)
}

// NotificationClick records that the user followed a notification.
func (c *Client) NotificationClick(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/notifications/%d/click", id), nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
