package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"rentsync/internal/auth"
	"rentsync/internal/convo"
	"rentsync/internal/notify"
	"rentsync/internal/wire"
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

// Client talks to the marketplace REST API. It covers the endpoints the
// sync layer needs: history and notification snapshots plus the message
// and read-state mutations.
type Client struct {
	base   string
	http   *http.Client
	tokens auth.TokenProvider
	logger *zap.Logger
}

// NewClient creates a client for the given API base URL.
func NewClient(base string, tokens auth.TokenProvider, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:   base,
		http:   &http.Client{Timeout: 15 * time.Second},
		tokens: tokens,
		logger: logger,
	}
}

// ChatHistory fetches the message history between two users.
func (c *Client) ChatHistory(ctx context.Context, senderID, receiverID string) ([]convo.Message, error) {
	path := "/v1/chat/history/" + url.PathEscape(senderID) + "/" + url.PathEscape(receiverID)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeMessages(body)
}

// SendMessage posts a new chat message and returns the server's copy.
func (c *Client) SendMessage(ctx context.Context, cmd wire.Command) (convo.Message, error) {
	payload, err := cmd.Encode()
	if err != nil {
		return convo.Message{}, err
	}
	body, err := c.do(ctx, http.MethodPost, "/v1/chat", payload)
	if err != nil {
		return convo.Message{}, err
	}
	return wire.ParseMessage(body, time.Now())
}

// EditMessage updates a message's content and returns the server's copy.
func (c *Client) EditMessage(ctx context.Context, id, content string) (convo.Message, error) {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return convo.Message{}, err
	}
	body, err := c.do(ctx, http.MethodPatch, "/v1/chat/"+url.PathEscape(id), payload)
	if err != nil {
		return convo.Message{}, err
	}
	return wire.ParseMessage(body, time.Now())
}

// MarkMessageRead flags a message as read on the server.
func (c *Client) MarkMessageRead(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPatch, "/v1/chat/"+url.PathEscape(id)+"/read", nil)
	return err
}

// Notifications fetches the notification snapshot for a user.
func (c *Client) Notifications(ctx context.Context, userID string) ([]notify.Notification, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(userID)+"/notifications", nil)
	if err != nil {
		return nil, err
	}
	return decodeNotifications(body)
}

// MarkNotificationRead flags a notification as read on the server.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPatch, "/v1/notifications/"+url.PathEscape(id)+"/read", nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.tokens.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// decodeMessages parses a JSON array of message frames, applying the
// same per-item normalization as the socket path.
func decodeMessages(body []byte) ([]convo.Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	now := time.Now()
	out := make([]convo.Message, 0, len(raw))
	for _, item := range raw {
		m, err := wire.ParseMessage(item, now)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func decodeNotifications(body []byte) ([]notify.Notification, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	now := time.Now()
	out := make([]notify.Notification, 0, len(raw))
	for _, item := range raw {
		n, err := wire.ParseNotification(item, now)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
