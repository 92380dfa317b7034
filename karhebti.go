// Package karhebti provides the Go client for the Karhebti vehicle-maintenance
// and garage-marketplace platform.
//
// The package centers on real-time conversation delivery: a websocket chat
// client with automatic reconnection, a deduplicated per-conversation message
// store, pending-join replay across reconnects, and an HTTP polling fallback
// that merges into the same store.
//
// Example:
//
//	client := karhebti.NewClient(karhebti.StaticToken(token))
//
//	registry := karhebti.NewRegistry(client, nil)
//	chat, _ := registry.Acquire(ctx, &karhebti.ChatHandlers{
//		OnMessage: func(m karhebti.ChatMessage) { fmt.Println(m.Content) },
//	})
//	chat.JoinConversation(ctx, "conv-123")
package karhebti

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.karhebti.tn"
	DefaultTimeout = 30 * time.Second
)

// ErrAuthRejected is returned when the backend refuses the bearer credential
// (401/403 equivalent). Callers should refresh the token or force re-login;
// the SDK never retries an authentication failure on its own.
var ErrAuthRejected = errors.New("karhebti: authentication rejected")

// ============================================================================
// Token Provider
// ============================================================================

// TokenProvider supplies the current bearer token. The client re-reads it on
// every request and on every live-channel connect attempt, so refreshed
// tokens take effect without rebuilding the client.
type TokenProvider interface {
	Token() (string, error)
}

// TokenFunc adapts a function to the TokenProvider interface.
type TokenFunc func() (string, error)

func (f TokenFunc) Token() (string, error) { return f() }

// StaticToken returns a TokenProvider that always yields the given token.
func StaticToken(token string) TokenProvider {
	return TokenFunc(func() (string, error) { return token, nil })
}

// ============================================================================
// Client
// ============================================================================

// Client is the REST client for the Karhebti API. It is also the request
// surface the fallback poller uses when the live channel is degraded.
type Client struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a new Karhebti client. tokens may be nil for endpoints
// that accept anonymous access.
func NewClient(tokens TokenProvider, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to read token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w (HTTP %d)", ErrAuthRejected, resp.StatusCode)
	case resp.StatusCode >= 400:
		var apiErr APIError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			if apiErr.Code == "" {
				apiErr.Code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
			}
			return nil, &apiErr
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Conversations & Messages
// ============================================================================

// Conversations lists the conversations the authenticated user participates
// in.
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	data, err := c.doRequest(ctx, "GET", "/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	var convos []Conversation
	if err := json.Unmarshal(data, &convos); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return convos, nil
}

// Conversation fetches a single conversation.
func (c *Client) Conversation(ctx context.Context, conversationID string) (*Conversation, error) {
	data, err := c.doRequest(ctx, "GET", "/conversations/"+conversationID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

// Messages returns the ordered message history of a conversation.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]ChatMessage, error) {
	data, err := c.doRequest(ctx, "GET", "/conversations/"+conversationID+"/messages", nil, nil)
	if err != nil {
		return nil, err
	}
	var msgs []ChatMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return msgs, nil
}

// SendMessage posts a message over REST. This is the compose-time send path;
// it works whether or not the live channel is up.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (*ChatMessage, error) {
	data, err := c.doRequest(ctx, "POST", "/conversations/"+conversationID+"/messages",
		map[string]string{"content": content}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[ChatMessage](data)
}

// MarkConversationRead marks all messages in a conversation as read.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	_, err := c.doRequest(ctx, "POST", "/conversations/"+conversationID+"/read", nil, nil)
	return err
}

// ============================================================================
// Notifications
// ============================================================================

// Notifications lists the authenticated user's notifications.
func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	data, err := c.doRequest(ctx, "GET", "/notifications", nil, nil)
	if err != nil {
		return nil, err
	}
	var notifs []Notification
	if err := json.Unmarshal(data, &notifs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return notifs, nil
}

// MarkNotificationRead marks a single notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, notificationID string) error {
	_, err := c.doRequest(ctx, "PATCH", "/notifications/"+notificationID+"/read", nil, nil)
	return err
}
