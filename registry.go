package karhebti

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ============================================================================
// Connection Registry
// ============================================================================

// Registry hands out the chat client and guarantees that at most one live
// channel exists per process. Acquire reuses a healthy instance, tears down
// a dead one before building a replacement, and never lets two goroutines
// construct concurrently.
type Registry struct {
	client *Client
	config *RealtimeConfig

	mu   sync.Mutex
	chat *ChatClient
}

// NewRegistry creates a registry building chat clients against the given
// REST client's base URL and token provider. config may be nil for defaults.
func NewRegistry(client *Client, config *RealtimeConfig) *Registry {
	return &Registry{client: client, config: config}
}

// Acquire returns the process-wide chat client, connecting a new one if
// none is live. handlers applies only when a new instance is built; an
// existing healthy instance keeps its original handlers. When the first
// connect fails but auto-reconnect is on, the instance is still returned
// and keeps retrying in the background; connectivity progress arrives via
// OnStateChange. Auth rejections are returned and nothing is registered.
func (r *Registry) Acquire(ctx context.Context, handlers *ChatHandlers) (*ChatClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.chat != nil {
		switch r.chat.State() {
		case StateConnected, StateConnecting, StateReconnecting:
			return r.chat, nil
		}
		// A dead instance is torn down before a replacement is built, so
		// two live sockets can never coexist.
		_ = r.chat.Disconnect()
		r.chat = nil
	}

	store := NewMessageStore()
	router := NewRouter(store, handlers, r.logger())
	chat := NewChatClient(r.client.BaseURL(), r.client.tokens, router, r.config)

	if err := chat.Connect(ctx); err != nil {
		// With auto-reconnect the instance keeps retrying in the
		// background; keep it registered so callers share the one
		// attempt. Auth rejections stop cold and stay unregistered.
		if chat.config.AutoReconnect && !errors.Is(err, ErrAuthRejected) {
			r.chat = chat
			return chat, nil
		}
		_ = chat.Disconnect()
		return nil, err
	}

	r.chat = chat
	return chat, nil
}

// Current returns the registered chat client without connecting, or nil.
func (r *Registry) Current() *ChatClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chat
}

// Release disconnects and forgets the registered chat client. Safe to call
// repeatedly; releasing an empty registry is a no-op.
func (r *Registry) Release() {
	r.mu.Lock()
	chat := r.chat
	r.chat = nil
	r.mu.Unlock()

	if chat != nil {
		_ = chat.Disconnect()
	}
}

func (r *Registry) logger() *slog.Logger {
	if r.config != nil && r.config.Logger != nil {
		return r.config.Logger
	}
	return nil
}
