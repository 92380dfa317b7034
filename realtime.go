package karhebti

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// chatNamespace is the websocket path dedicated to chat traffic.
const chatNamespace = "/chat"

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the live-channel client.
type RealtimeConfig struct {
	AutoReconnect      bool
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	HTTPClient         *http.Client
	Logger             *slog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 5 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ConnectionState represents the live-channel connection state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay time.Duration
	maxDelay  time.Duration

	mu          sync.Mutex
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay: config.ReconnectBaseDelay,
		maxDelay:  config.ReconnectMaxDelay,
	}
}

func (r *reconnector) markConnected() {
	r.mu.Lock()
	r.connectedAt = time.Now()
	r.mu.Unlock()
}

func (r *reconnector) nextDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// ChatClient
// ============================================================================

// ChatClient owns the lifecycle of exactly one live channel to the chat
// backend: connect with a bearer handshake, automatic reconnection with
// exponential backoff, join replay after reconnect, and dispatch of inbound
// events through the Router.
//
// Inbound frames are posted onto a single-consumer channel drained by one
// router goroutine, so inbound events are dispatched one at a time. State,
// auth, and typing-expiry callbacks fire from other goroutines; see
// ChatHandlers.
type ChatClient struct {
	baseURL string
	tokens  TokenProvider
	config  *RealtimeConfig
	router  *Router
	logger  *slog.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnectionState
	intentionalClose bool
	reconnecting     bool
	cancelFn         context.CancelFunc

	joins  *joinTracker
	recon  *reconnector
	events chan Envelope
}

// NewChatClient creates a live-channel client. The router receives every
// inbound event; config may be nil for defaults. Call Connect to establish
// the channel.
func NewChatClient(baseURL string, tokens TokenProvider, router *Router, config *RealtimeConfig) *ChatClient {
	var cfg RealtimeConfig
	if config != nil {
		cfg = *config
	} else {
		cfg = RealtimeConfig{AutoReconnect: true}
	}
	cfg.defaults()

	return &ChatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		config:  &cfg,
		router:  router,
		logger:  cfg.Logger,
		state:   StateDisconnected,
		joins:   newJoinTracker(),
		recon:   newReconnector(&cfg),
		events:  make(chan Envelope, 64),
	}
}

// Router returns the router wired to this client.
func (c *ChatClient) Router() *Router { return c.router }

// Store returns the message store fed by this client's router.
func (c *ChatClient) Store() *MessageStore { return c.router.Store() }

// State returns the current connection state.
func (c *ChatClient) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the live channel is currently up. The value is
// a best-effort snapshot; it can go stale the moment it is read.
func (c *ChatClient) IsConnected() bool {
	return c.State() == StateConnected
}

// PendingJoins returns the conversation ids queued for join replay, in
// request order.
func (c *ChatClient) PendingJoins() []string { return c.joins.pendingIDs() }

// ActiveJoins returns the conversation ids with a live subscription, in join
// order.
func (c *ChatClient) ActiveJoins() []string { return c.joins.activeIDs() }

// Connect establishes the websocket channel. Already connected or connecting
// is a no-op. The bearer token is re-read from the TokenProvider on every
// attempt. A transport failure starts the backoff reconnect loop (when
// AutoReconnect is set); an authentication rejection does not.
func (c *ChatClient) Connect(ctx context.Context) error {
	err := c.connectOnce(ctx)
	if err != nil && c.config.AutoReconnect && !errors.Is(err, ErrAuthRejected) {
		c.startReconnect()
	}
	return err
}

func (c *ChatClient) connectOnce(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.intentionalClose = false
	c.mu.Unlock()
	c.notifyState(StateConnecting)

	token, err := c.tokens.Token()
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("read token: %w", err)
	}

	wsURL := strings.Replace(c.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += chatNamespace

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: hdr,
		HTTPClient: c.config.HTTPClient,
	})
	if err != nil {
		c.setState(StateDisconnected)
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			authErr := fmt.Errorf("%w (handshake HTTP %d)", ErrAuthRejected, resp.StatusCode)
			if h := c.router.handlers.OnAuthError; h != nil {
				h(authErr)
			}
			return authErr
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	// Disconnect may have run while the dial was in flight; it wins. The
	// state check also covers a competing connect attempt that finished
	// first.
	if c.intentionalClose || c.state != StateConnecting {
		c.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return nil
	}
	c.conn = conn
	c.state = StateConnected
	c.cancelFn = cancel
	c.mu.Unlock()
	c.recon.markConnected()
	c.notifyState(StateConnected)

	go c.routeLoop(connCtx)
	go c.readLoop(connCtx, conn)

	c.replayJoins(connCtx)
	return nil
}

// Disconnect tears the channel down deterministically: loops are cancelled,
// the socket is closed, and no reconnect follows. Safe to call repeatedly
// and from any goroutine.
func (c *ChatClient) Disconnect() error {
	c.mu.Lock()
	c.intentionalClose = true
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	conn := c.conn
	c.conn = nil
	wasDisconnected := c.state == StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	c.router.reset()

	var closeErr error
	if conn != nil {
		closeErr = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if !wasDisconnected {
		c.notifyState(StateDisconnected)
	}
	return closeErr
}

// ============================================================================
// Subscriptions & outbound events
// ============================================================================

// JoinConversation subscribes to a conversation's live events. While the
// channel is down the join is queued and replayed on the next transition
// into the connected state, preserving request order.
func (c *ChatClient) JoinConversation(ctx context.Context, conversationID string) error {
	if !c.joins.request(conversationID, c.IsConnected()) {
		return nil
	}
	if err := c.send(ctx, "join_conversation", map[string]string{"conversationId": conversationID}); err != nil {
		// The connection dropped between the state check and the write;
		// requeue so the reconnect replay picks it up.
		c.joins.suspend()
		return err
	}
	return nil
}

// LeaveConversation unsubscribes from a conversation. The id is always
// removed from the pending queue, even while disconnected.
func (c *ChatClient) LeaveConversation(ctx context.Context, conversationID string) error {
	if !c.joins.drop(conversationID, c.IsConnected()) {
		return nil
	}
	return c.send(ctx, "leave_conversation", map[string]string{"conversationId": conversationID})
}

// SendChatMessage sends a message over the live channel.
func (c *ChatClient) SendChatMessage(ctx context.Context, conversationID, content string) error {
	return c.send(ctx, "send_message", map[string]string{
		"conversationId": conversationID,
		"content":        content,
	})
}

// SendTyping notifies the conversation that the user is typing.
func (c *ChatClient) SendTyping(ctx context.Context, conversationID string) error {
	return c.send(ctx, "typing", map[string]string{"conversationId": conversationID})
}

func (c *ChatClient) send(ctx context.Context, event string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}
	b, err := json.Marshal(command{Event: event, Data: data})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func (c *ChatClient) replayJoins(ctx context.Context) {
	for _, id := range c.joins.drain() {
		if err := c.send(ctx, "join_conversation", map[string]string{"conversationId": id}); err != nil {
			c.logger.Warn("join replay failed", "conversationId", id, "error", err)
		}
	}
}

// ============================================================================
// Loops
// ============================================================================

func (c *ChatClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentionalClose
			c.mu.Unlock()
			if intentional || ctx.Err() != nil {
				return
			}
			c.handleConnectionLoss(err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		select {
		case c.events <- env:
		case <-ctx.Done():
			return
		}
	}
}

func (c *ChatClient) routeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.events:
			c.router.Route(env)
		}
	}
}

func (c *ChatClient) handleConnectionLoss(cause error) {
	c.mu.Lock()
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	c.logger.Warn("live channel lost", "error", cause)
	c.joins.suspend()
	c.router.reset()
	c.notifyState(StateDisconnected)

	if c.config.AutoReconnect {
		c.startReconnect()
	}
}

func (c *ChatClient) startReconnect() {
	c.mu.Lock()
	if c.reconnecting || c.intentionalClose {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()
		}()
		for {
			delay := c.recon.nextDelay()
			c.setState(StateReconnecting)
			time.Sleep(delay)

			c.mu.Lock()
			stop := c.intentionalClose
			c.mu.Unlock()
			if stop {
				return
			}

			err := c.connectOnce(context.Background())
			if err == nil || errors.Is(err, ErrAuthRejected) {
				return
			}
			c.logger.Warn("reconnect attempt failed", "error", err)
		}
	}()
}

func (c *ChatClient) setState(state ConnectionState) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()
	if changed {
		c.notifyState(state)
	}
}

func (c *ChatClient) notifyState(state ConnectionState) {
	if h := c.router.handlers.OnStateChange; h != nil {
		h(state)
	}
}
