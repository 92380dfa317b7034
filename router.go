package karhebti

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing indicator stays live before the
// router auto-clears it.
const DefaultTypingTTL = 3 * time.Second

// ============================================================================
// Handlers
// ============================================================================

// ChatHandlers are the consumer callbacks the router and the chat client
// dispatch into. Any field may be nil.
//
// Inbound events (messages, notifications, typing, presence) are dispatched
// sequentially on the router goroutine, but OnStateChange and OnAuthError
// fire from connection-management goroutines and the typing-expiry
// OnTyping(…, false) fires from a timer goroutine. Handlers must therefore
// be safe for concurrent use and must not block for long.
type ChatHandlers struct {
	// OnMessage fires once per newly stored message, on any conversation.
	OnMessage func(msg ChatMessage)

	// OnLiveUpdate fires when the active conversation has fresh content in
	// the message store and the consumer should re-read its snapshot.
	OnLiveUpdate func(conversationID string)

	// OnNotification receives system notifications for local display.
	OnNotification func(n Notification)

	// OnTyping reports typing state for a user in a conversation. The false
	// call arrives automatically once the indicator expires.
	OnTyping func(userID, conversationID string, typing bool)

	// OnPresence reports a user going online or offline.
	OnPresence func(userID string, online bool)

	// OnStateChange reports live-channel connectivity transitions. This is
	// the only failure signal surfaced for transport problems.
	OnStateChange func(state ConnectionState)

	// OnAuthError fires when the handshake is rejected; the client does not
	// retry until the credential is refreshed and Connect is called again.
	OnAuthError func(err error)
}

// ============================================================================
// Event decoding
// ============================================================================

type eventKind int

const (
	eventUnknown eventKind = iota
	eventNewMessage
	eventNotification
	eventUserTyping
	eventUserOnline
	eventUserOffline
	eventJoinedConversation
)

// serverEvent is the tagged form of an inbound envelope, decoded exactly once
// at the transport boundary. Unrecognized shapes fall through as
// eventUnknown instead of propagating an error.
type serverEvent struct {
	kind           eventKind
	message        ChatMessage
	notification   Notification
	userID         string
	conversationID string
}

func decodeServerEvent(env Envelope) (serverEvent, error) {
	switch env.Event {
	case "new_message":
		var msg ChatMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return serverEvent{}, fmt.Errorf("decode new_message: %w", err)
		}
		if msg.ID == "" || msg.ConversationID == "" {
			return serverEvent{}, fmt.Errorf("new_message missing id or conversationId")
		}
		return serverEvent{kind: eventNewMessage, message: msg}, nil

	case "notification":
		var n Notification
		if err := json.Unmarshal(env.Data, &n); err != nil {
			return serverEvent{}, fmt.Errorf("decode notification: %w", err)
		}
		return serverEvent{kind: eventNotification, notification: n}, nil

	case "user_typing":
		var p struct {
			UserID         string `json:"userId"`
			ConversationID string `json:"conversationId"`
		}
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return serverEvent{}, fmt.Errorf("decode user_typing: %w", err)
		}
		return serverEvent{kind: eventUserTyping, userID: p.UserID, conversationID: p.ConversationID}, nil

	case "user_online", "user_offline":
		var p struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return serverEvent{}, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		kind := eventUserOnline
		if env.Event == "user_offline" {
			kind = eventUserOffline
		}
		return serverEvent{kind: kind, userID: p.UserID}, nil

	case "joined_conversation":
		var p struct {
			ConversationID string `json:"conversationId"`
		}
		// Ack payload shape varies between backend versions; tolerate it.
		_ = json.Unmarshal(env.Data, &p)
		return serverEvent{kind: eventJoinedConversation, conversationID: p.ConversationID}, nil
	}

	return serverEvent{kind: eventUnknown}, nil
}

// ============================================================================
// Router
// ============================================================================

// Router classifies inbound server events and dispatches each to the message
// store, the notification display handler, or the typing/presence consumers.
// It is the single consumer of the chat client's event channel, so inbound
// events are dispatched one at a time; the typing-expiry clear runs off a
// timer goroutine.
type Router struct {
	store    *MessageStore
	handlers *ChatHandlers
	logger   *slog.Logger

	typingTTL time.Duration

	mu           sync.Mutex
	activeConv   string
	typingTimers map[string]*time.Timer
}

// NewRouter creates a router dispatching into handlers. handlers may be nil,
// in which case events only feed the store.
func NewRouter(store *MessageStore, handlers *ChatHandlers, logger *slog.Logger) *Router {
	if handlers == nil {
		handlers = &ChatHandlers{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:        store,
		handlers:     handlers,
		logger:       logger,
		typingTTL:    DefaultTypingTTL,
		typingTimers: make(map[string]*time.Timer),
	}
}

// Store returns the message store this router feeds.
func (r *Router) Store() *MessageStore { return r.store }

// SetActiveConversation scopes the live-update signal to the conversation
// currently open in the UI. Pass "" when no conversation is open.
func (r *Router) SetActiveConversation(conversationID string) {
	r.mu.Lock()
	r.activeConv = conversationID
	r.mu.Unlock()
}

// ActiveConversation returns the currently scoped conversation id.
func (r *Router) ActiveConversation() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeConv
}

// Route decodes and dispatches one inbound envelope. Decode failures are
// logged and dropped; they never propagate.
func (r *Router) Route(env Envelope) {
	ev, err := decodeServerEvent(env)
	if err != nil {
		r.logger.Warn("dropping malformed event", "event", env.Event, "error", err)
		return
	}

	switch ev.kind {
	case eventNewMessage:
		r.routeMessage(ev.message)

	case eventNotification:
		r.routeNotification(ev.notification)

	case eventUserTyping:
		r.routeTyping(ev.userID, ev.conversationID)

	case eventUserOnline:
		if r.handlers.OnPresence != nil {
			r.handlers.OnPresence(ev.userID, true)
		}

	case eventUserOffline:
		if r.handlers.OnPresence != nil {
			r.handlers.OnPresence(ev.userID, false)
		}

	case eventJoinedConversation:
		r.logger.Debug("join acknowledged", "conversationId", ev.conversationID)

	default:
		r.logger.Warn("dropping unrecognized event", "event", env.Event)
	}
}

func (r *Router) routeMessage(msg ChatMessage) {
	if !r.store.Insert(msg.ConversationID, msg) {
		// Already delivered via the other transport.
		return
	}
	if r.handlers.OnMessage != nil {
		r.handlers.OnMessage(msg)
	}
	if r.handlers.OnLiveUpdate != nil && msg.ConversationID == r.ActiveConversation() {
		r.handlers.OnLiveUpdate(msg.ConversationID)
	}
}

func (r *Router) routeNotification(n Notification) {
	if r.handlers.OnNotification != nil {
		r.handlers.OnNotification(n)
	}
	// A new_message notification for the open conversation doubles as a
	// refresh trigger, covering live events the channel may have missed.
	if n.Type == "new_message" {
		if conv := n.ConversationID(); conv != "" && conv == r.ActiveConversation() {
			if r.handlers.OnLiveUpdate != nil {
				r.handlers.OnLiveUpdate(conv)
			}
		}
	}
}

func (r *Router) routeTyping(userID, conversationID string) {
	if r.handlers.OnTyping == nil {
		return
	}
	r.handlers.OnTyping(userID, conversationID, true)

	key := conversationID + "\x00" + userID
	r.mu.Lock()
	if t, ok := r.typingTimers[key]; ok {
		t.Stop()
	}
	r.typingTimers[key] = time.AfterFunc(r.typingTTL, func() {
		r.mu.Lock()
		delete(r.typingTimers, key)
		r.mu.Unlock()
		r.handlers.OnTyping(userID, conversationID, false)
	})
	r.mu.Unlock()
}

// reset stops outstanding typing timers. Called on disconnect so stale
// indicators do not fire after teardown.
func (r *Router) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, t := range r.typingTimers {
		t.Stop()
		delete(r.typingTimers, key)
	}
}
