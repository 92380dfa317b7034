package karhebti

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error returned by the Karhebti backend.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// ============================================================================
// Chat Types
// ============================================================================

// ChatMessage is a single conversation message. Messages are immutable once
// received; the server assigns the identifier.
type ChatMessage struct {
	ID             string `json:"_id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content"`
	IsRead         bool   `json:"isRead,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

// UserSummary is the embedded user shape returned inside conversations.
type UserSummary struct {
	ID        string `json:"_id"`
	FirstName string `json:"prenom,omitempty"`
	LastName  string `json:"nom,omitempty"`
	Email     string `json:"email,omitempty"`
}

// CarSummary is the embedded listing shape returned inside marketplace
// conversations.
type CarSummary struct {
	ID    string `json:"_id"`
	Make  string `json:"marque,omitempty"`
	Model string `json:"modele,omitempty"`
	Year  int    `json:"annee,omitempty"`
}

// Conversation is a marketplace conversation between a buyer and a seller.
type Conversation struct {
	ID            string       `json:"_id"`
	Car           *CarSummary  `json:"carId,omitempty"`
	Buyer         *UserSummary `json:"buyerId,omitempty"`
	Seller        *UserSummary `json:"sellerId,omitempty"`
	Participants  []string     `json:"participants,omitempty"`
	Status        string       `json:"status,omitempty"`
	LastMessage   string       `json:"lastMessage,omitempty"`
	LastMessageAt string       `json:"lastMessageAt,omitempty"`
	UnreadCount   int          `json:"unreadCount,omitempty"`
}

// ============================================================================
// Notification Types
// ============================================================================

// Notification is a server-side notification (chat activity, document
// expiration, reservation updates). Type discriminates the payload carried in
// Data.
type Notification struct {
	ID        string         `json:"_id"`
	Type      string         `json:"type"`
	Title     string         `json:"titre,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Read      bool           `json:"lu,omitempty"`
	CreatedAt string         `json:"createdAt,omitempty"`
}

// ConversationID extracts the conversation identifier a notification refers
// to, or "" if it carries none.
func (n *Notification) ConversationID() string {
	if n.Data == nil {
		return ""
	}
	id, _ := n.Data["conversationId"].(string)
	return id
}

// ============================================================================
// Wire Envelope
// ============================================================================

// Envelope is the wire format for all live-channel events, both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// command is a client-to-server event before encoding.
type command struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}
