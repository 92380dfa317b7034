package karhebti

import "sync"

// ============================================================================
// MessageStore
// ============================================================================

// MessageStore is an append-only, deduplicated cache of conversation
// messages. Both the live channel and the fallback poller insert through it,
// which is what makes the two paths safe to run concurrently: a message id
// already present for a conversation is absorbed silently.
//
// All access goes through one store-wide mutex. Snapshots are copies, so a
// consumer can iterate while either producer keeps inserting.
type MessageStore struct {
	mu       sync.Mutex
	messages map[string][]ChatMessage
	seen     map[string]map[string]struct{}
}

// NewMessageStore creates an empty message store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages: make(map[string][]ChatMessage),
		seen:     make(map[string]map[string]struct{}),
	}
}

// Insert appends a message to its conversation unless a message with the same
// id is already stored there. It reports whether the message was new.
// Messages without an id are rejected; the server always assigns one.
func (s *MessageStore) Insert(conversationID string, msg ChatMessage) bool {
	if msg.ID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.seen[conversationID]
	if ids == nil {
		ids = make(map[string]struct{})
		s.seen[conversationID] = ids
	}
	if _, dup := ids[msg.ID]; dup {
		return false
	}

	ids[msg.ID] = struct{}{}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return true
}

// Snapshot returns the messages of a conversation in insertion order. The
// returned slice is a copy and never mutated by the store.
func (s *MessageStore) Snapshot(conversationID string) []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[conversationID]
	out := make([]ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Len returns the number of messages stored for a conversation.
func (s *MessageStore) Len(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[conversationID])
}

// Contains reports whether a message id is stored for a conversation.
func (s *MessageStore) Contains(conversationID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[conversationID][messageID]
	return ok
}
