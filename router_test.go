package karhebti

import (
	"encoding/json"
	"testing"
	"time"
)

func envelope(t *testing.T, event string, data any) Envelope {
	t.Helper()
	b, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal test payload: %v", err)
	}
	return Envelope{Event: event, Data: b}
}

// ============================================================================
// new_message
// ============================================================================

func TestRouterNewMessage(t *testing.T) {
	t.Run("stored and surfaced", func(t *testing.T) {
		var got []ChatMessage
		var updates []string
		r := NewRouter(NewMessageStore(), &ChatHandlers{
			OnMessage:    func(m ChatMessage) { got = append(got, m) },
			OnLiveUpdate: func(conv string) { updates = append(updates, conv) },
		}, nil)
		r.SetActiveConversation("c1")

		r.Route(envelope(t, "new_message", msg("m1", "c1", "hello")))

		if !r.Store().Contains("c1", "m1") {
			t.Fatal("message not stored")
		}
		if len(got) != 1 || got[0].Content != "hello" {
			t.Fatalf("unexpected OnMessage calls: %v", got)
		}
		if len(updates) != 1 || updates[0] != "c1" {
			t.Fatalf("expected live update for c1, got %v", updates)
		}
	})

	t.Run("inactive conversation gets no live update", func(t *testing.T) {
		var updates []string
		r := NewRouter(NewMessageStore(), &ChatHandlers{
			OnLiveUpdate: func(conv string) { updates = append(updates, conv) },
		}, nil)
		r.SetActiveConversation("other")

		r.Route(envelope(t, "new_message", msg("m1", "c1", "hello")))

		if !r.Store().Contains("c1", "m1") {
			t.Fatal("message must still be stored")
		}
		if len(updates) != 0 {
			t.Fatalf("expected no live update, got %v", updates)
		}
	})

	t.Run("duplicate delivery is silent", func(t *testing.T) {
		calls := 0
		r := NewRouter(NewMessageStore(), &ChatHandlers{
			OnMessage: func(ChatMessage) { calls++ },
		}, nil)

		r.Route(envelope(t, "new_message", msg("m1", "c1", "hello")))
		r.Route(envelope(t, "new_message", msg("m1", "c1", "hello")))

		if calls != 1 {
			t.Fatalf("expected 1 OnMessage call, got %d", calls)
		}
	})

	t.Run("missing id dropped", func(t *testing.T) {
		r := NewRouter(NewMessageStore(), nil, nil)
		r.Route(envelope(t, "new_message", map[string]string{"conversationId": "c1"}))
		if r.Store().Len("c1") != 0 {
			t.Fatal("malformed message must not be stored")
		}
	})

	t.Run("malformed json dropped", func(t *testing.T) {
		r := NewRouter(NewMessageStore(), nil, nil)
		r.Route(Envelope{Event: "new_message", Data: json.RawMessage(`"not an object"`)})
		if r.Store().Len("") != 0 {
			t.Fatal("nothing should be stored")
		}
	})
}

// ============================================================================
// notification
// ============================================================================

func TestRouterNotification(t *testing.T) {
	t.Run("surfaced for display", func(t *testing.T) {
		var got []Notification
		r := NewRouter(NewMessageStore(), &ChatHandlers{
			OnNotification: func(n Notification) { got = append(got, n) },
		}, nil)

		r.Route(envelope(t, "notification", Notification{ID: "n1", Type: "document_expiry", Title: "Assurance"}))

		if len(got) != 1 || got[0].Title != "Assurance" {
			t.Fatalf("unexpected notifications: %v", got)
		}
	})

	t.Run("chat notification refreshes active conversation", func(t *testing.T) {
		var updates []string
		r := NewRouter(NewMessageStore(), &ChatHandlers{
			OnLiveUpdate: func(conv string) { updates = append(updates, conv) },
		}, nil)
		r.SetActiveConversation("c1")

		r.Route(envelope(t, "notification", Notification{
			ID:   "n1",
			Type: "new_message",
			Data: map[string]any{"conversationId": "c1"},
		}))

		if len(updates) != 1 || updates[0] != "c1" {
			t.Fatalf("expected refresh for c1, got %v", updates)
		}
	})

	t.Run("chat notification for other conversation does not refresh", func(t *testing.T) {
		var updates []string
		r := NewRouter(NewMessageStore(), &ChatHandlers{
			OnLiveUpdate: func(conv string) { updates = append(updates, conv) },
		}, nil)
		r.SetActiveConversation("c1")

		r.Route(envelope(t, "notification", Notification{
			ID:   "n1",
			Type: "new_message",
			Data: map[string]any{"conversationId": "c2"},
		}))

		if len(updates) != 0 {
			t.Fatalf("expected no refresh, got %v", updates)
		}
	})
}

// ============================================================================
// typing & presence
// ============================================================================

func TestRouterTyping(t *testing.T) {
	t.Run("indicator set then auto-cleared", func(t *testing.T) {
		type call struct {
			user, conv string
			typing     bool
		}
		calls := make(chan call, 4)
		r := NewRouter(NewMessageStore(), &ChatHandlers{
			OnTyping: func(u, c string, typing bool) { calls <- call{u, c, typing} },
		}, nil)
		r.typingTTL = 20 * time.Millisecond

		r.Route(envelope(t, "user_typing", map[string]string{"userId": "u1", "conversationId": "c1"}))

		first := <-calls
		if !first.typing || first.user != "u1" || first.conv != "c1" {
			t.Fatalf("unexpected first call: %+v", first)
		}

		select {
		case second := <-calls:
			if second.typing {
				t.Fatalf("expected clear call, got %+v", second)
			}
		case <-time.After(time.Second):
			t.Fatal("typing indicator never expired")
		}
	})

	t.Run("repeat extends expiry", func(t *testing.T) {
		calls := make(chan bool, 8)
		r := NewRouter(NewMessageStore(), &ChatHandlers{
			OnTyping: func(_, _ string, typing bool) { calls <- typing },
		}, nil)
		r.typingTTL = 50 * time.Millisecond

		env := envelope(t, "user_typing", map[string]string{"userId": "u1", "conversationId": "c1"})
		r.Route(env)
		<-calls
		time.Sleep(25 * time.Millisecond)
		r.Route(env)
		<-calls

		// The first timer was replaced; no clear fires before the second TTL.
		select {
		case typing := <-calls:
			if typing {
				t.Fatal("unexpected extra typing=true")
			}
		case <-time.After(time.Second):
			t.Fatal("typing indicator never expired")
		}
	})

	t.Run("reset cancels pending clears", func(t *testing.T) {
		calls := make(chan bool, 4)
		r := NewRouter(NewMessageStore(), &ChatHandlers{
			OnTyping: func(_, _ string, typing bool) { calls <- typing },
		}, nil)
		r.typingTTL = 20 * time.Millisecond

		r.Route(envelope(t, "user_typing", map[string]string{"userId": "u1", "conversationId": "c1"}))
		<-calls
		r.reset()

		select {
		case <-calls:
			t.Fatal("clear fired after reset")
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestRouterPresence(t *testing.T) {
	type presence struct {
		user   string
		online bool
	}
	var got []presence
	r := NewRouter(NewMessageStore(), &ChatHandlers{
		OnPresence: func(u string, online bool) { got = append(got, presence{u, online}) },
	}, nil)

	r.Route(envelope(t, "user_online", map[string]string{"userId": "u1"}))
	r.Route(envelope(t, "user_offline", map[string]string{"userId": "u1"}))

	want := []presence{{"u1", true}, {"u1", false}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected presence calls: %v", got)
	}
}

// ============================================================================
// unknown events
// ============================================================================

func TestRouterUnknownEvent(t *testing.T) {
	var messages int
	r := NewRouter(NewMessageStore(), &ChatHandlers{
		OnMessage: func(ChatMessage) { messages++ },
	}, nil)

	r.Route(envelope(t, "totally_new_event", map[string]string{"foo": "bar"}))

	if messages != 0 {
		t.Fatal("unknown event must not reach handlers")
	}
}
