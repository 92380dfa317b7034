package karhebti

import (
	"reflect"
	"testing"
)

// ============================================================================
// request / drain
// ============================================================================

func TestJoinTrackerQueueing(t *testing.T) {
	t.Run("connected join emits immediately", func(t *testing.T) {
		j := newJoinTracker()
		if !j.request("c1", true) {
			t.Fatal("expected immediate emit while connected")
		}
		if got := j.activeIDs(); !reflect.DeepEqual(got, []string{"c1"}) {
			t.Fatalf("unexpected active set: %v", got)
		}
	})

	t.Run("disconnected join is queued", func(t *testing.T) {
		j := newJoinTracker()
		if j.request("c1", false) {
			t.Fatal("expected queue while disconnected")
		}
		if got := j.pendingIDs(); !reflect.DeepEqual(got, []string{"c1"}) {
			t.Fatalf("unexpected pending queue: %v", got)
		}
	})

	t.Run("duplicate queued join collapses", func(t *testing.T) {
		j := newJoinTracker()
		j.request("c1", false)
		j.request("c1", false)
		if got := j.pendingIDs(); len(got) != 1 {
			t.Fatalf("expected 1 pending entry, got %v", got)
		}
	})

	t.Run("drain preserves request order and clears", func(t *testing.T) {
		j := newJoinTracker()
		j.request("x", false)
		j.request("y", false)

		drained := j.drain()
		if !reflect.DeepEqual(drained, []string{"x", "y"}) {
			t.Fatalf("expected [x y], got %v", drained)
		}
		if len(j.pendingIDs()) != 0 {
			t.Fatal("queue must be empty after drain")
		}
		if got := j.activeIDs(); !reflect.DeepEqual(got, []string{"x", "y"}) {
			t.Fatalf("drained joins must become active, got %v", got)
		}
	})

	t.Run("drain on empty queue", func(t *testing.T) {
		j := newJoinTracker()
		if got := j.drain(); len(got) != 0 {
			t.Fatalf("expected nothing to drain, got %v", got)
		}
	})
}

// ============================================================================
// drop
// ============================================================================

func TestJoinTrackerDrop(t *testing.T) {
	t.Run("leave removes a queued join", func(t *testing.T) {
		j := newJoinTracker()
		j.request("c1", false)
		if j.drop("c1", false) {
			t.Fatal("dropping a queued join must not emit a leave")
		}
		if len(j.pendingIDs()) != 0 {
			t.Fatal("queued join must be removed")
		}
		if got := j.drain(); len(got) != 0 {
			t.Fatalf("dropped join replayed: %v", got)
		}
	})

	t.Run("leave of a live join emits while connected", func(t *testing.T) {
		j := newJoinTracker()
		j.request("c1", true)
		if !j.drop("c1", true) {
			t.Fatal("expected leave emit for live subscription")
		}
		if len(j.activeIDs()) != 0 {
			t.Fatal("live join must be removed")
		}
	})

	t.Run("leave of unknown id is a no-op", func(t *testing.T) {
		j := newJoinTracker()
		if j.drop("nope", true) {
			t.Fatal("unknown id must not emit")
		}
	})
}

// ============================================================================
// suspend (reconnect replay)
// ============================================================================

func TestJoinTrackerSuspend(t *testing.T) {
	t.Run("active joins replay in join order", func(t *testing.T) {
		j := newJoinTracker()
		j.request("a", true)
		j.request("b", true)

		j.suspend()
		if len(j.activeIDs()) != 0 {
			t.Fatal("suspend must clear the active set")
		}
		if got := j.drain(); !reflect.DeepEqual(got, []string{"a", "b"}) {
			t.Fatalf("expected replay [a b], got %v", got)
		}
	})

	t.Run("suspended joins replay before newly queued", func(t *testing.T) {
		j := newJoinTracker()
		j.request("live", true)
		j.request("queued", false)

		j.suspend()
		if got := j.drain(); !reflect.DeepEqual(got, []string{"live", "queued"}) {
			t.Fatalf("expected [live queued], got %v", got)
		}
	})

	t.Run("repeated suspend keeps one copy", func(t *testing.T) {
		j := newJoinTracker()
		j.request("c1", true)
		j.suspend()
		j.suspend()
		if got := j.pendingIDs(); !reflect.DeepEqual(got, []string{"c1"}) {
			t.Fatalf("expected single pending entry, got %v", got)
		}
	})
}
