package karhebti

import "sync"

// ============================================================================
// Subscription Tracker
// ============================================================================

// joinTracker records which conversations the client wants to observe.
//
// Joins requested while the connection is down are queued, never dropped; on
// every transition into the connected state the queue is drained in request
// order and cleared. When the connection is lost, active subscriptions are
// moved back into the queue (original join order preserved) so a reconnect
// replays them. The server treats repeated joins as idempotent.
type joinTracker struct {
	mu      sync.Mutex
	pending []string
	queued  map[string]struct{}
	active  []string
	live    map[string]struct{}
}

func newJoinTracker() *joinTracker {
	return &joinTracker{
		queued: make(map[string]struct{}),
		live:   make(map[string]struct{}),
	}
}

// request registers intent to join a conversation. It reports whether the
// caller should emit the join now (connected) or whether it was queued.
func (j *joinTracker) request(conversationID string, connected bool) (emitNow bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if connected {
		j.markActiveLocked(conversationID)
		return true
	}
	if _, dup := j.queued[conversationID]; !dup {
		j.queued[conversationID] = struct{}{}
		j.pending = append(j.pending, conversationID)
	}
	return false
}

// drop removes a conversation from both the pending queue and the active set.
// It reports whether a leave event should be emitted (only when connected and
// the subscription was live).
func (j *joinTracker) drop(conversationID string, connected bool) (emitLeave bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.queued[conversationID]; ok {
		delete(j.queued, conversationID)
		j.pending = removeID(j.pending, conversationID)
	}
	if _, ok := j.live[conversationID]; ok {
		delete(j.live, conversationID)
		j.active = removeID(j.active, conversationID)
		return connected
	}
	return false
}

// drain consumes the pending queue, marking every entry active. It returns
// the drained ids in request order; the queue is empty afterwards. Called on
// each transition into the connected state.
func (j *joinTracker) drain() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	drained := j.pending
	j.pending = nil
	j.queued = make(map[string]struct{})
	for _, id := range drained {
		j.markActiveLocked(id)
	}
	return drained
}

// suspend moves all active subscriptions back into the pending queue, ahead
// of anything queued meanwhile. Called when the connection is lost.
func (j *joinTracker) suspend() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.active) == 0 {
		return
	}
	merged := make([]string, 0, len(j.active)+len(j.pending))
	for _, id := range j.active {
		if _, dup := j.queued[id]; !dup {
			j.queued[id] = struct{}{}
			merged = append(merged, id)
		}
	}
	j.pending = append(merged, j.pending...)
	j.active = nil
	j.live = make(map[string]struct{})
}

// pendingIDs returns a copy of the queued conversation ids in request order.
func (j *joinTracker) pendingIDs() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.pending))
	copy(out, j.pending)
	return out
}

// activeIDs returns a copy of the live subscription ids in join order.
func (j *joinTracker) activeIDs() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.active))
	copy(out, j.active)
	return out
}

func (j *joinTracker) markActiveLocked(conversationID string) {
	if _, dup := j.live[conversationID]; dup {
		return
	}
	j.live[conversationID] = struct{}{}
	j.active = append(j.active, conversationID)
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
