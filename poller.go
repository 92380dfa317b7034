package karhebti

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is how often the fallback poller fetches history while
// the live channel is degraded.
const DefaultPollInterval = 3 * time.Second

// ============================================================================
// Fallback Poller
// ============================================================================

// Poller periodically fetches one conversation's message history over REST
// and merges it into the shared message store. It exists as a fallback while
// the live channel is down; because inserts are deduplicated, running it
// alongside a healthy channel is harmless, only wasteful.
type Poller struct {
	client         *Client
	store          *MessageStore
	conversationID string
	interval       time.Duration
	logger         *slog.Logger

	// onUpdate fires from the poll goroutine whenever a fetch stored at
	// least one new message.
	onUpdate func(conversationID string)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollInterval overrides the fetch cadence.
func WithPollInterval(interval time.Duration) PollerOption {
	return func(p *Poller) { p.interval = interval }
}

// WithPollLogger sets the poller's logger.
func WithPollLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = logger }
}

// WithPollUpdateFunc registers a callback invoked after any poll that stored
// new messages.
func WithPollUpdateFunc(fn func(conversationID string)) PollerOption {
	return func(p *Poller) { p.onUpdate = fn }
}

// NewPoller creates a poller for one conversation. It does not start polling;
// call Start.
func NewPoller(client *Client, store *MessageStore, conversationID string, opts ...PollerOption) *Poller {
	p := &Poller{
		client:         client,
		store:          store,
		conversationID: conversationID,
		interval:       DefaultPollInterval,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins the polling loop. Calling Start on a running poller is a
// no-op. The first fetch happens immediately, then every interval.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(ctx, p.done)
}

// Stop halts the loop and waits for any in-flight fetch to finish. After
// Stop returns, no further poll executes and no further callback fires.
// Safe to call repeatedly and before Start.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the polling loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	msgs, err := p.client.Messages(ctx, p.conversationID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// A failed cycle is not fatal; the next tick retries.
		p.logger.Warn("message poll failed", "conversationId", p.conversationID, "error", err)
		return
	}

	stored := 0
	for _, m := range msgs {
		if p.store.Insert(p.conversationID, m) {
			stored++
		}
	}
	if stored > 0 && p.onUpdate != nil && ctx.Err() == nil {
		p.onUpdate(p.conversationID)
	}
}
