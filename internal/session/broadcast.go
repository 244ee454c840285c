// ABOUTME: In-memory fan-out of session lifecycle events to in-process subscribers
// ABOUTME: Lets runtimes react when a key moves to a new session id without polling the store

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-sessions/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// AllKeys subscribes to events for every session key.
	AllKeys = "*"
)

// Broadcaster provides pub/sub for lifecycle events keyed by session key.
// Sends never block: events are dropped for subscribers whose buffers are full.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.LifecycleEvent // sessionKey -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *store.LifecycleEvent),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for events on sessionKey, or on every key with AllKeys.
// The subscription is removed and its channel closed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionKey string) (<-chan *store.LifecycleEvent, string) {
	subID := uuid.NewString()
	ch := make(chan *store.LifecycleEvent, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[sessionKey]; !ok {
		b.subscribers[sessionKey] = make(map[string]chan *store.LifecycleEvent)
	}
	b.subscribers[sessionKey][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "session_key", sessionKey, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(sessionKey, subID)
	}()

	return ch, subID
}

// Publish delivers ev to subscribers of its session key and to AllKeys subscribers.
func (b *Broadcaster) Publish(ev *store.LifecycleEvent) {
	b.mu.RLock()
	var targets []chan *store.LifecycleEvent
	for _, key := range []string{ev.SessionKey, AllKeys} {
		for _, ch := range b.subscribers[key] {
			targets = append(targets, ch)
		}
	}

	// Sends happen under the read lock so Unsubscribe cannot close a channel mid-send.
	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"session_key", ev.SessionKey,
				"session_id", ev.SessionID)
		}
	}
	b.mu.RUnlock()
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(sessionKey, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sessionKey]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, sessionKey)
	}

	b.logger.Debug("subscriber removed", "session_key", sessionKey, "sub_id", subID)
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}
	b.closed = true
}
