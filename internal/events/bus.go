// ABOUTME: In-process publish/subscribe bus with bounded event history
// ABOUTME: Decouples transport handlers from coordinator business logic

package events

import (
	"log/slog"
	"sync"
	"time"
)

// historyCapacity bounds the retained event ring; oldest entries are evicted
// first.
const historyCapacity = 1000

// Kind identifies an event category. The known kinds form a closed set;
// ad-hoc kinds go through Custom so they are always namespaced.
type Kind string

const (
	KindAgentCheckin      Kind = "agent.checkin"
	KindAgentRegistered   Kind = "agent.registered"
	KindAgentDisconnected Kind = "agent.disconnected"
	KindWorkQueued        Kind = "work.queued"
	KindWorkSent          Kind = "work.sent"
	KindWorkCompleted     Kind = "work.completed"
	KindListenerStarted   Kind = "listener.started"
	KindListenerStopped   Kind = "listener.stopped"
	KindListenerError     Kind = "listener.error"
	KindServerStarted     Kind = "server.started"
	KindServerStopped     Kind = "server.stopped"
)

// Custom returns a namespaced Kind for event categories outside the closed
// set.
func Custom(name string) Kind {
	return Kind("custom." + name)
}

// Event is one immutable published record.
type Event struct {
	Kind      Kind
	Payload   any
	Source    string
	Timestamp time.Time
}

// Handler receives published events. Handlers run inline on the publishing
// goroutine, in subscription order; a long-running handler should hand off to
// its own goroutine rather than block the publisher.
type Handler func(Event)

// Subscription identifies one registered handler so it can be removed later.
// Duplicate handlers are allowed; each Subscribe call returns a distinct
// subscription.
type Subscription struct {
	kind Kind
	id   uint64
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus is an in-process event bus. Construct one per process and pass it into
// every component that needs it.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Kind][]subscriber
	history     []Event
	historyPos  int
	historyFull bool
	nextID      uint64
	logger      *slog.Logger
}

// NewBus creates a bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[Kind][]subscriber),
		history:     make([]Event, historyCapacity),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers a handler for a kind and returns its subscription
// handle.
func (b *Bus) Subscribe(kind Kind, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := Subscription{kind: kind, id: b.nextID}
	b.subscribers[kind] = append(b.subscribers[kind], subscriber{id: sub.id, handler: handler})

	b.logger.Debug("subscriber added", "kind", string(kind), "sub_id", sub.id)
	return sub
}

// Unsubscribe removes the handler registered under the subscription.
// Unknown subscriptions are a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sub.kind]
	for i, s := range subs {
		if s.id == sub.id {
			b.subscribers[sub.kind] = append(subs[:i:i], subs[i+1:]...)
			b.logger.Debug("subscriber removed", "kind", string(sub.kind), "sub_id", sub.id)
			return
		}
	}
}

// Publish appends the event to the history ring and invokes every handler
// subscribed to its kind, in subscription order. A panicking handler is
// recovered and logged; remaining handlers still run and Publish returns
// normally.
func (b *Bus) Publish(kind Kind, payload any, source string) {
	event := Event{
		Kind:      kind,
		Payload:   payload,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}

	b.mu.Lock()
	b.history[b.historyPos] = event
	b.historyPos = (b.historyPos + 1) % historyCapacity
	if b.historyPos == 0 {
		b.historyFull = true
	}
	// Copy the subscriber list so handlers can subscribe/unsubscribe without
	// deadlocking against the publisher.
	handlers := make([]subscriber, len(b.subscribers[kind]))
	copy(handlers, b.subscribers[kind])
	b.mu.Unlock()

	for _, s := range handlers {
		b.invoke(kind, s, event)
	}
}

func (b *Bus) invoke(kind Kind, s subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"kind", string(kind), "sub_id", s.id, "panic", r)
		}
	}()
	s.handler(event)
}

// History returns retained events, oldest first. A zero kind matches all
// kinds; limit <= 0 returns everything retained.
func (b *Bus) History(kind Kind, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var ordered []Event
	if b.historyFull {
		ordered = append(ordered, b.history[b.historyPos:]...)
		ordered = append(ordered, b.history[:b.historyPos]...)
	} else {
		ordered = append(ordered, b.history[:b.historyPos]...)
	}

	if kind != "" {
		filtered := ordered[:0]
		for _, e := range ordered {
			if e.Kind == kind {
				filtered = append(filtered, e)
			}
		}
		ordered = filtered
	}

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// SubscriberCount reports how many handlers are registered for a kind.
func (b *Bus) SubscriberCount(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[kind])
}
