// Package broadcast fans conduct events out to in-process subscribers such as
// server-sent event streams.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"example.com/wbgt/internal/observability"
)

const defaultSubscriberCapacity = 64

// Envelope is one event addressed to every subscriber of a conduct.
type Envelope struct {
	ConductID string          `json:"conduct_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	At        time.Time       `json:"at"`
}

// Option customises a Hub.
type Option func(*Hub)

// WithLogger sets the logger used for drop diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithSubscriberCapacity overrides the buffered channel size per subscriber.
func WithSubscriberCapacity(capacity int) Option {
	return func(h *Hub) {
		if capacity > 0 {
			h.capacity = capacity
		}
	}
}

// Hub delivers envelopes to the subscribers of their conduct. Delivery never
// blocks the publisher: a full subscriber loses its oldest envelope.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{}
	capacity    int
	logger      *slog.Logger
}

// NewHub constructs an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subscribers: make(map[string]map[*subscriber]struct{}),
		capacity:    defaultSubscriberCapacity,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscription is an active conduct subscription.
type Subscription struct {
	Events <-chan Envelope
	cancel func()
}

// Close ends the subscription and closes Events. It is safe to call twice.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Subscribe registers for the conduct's envelopes.
func (h *Hub) Subscribe(conductID string) Subscription {
	sub := &subscriber{ch: make(chan Envelope, h.capacity)}

	h.mu.Lock()
	if h.subscribers[conductID] == nil {
		h.subscribers[conductID] = make(map[*subscriber]struct{})
	}
	h.subscribers[conductID][sub] = struct{}{}
	h.mu.Unlock()
	observability.AddSubscribers(1)

	var once sync.Once
	return Subscription{
		Events: sub.ch,
		cancel: func() {
			once.Do(func() { h.remove(conductID, sub) })
		},
	}
}

// Publish delivers env to the conduct's subscribers and reports how many
// received it without displacing anything.
func (h *Hub) Publish(env Envelope) int {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subscribers[env.ConductID]))
	for sub := range h.subscribers[env.ConductID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	clean := 0
	for _, sub := range subs {
		dropped, ok := sub.deliver(env)
		if ok {
			clean++
			continue
		}
		if dropped != nil {
			observability.RecordDropped(dropped.EventType)
			h.logger.Warn("subscriber overflow, dropped oldest envelope",
				slog.String("conduct_id", env.ConductID), slog.String("event_type", dropped.EventType))
		}
	}
	return clean
}

// Subscribers reports the live subscriber count for a conduct.
func (h *Hub) Subscribers(conductID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[conductID])
}

func (h *Hub) remove(conductID string, sub *subscriber) {
	h.mu.Lock()
	if subs := h.subscribers[conductID]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subscribers, conductID)
		}
	}
	h.mu.Unlock()
	sub.close()
	observability.AddSubscribers(-1)
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Envelope
	closed bool
}

// deliver enqueues env. When the buffer is full the oldest envelope is
// displaced and returned.
func (s *subscriber) deliver(env Envelope) (*Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	select {
	case s.ch <- env:
		return nil, true
	default:
	}

	var dropped *Envelope
	select {
	case oldest := <-s.ch:
		dropped = &oldest
	default:
	}
	select {
	case s.ch <- env:
	default:
	}
	return dropped, false
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
