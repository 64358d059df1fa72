package store

import (
	"sync"

	"stockfolio/internal/models"
)

// HubConfig holds configuration for a change-event hub.
type HubConfig struct {
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
	// Replay controls whether a new subscriber immediately receives the
	// most recently published event.
	Replay bool
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SubscriberBufferSize: 64,
		Replay:               true,
	}
}

// Hub fans change events for one entity type out to multiple subscribers.
// Sends are non-blocking so a slow subscriber cannot stall the writer; its
// events are dropped and counted instead.
type Hub[T any] struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers []*subscriber[T]
	last        *models.Event[T]
	closed      bool

	eventsPublished uint64
	eventsDropped   uint64
}

type subscriber[T any] struct {
	ch      chan models.Event[T]
	dropped int
}

// NewHub creates a new event hub with default configuration.
func NewHub[T any]() *Hub[T] {
	return NewHubWithConfig[T](DefaultHubConfig())
}

// NewHubWithConfig creates a new event hub with custom configuration.
func NewHubWithConfig[T any](config HubConfig) *Hub[T] {
	return &Hub[T]{config: config}
}

// Subscribe registers a subscriber and returns its event channel. When
// replay is enabled the latest published event, if any, is delivered first.
func (h *Hub[T]) Subscribe() <-chan models.Event[T] {
	ch := make(chan models.Event[T], h.config.SubscriberBufferSize)
	sub := &subscriber[T]{ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return ch
	}

	h.subscribers = append(h.subscribers, sub)
	if h.config.Replay && h.last != nil {
		ch <- *h.last
	}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub[T]) Unsubscribe(ch <-chan models.Event[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, sub := range h.subscribers {
		if sub.ch == ch {
			close(sub.ch)
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to all subscribers without blocking.
func (h *Hub[T]) Publish(event models.Event[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.last = &event
	h.eventsPublished++

	for _, sub := range h.subscribers {
		select {
		case sub.ch <- event:
		default:
			// Skip slow subscribers - non-blocking
			sub.dropped++
			h.eventsDropped++
		}
	}
}

// Close closes all subscriber channels. Further publishes are no-ops.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for _, sub := range h.subscribers {
		close(sub.ch)
	}
	h.subscribers = nil
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub[T]) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Metrics returns hub counters.
func (h *Hub[T]) Metrics() (published, dropped uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.eventsPublished, h.eventsDropped
}
