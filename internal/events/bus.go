// Package events provides the in-process mutation event bus. Publishers emit
// events after their database transaction commits; subscribers are
// registered once at startup. The server registers only the cache
// invalidator; the audit recorder does not subscribe to the bus.
package events

import (
	"sync"

	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// Handler processes one mutation event. Handlers run on the publisher's
// goroutine and must not block: queue or fire-and-forget.
type Handler func(event models.MutationEvent)

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(event models.MutationEvent)
}

// Bus is a process-local publish/subscribe dispatcher with at-most-once
// delivery. Subscription happens at startup; Publish is safe for concurrent
// use.
type Bus struct {
	mu       sync.RWMutex
	handlers map[models.MutationEventType][]Handler
	all      []Handler
	logger   logger.Logger
}

func NewBus(log logger.Logger) *Bus {
	return &Bus{
		handlers: make(map[models.MutationEventType][]Handler),
		logger:   log,
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType models.MutationEventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish dispatches the event to subscribers synchronously, so a cache purge
// completes before the mutating call returns. A panicking handler is isolated
// from the publisher and from other handlers.
func (b *Bus) Publish(event models.MutationEvent) {
	b.mu.RLock()
	typed := b.handlers[event.Type]
	all := b.all
	b.mu.RUnlock()

	for _, h := range typed {
		b.dispatch(h, event)
	}
	for _, h := range all {
		b.dispatch(h, event)
	}
}

func (b *Bus) dispatch(h Handler, event models.MutationEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event_type", event.Type, "panic", r)
		}
	}()
	h(event)
}
