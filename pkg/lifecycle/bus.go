// Package lifecycle delivers document lifecycle notifications (created,
// updated, deleted) to subscribers, either in-process or across instances.
package lifecycle

import (
	"context"
	"sync"
	"time"
)

// Event is a single lifecycle notification. Document holds the persisted
// state of the record the event refers to.
type Event struct {
	Channel  string    `json:"channel"`
	Resource string    `json:"resource"`
	At       time.Time `json:"at"`
	Document any       `json:"document,omitempty"`
}

// Bus transports lifecycle events to subscribers.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, channel string, handler func(Event)) (Subscription, error)
	Close() error
}

// Subscription represents a cancelable bus subscription.
type Subscription interface {
	Close() error
}

// InMemoryBus delivers events synchronously to handlers registered in the
// same process. It is the default bus for a document service instance.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string]map[uint64]func(Event)
	nextID   uint64
}

// NewInMemoryBus creates a local in-memory bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string]map[uint64]func(Event)),
	}
}

// Publish invokes every handler subscribed to the event's channel. The
// handler list is copied before invocation so handlers may unsubscribe
// themselves.
func (b *InMemoryBus) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	handlers := b.handlers[event.Channel]
	copied := make([]func(Event), 0, len(handlers))
	for _, h := range handlers {
		copied = append(copied, h)
	}
	b.mu.RUnlock()

	for _, h := range copied {
		h(event)
	}
	return nil
}

// Subscribe registers a channel handler.
func (b *InMemoryBus) Subscribe(_ context.Context, channel string, handler func(Event)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if b.handlers[channel] == nil {
		b.handlers[channel] = make(map[uint64]func(Event))
	}
	id := b.nextID
	b.handlers[channel][id] = handler
	return &inMemorySubscription{
		closeFn: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers[channel], id)
			if len(b.handlers[channel]) == 0 {
				delete(b.handlers, channel)
			}
		},
	}, nil
}

// Close is a no-op for the in-memory bus.
func (b *InMemoryBus) Close() error {
	return nil
}

type inMemorySubscription struct {
	once    sync.Once
	closeFn func()
}

func (s *inMemorySubscription) Close() error {
	s.once.Do(s.closeFn)
	return nil
}
