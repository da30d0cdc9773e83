package events

import (
	"sync"
	"time"

	"weave/internal/shared/logging"
)

// Handler receives published events. Handlers must not block; slow consumers
// queue on their own side (the canvas fabric buffers per connection).
type Handler func(Event)

// Bus is a synchronous fan-out. Publish delivers to every subscriber in
// registration order, preserving per-run event ordering.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
	logger   logging.Logger
}

// NewBus creates an empty bus.
func NewBus(logger logging.Logger) *Bus {
	return &Bus{
		handlers: make(map[int]Handler),
		logger:   logging.OrNop(logger),
	}
}

// Subscribe registers a handler and returns its cancel function.
func (b *Bus) Subscribe(handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	b.mu.Lock()
	token := b.nextID
	b.nextID++
	b.handlers[token] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, token)
		b.mu.Unlock()
	}
}

// Publish stamps and delivers the event to every subscriber, in token order.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	tokens := make([]int, 0, len(b.handlers))
	for token := range b.handlers {
		tokens = append(tokens, token)
	}
	// Insertion-ordered delivery keeps fan-out deterministic.
	for i := 1; i < len(tokens); i++ {
		for j := i; j > 0 && tokens[j] < tokens[j-1]; j-- {
			tokens[j], tokens[j-1] = tokens[j-1], tokens[j]
		}
	}
	handlers := make([]Handler, 0, len(tokens))
	for _, token := range tokens {
		handlers = append(handlers, b.handlers[token])
	}
	b.mu.RUnlock()

	b.logger.Debug("publish %s workflow=%s run=%s node=%s",
		event.Type, event.WorkflowID, event.RunID, event.NodeID)
	for _, handler := range handlers {
		handler(event)
	}
}

// SubscriberCount reports how many handlers are registered.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
