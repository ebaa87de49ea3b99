package events

import (
	"context"
	"sync"
	"time"
)

// Handler consumes a domain event. Handlers must not block; the gateway's
// per-connection send buffers absorb slow consumers.
type Handler func(ctx context.Context, event Event)

// Bus is the in-process event surface between the send pipeline and the
// real-time gateway.
type Bus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(handler Handler, types ...string)
}

// LocalBus dispatches events to registered handlers within the process.
// Subscribing with no types receives everything.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	all      []Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[string][]Handler)}
}

func (b *LocalBus) Subscribe(handler Handler, types ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(types) == 0 {
		b.all = append(b.all, handler)
		return
	}
	for _, t := range types {
		b.handlers[t] = append(b.handlers[t], handler)
	}
}

func (b *LocalBus) Publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type])+len(b.all))
	handlers = append(handlers, b.handlers[event.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, event)
	}
}
