// Package events carries the in-process pub/sub bus between the engine,
// the operator API, and metrics.
package events

import "sync"

// Topic enumerates the event channels inside the engine.
type Topic string

const (
	TopicCandle         Topic = "candle"
	TopicSignal         Topic = "signal"
	TopicOrderPlaced    Topic = "order.placed"
	TopicOrderRejected  Topic = "order.rejected"
	TopicFill           Topic = "order.fill"
	TopicPositionOpened Topic = "position.opened"
	TopicPositionClosed Topic = "position.closed"
	TopicStreamChange   Topic = "stream.change"
)

// Bus is a lightweight channel-based broker. Publish never blocks: a
// slow subscriber loses messages rather than stalling candle ingestion.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan any
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan any)}
}

// Subscribe registers a listener and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (b *Bus) Subscribe(t Topic, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[t] = append(b.subs[t], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[t]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsub
}

// Publish fans the payload out to all subscribers of the topic.
func (b *Bus) Publish(t Topic, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[t] {
		select {
		case ch <- payload:
		default:
			// subscriber is behind; drop
		}
	}
}
