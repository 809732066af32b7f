package monitor

import (
	"sync"
)

// AlertHandler receives fired events from the bus
type AlertHandler interface {
	OnEvent(ev *Event)
}

// AlertBus provides pub/sub for fired events. The websocket hub and the
// MQTT publisher subscribe to it; the debouncers publish to it.
type AlertBus struct {
	subscribers map[*alertSubscription]bool
	mu          sync.RWMutex
}

type alertSubscription struct {
	kindFilter WorkloadKind // empty means receive all kinds
	channel    chan *Event
	handler    AlertHandler
}

// NewAlertBus creates a new alert bus
func NewAlertBus() *AlertBus {
	return &AlertBus{
		subscribers: make(map[*alertSubscription]bool),
	}
}

// Subscribe registers a handler for events from all workloads.
// Returns an unsubscribe function.
func (b *AlertBus) Subscribe(handler AlertHandler) func() {
	sub := &alertSubscription{handler: handler}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeKind registers a handler for events from one workload
func (b *AlertBus) SubscribeKind(kind WorkloadKind, handler AlertHandler) func() {
	sub := &alertSubscription{kindFilter: kind, handler: handler}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a buffered channel receiving fired events
// and an unsubscribe function. A full channel drops the event rather
// than blocking the firing path.
func (b *AlertBus) SubscribeChannel(bufferSize int) (<-chan *Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *Event, bufferSize)
	sub := &alertSubscription{channel: ch}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish delivers an event to all matching subscribers. Handlers are
// called synchronously to preserve event ordering.
func (b *AlertBus) Publish(ev *Event) {
	if ev == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.kindFilter != "" && sub.kindFilter != ev.Kind {
			continue
		}

		if sub.handler != nil {
			sub.handler.OnEvent(ev)
		} else if sub.channel != nil {
			select {
			case sub.channel <- ev:
			default:
				// Channel full, skip this event
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *AlertBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes channels
func (b *AlertBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
