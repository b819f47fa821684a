package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Bus is a lightweight pub/sub broker using channels. Publish never blocks:
// a subscriber whose buffer is full misses the message.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]*subscriber
	dropped atomic.Uint64
}

// subscriber is one delivery channel. A multi-topic subscriber is registered
// under each of its topics with the same channel, so it sees messages in
// publish order.
type subscriber struct {
	raw    chan any
	tagged chan Message
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]*subscriber)}
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	sub := &subscriber{raw: make(chan any, buffer)}
	b.mu.Lock()
	b.subs[e] = append(b.subs[e], sub)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.remove(e, sub)
			close(sub.raw)
		})
	}
	return sub.raw, unsub
}

// SubscribeAll delivers every listed topic on one channel as Message values,
// in the order they were published.
func (b *Bus) SubscribeAll(topics []Event, buffer int) (<-chan Message, func()) {
	sub := &subscriber{tagged: make(chan Message, buffer)}
	b.mu.Lock()
	for _, e := range topics {
		b.subs[e] = append(b.subs[e], sub)
	}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, e := range topics {
				b.remove(e, sub)
			}
			close(sub.tagged)
		})
	}
	return sub.tagged, unsub
}

func (b *Bus) remove(e Event, sub *subscriber) {
	subs := b.subs[e]
	for i, s := range subs {
		if s == sub {
			b.subs[e] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish fans the payload out to current subscribers.
func (b *Bus) Publish(e Event, payload any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var msg Message
	for _, sub := range b.subs[e] {
		if sub.raw != nil {
			select {
			case sub.raw <- payload:
			default:
				b.dropped.Add(1)
			}
			continue
		}
		if msg.At.IsZero() {
			msg = Message{Topic: e, At: time.Now(), Payload: payload}
		}
		select {
		case sub.tagged <- msg:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
