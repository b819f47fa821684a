package events

import (
	"testing"
	"time"
)

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventTradeExecuted, 1)
	defer unsub()

	bus.Publish(EventTradeExecuted, 1)
	bus.Publish(EventTradeExecuted, 2)

	if got := <-ch; got != 1 {
		t.Fatalf("got %v, expected 1", got)
	}
	if bus.Dropped() != 1 {
		t.Fatalf("Dropped=%d, expected 1", bus.Dropped())
	}
}

func TestSubscribeAllTagsTopics(t *testing.T) {
	bus := NewBus()
	stream, unsub := bus.SubscribeAll([]Event{EventTradeFailed, EventPositionClosed}, 4)

	bus.Publish(EventTradeFailed, "boom")
	bus.Publish(EventSignalReceived, "ignored")

	select {
	case msg := <-stream:
		if msg.Topic != EventTradeFailed || msg.Payload != "boom" {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("no message delivered")
	}

	unsub()
	unsub()
	if _, ok := <-stream; ok {
		t.Fatalf("stream should be closed after unsubscribe")
	}
}

func TestPublishOnNilBus(t *testing.T) {
	var bus *Bus
	bus.Publish(EventTradeExecuted, nil)
}

func TestSubscribeAllKeepsPublishOrderAcrossTopics(t *testing.T) {
	bus := NewBus()
	stream, unsub := bus.SubscribeAll([]Event{EventPositionUpdate, EventPositionClosed}, 1024)
	defer unsub()

	const n = 500
	for i := 0; i < n; i++ {
		bus.Publish(EventPositionUpdate, i)
		bus.Publish(EventPositionClosed, i)
	}

	for i := 0; i < n; i++ {
		for _, want := range []Event{EventPositionUpdate, EventPositionClosed} {
			msg := <-stream
			if msg.Topic != want || msg.Payload != i {
				t.Fatalf("message %d: got %s/%v, expected %s/%d", i, msg.Topic, msg.Payload, want, i)
			}
		}
	}
	if bus.Dropped() != 0 {
		t.Fatalf("Dropped=%d, expected 0", bus.Dropped())
	}
}
