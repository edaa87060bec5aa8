package events

import "testing"

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TopicFill, 4)
	defer unsub()

	bus.Publish(TopicFill, "one")
	bus.Publish(TopicCandle, "other-topic")

	select {
	case got := <-ch:
		if got != "one" {
			t.Fatalf("got %v", got)
		}
	default:
		t.Fatal("no message delivered")
	}
	select {
	case got := <-ch:
		t.Fatalf("cross-topic delivery: %v", got)
	default:
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	_, unsub := bus.Subscribe(TopicFill, 1)
	defer unsub()

	// The buffer holds one message; the rest must drop silently.
	for i := 0; i < 100; i++ {
		bus.Publish(TopicFill, i)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TopicFill, 1)
	unsub()

	bus.Publish(TopicFill, "late")
	if _, ok := <-ch; ok {
		t.Fatal("message delivered after unsubscribe")
	}
}
