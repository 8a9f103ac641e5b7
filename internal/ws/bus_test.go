package ws

import (
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicChatNotify, 4)

	bus.Publish(TopicChatNotify, BusMessage{Event: EventNotification, Rooms: []string{UserRoom(1)}})
	select {
	case msg := <-ch:
		if msg.Event != EventNotification || len(msg.Rooms) != 1 {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("message never arrived")
	}
}

func TestBusUnknownTopicIsNoop(t *testing.T) {
	bus := NewBus()
	bus.Publish("nobody.listens", BusMessage{Event: EventNotification})
}

func TestBusFullSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(TopicChatNotify, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicChatNotify, BusMessage{Event: EventNotification})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestBusCloseEndsSubscribers(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicChatNotify, 1)
	bus.Close()
	if _, ok := <-ch; ok {
		t.Fatal("subscriber channel should be closed")
	}
	// Publishing after close must not panic.
	bus.Publish(TopicChatNotify, BusMessage{Event: EventNotification})
	if _, ok := <-bus.Subscribe(TopicChatNotify, 1); ok {
		t.Fatal("subscribing after close should yield a closed channel")
	}
}
