package ws

import "sync"

// Bus topics.
const (
	TopicChatNotify = "chat.notify"
)

// BusMessage is an event destined for rooms on another namespace's hub.
type BusMessage struct {
	Event   string
	Rooms   []string
	Payload interface{}
}

// Bus is a small in-process pub/sub that decouples the two signaling
// surfaces: the call side publishes notifications, the chat side forwards
// them into its own rooms. Publish never blocks; a full subscriber loses
// the message rather than stalling the caller.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]chan BusMessage
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan BusMessage)}
}

func (b *Bus) Subscribe(topic string, buffer int) <-chan BusMessage {
	ch := make(chan BusMessage, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

func (b *Bus) Publish(topic string, msg BusMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Close terminates all subscriber channels; forwarder goroutines exit on
// channel close.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subs = make(map[string][]chan BusMessage)
}
