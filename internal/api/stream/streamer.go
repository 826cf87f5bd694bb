package stream

import (
	"sync"

	"github.com/KevinKickass/OpenMatrixCore/internal/devices"
)

const subscriberBuffer = 100

// EventStreamer fans device events out to stream subscribers. A subscriber
// that falls behind loses events rather than stalling a device session.
type EventStreamer struct {
	mu          sync.RWMutex
	subscribers map[chan devices.Event]string
	dropped     uint64
	closed      bool
}

func NewEventStreamer() *EventStreamer {
	return &EventStreamer{
		subscribers: make(map[chan devices.Event]string),
	}
}

// Subscribe returns a channel receiving events of device, or of every device
// when device is empty.
func (s *EventStreamer) Subscribe(device string) <-chan devices.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan devices.Event, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch
	}
	s.subscribers[ch] = device
	return ch
}

// Close ends every subscription; later subscriptions end immediately.
func (s *EventStreamer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

func (s *EventStreamer) Unsubscribe(ch <-chan devices.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subscribers {
		if sub == ch {
			delete(s.subscribers, sub)
			close(sub)
			return
		}
	}
}

// Publish delivers ev without blocking. It has the signature of a
// devices.Manager subscriber.
func (s *EventStreamer) Publish(ev devices.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch, device := range s.subscribers {
		if device != "" && device != ev.Device {
			continue
		}
		select {
		case ch <- ev:
		default:
			s.dropped++
		}
	}
}

// Dropped counts events lost to slow subscribers.
func (s *EventStreamer) Dropped() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

func (s *EventStreamer) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
