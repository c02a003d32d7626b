package agent

import (
	"time"

	"devlens/internal/event"
)

// bufferedEvent is an event held locally after delivery failed, plus the time
// it entered the buffer.
type bufferedEvent struct {
	event      event.Event
	enqueuedAt time.Time
}

// buffer is a bounded FIFO of events awaiting redelivery. When full, a push
// evicts the oldest entry; it never blocks and never grows past capacity.
// Not safe for concurrent use; the Client serializes access with its mutex.
type buffer struct {
	entries  []bufferedEvent
	capacity int
}

func newBuffer(capacity int) *buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &buffer{capacity: capacity}
}

// push appends ev, evicting the oldest entry if the buffer is at capacity.
func (b *buffer) push(ev event.Event, now time.Time) {
	if len(b.entries) >= b.capacity {
		b.entries = b.entries[1:]
	}
	b.entries = append(b.entries, bufferedEvent{event: ev, enqueuedAt: now})
}

// drain removes and returns all buffered events in FIFO order.
func (b *buffer) drain() []bufferedEvent {
	out := b.entries
	b.entries = nil
	return out
}

func (b *buffer) len() int { return len(b.entries) }
