package relay

import (
	"sync"

	"github.com/Polqt/crdtcollab/crdt"
)

// DefaultBusCapacity is the reference capacity for the broadcast bus.
const DefaultBusCapacity = 100

// bus is a bounded, multi-subscriber broadcast channel: every Operation
// published is delivered to every currently attached subscriber, subject
// to capacity. A subscriber that cannot keep up has its oldest
// unconsumed operation silently overwritten rather than blocking the
// publisher — convergence is only guaranteed once all operations are
// delivered, and the bus is deliberately lossy under backpressure rather
// than buffering without bound.
type bus struct {
	mu       sync.Mutex
	capacity int
	subs     map[int]chan crdt.Operation
	nextID   int
}

func newBus(capacity int) *bus {
	if capacity <= 0 {
		capacity = DefaultBusCapacity
	}
	return &bus{capacity: capacity, subs: make(map[int]chan crdt.Operation)}
}

// subscribe attaches a new subscriber and returns its id plus the
// channel it should read broadcasts from. unsubscribe must be called
// when the subscriber is done.
func (b *bus) subscribe() (int, <-chan crdt.Operation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan crdt.Operation, b.capacity)
	b.subs[id] = ch
	return id, ch
}

// unsubscribe detaches a subscriber. Safe to call more than once.
func (b *bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// publish delivers op to every currently attached subscriber, including
// the publisher itself if it is also subscribed — the relay always
// echoes a sender's own operation back to it. On a full subscriber
// channel, the oldest unconsumed operation is dropped to make room.
func (b *bus) publish(op crdt.Operation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- op:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- op:
			default:
			}
		}
	}
}

// subscriberCount reports how many subscribers are currently attached.
// Used by tests to assert on fan-out without racing goroutine startup.
func (b *bus) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
