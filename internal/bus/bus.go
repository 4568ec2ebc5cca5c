package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus with namespace
// filtering. It decouples the channel transport from store mutation:
// the connection publishes frames and status changes, the router and
// any consumers subscribe independently.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// Subscription is a handle to a bus subscription. Events matching the
// namespace prefix arrive on Events; Close detaches the subscription.
type Subscription struct {
	namespace string
	ch        chan Event
	close     func()
	once      sync.Once
}

// Events returns the channel events are delivered on.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription. Idempotent.
func (s *Subscription) Close() {
	s.once.Do(s.close)
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Publish sends an event to every subscriber whose namespace is a
// prefix of event.Kind. Delivery is non-blocking: a subscriber whose
// buffer is full misses the event.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// Subscribe registers a subscriber for the given namespace prefix.
// bufSize controls how many undelivered events may queue.
func (b *Bus) Subscribe(namespace string, bufSize int) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &Subscription{
		namespace: namespace,
		ch:        make(chan Event, bufSize),
	}
	sub.close = func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
	b.subs[id] = sub
	return sub
}
