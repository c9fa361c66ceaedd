package bus

import (
	"strings"
	"sync"
	"time"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// Subscriptions carry their own cancel function so consumers detach on
// teardown instead of leaking ambient global subjects.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*Subscription
	next int
}

// Subscription is a live attachment to the bus. C receives every event whose
// Kind has the subscribed namespace as a prefix. Cancel detaches it; C is
// never closed, so a cancelled subscription simply stops receiving.
type Subscription struct {
	C <-chan Event

	namespace string
	ch        chan Event
	cancel    func()
}

// Cancel detaches the subscription from the bus. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.cancel()
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Publish delivers evt to all subscribers whose namespace prefixes evt.Kind.
// Delivery is non-blocking: a subscriber with a full buffer misses the event.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
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
// bufSize controls how many undelivered events are held before drops begin.
func (b *Bus) Subscribe(namespace string, bufSize int) *Subscription {
	ch := make(chan Event, bufSize)
	sub := &Subscription{C: ch, namespace: namespace, ch: ch}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	sub.cancel = func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
	return sub
}
