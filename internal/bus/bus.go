package bus

import (
	"strings"
	"sync"
	"time"
)

// Bus is an in-process publish/subscribe event bus with prefix filtering.
// A Subscribe subscriber whose buffer is full misses the event. A
// SubscribeReliable subscriber never misses one: Publish waits for buffer
// space until the subscription is removed.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	prefix   string
	ch       chan Event
	reliable bool
	closed   chan struct{}
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	var waiting []*subscription
	b.mu.RLock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			if sub.reliable {
				waiting = append(waiting, sub)
			}
		}
	}
	b.mu.RUnlock()

	// Blocking sends happen outside the lock so a slow subscriber never
	// stalls Subscribe or an unsubscribe.
	for _, sub := range waiting {
		select {
		case sub.ch <- evt:
		case <-sub.closed:
		}
	}
}

// Emit publishes an event of the given kind stamped with the current time.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Subscribe returns a channel receiving events whose kind starts with prefix,
// and a function that removes the subscription.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	return b.subscribe(prefix, bufSize, false)
}

// SubscribeReliable is Subscribe without drops: when the buffer is full the
// publisher waits. The subscriber must keep draining until it unsubscribes.
func (b *Bus) SubscribeReliable(prefix string, bufSize int) (<-chan Event, func()) {
	return b.subscribe(prefix, bufSize, true)
}

func (b *Bus) subscribe(prefix string, bufSize int, reliable bool) (<-chan Event, func()) {
	sub := &subscription{
		prefix:   prefix,
		ch:       make(chan Event, bufSize),
		reliable: reliable,
		closed:   make(chan struct{}),
	}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			close(sub.closed)
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}
