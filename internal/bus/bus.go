// Package bus wires store-to-store side effects through named topics so the
// dependency between stores is visible at the call site that subscribes.
package bus

import "sync"

// Topic names one kind of state change.
type Topic string

const (
	TopicInputFormatChanged  Topic = "input-format-changed"
	TopicOutputFormatChanged Topic = "output-format-changed"
	TopicLanguageChanged     Topic = "language-changed"
)

// Change carries the previous and the new value of a string setting.
type Change struct {
	Topic Topic
	Old   string
	New   string
}

// Handler reacts to one change.
type Handler func(Change)

// Bus is a synchronous topic dispatcher. Handlers run on the publishing
// goroutine in subscription order.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[Topic][]subscription
}

type subscription struct {
	id int
	fn Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: map[Topic][]subscription{}}
}

// Subscribe registers fn for topic and returns a func that removes it.
func (b *Bus) Subscribe(topic Topic, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[topic]
		for i, sub := range subs {
			if sub.id == id {
				b.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers a change to every handler of topic. A nil bus drops it.
func (b *Bus) Publish(topic Topic, oldValue, newValue string) {
	if b == nil {
		return
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	change := Change{Topic: topic, Old: oldValue, New: newValue}
	for _, sub := range subs {
		sub.fn(change)
	}
}
