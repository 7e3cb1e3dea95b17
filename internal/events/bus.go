// Package events carries in-process notifications between components that
// hold a reference to the same Bus.
package events

import (
	"sync"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"
)

const (
	TopicRefreshRequested = "conversations.refresh_requested"
	topicSnapshotPrefix   = "conversations.snapshot:"
)

// SnapshotTopic is the topic an account's sync engine publishes its state on.
func SnapshotTopic(userID uuid.UUID) string {
	return topicSnapshotPrefix + userID.String()
}

// Bus is an explicitly constructed publish/subscribe hub. Handlers run
// synchronously on the publishing goroutine, in subscription order, with no
// bus lock held, so a handler may itself subscribe or publish.
type Bus struct {
	bus EventBus.Bus

	// topicMu guards dispatcher registration only. mu is never held while
	// calling into EventBus.
	topicMu     sync.Mutex
	dispatching map[string]bool

	mu       sync.Mutex
	nextID   uint64
	handlers map[string][]registration
}

type registration struct {
	id uint64
	fn func(any)
}

// delivery travels through EventBus. The topic dispatcher only collects the
// handlers; Publish runs them after EventBus has released its lock.
type delivery struct {
	handlers []registration
}

func NewBus() *Bus {
	return &Bus{
		bus:         EventBus.New(),
		handlers:    make(map[string][]registration),
		dispatching: make(map[string]bool),
	}
}

// Subscribe registers fn for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic string, fn func(payload any)) (unsubscribe func()) {
	b.ensureDispatcher(topic)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], registration{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

// ensureDispatcher registers the single EventBus callback for topic. EventBus
// identifies callbacks by code pointer, so closures cannot be unsubscribed
// individually and the handlers themselves are tracked by Bus.
func (b *Bus) ensureDispatcher(topic string) {
	b.topicMu.Lock()
	defer b.topicMu.Unlock()
	if b.dispatching[topic] {
		return
	}
	err := b.bus.Subscribe(topic, func(d *delivery) {
		d.handlers = b.registrations(topic)
	})
	if err == nil {
		b.dispatching[topic] = true
	}
}

func (b *Bus) Publish(topic string, payload any) {
	d := &delivery{}
	b.bus.Publish(topic, d)
	for _, r := range d.handlers {
		r.fn(payload)
	}
}

func (b *Bus) HasSubscribers(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[topic]) > 0
}

// RequestRefresh asks whoever tracks userID's conversations to refetch them.
func (b *Bus) RequestRefresh(userID uuid.UUID) {
	b.Publish(TopicRefreshRequested, userID)
}

func (b *Bus) OnRefreshRequested(fn func(userID uuid.UUID)) (unsubscribe func()) {
	return b.Subscribe(TopicRefreshRequested, func(payload any) {
		if userID, ok := payload.(uuid.UUID); ok {
			fn(userID)
		}
	})
}

func (b *Bus) registrations(topic string) []registration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]registration(nil), b.handlers[topic]...)
}

func (b *Bus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[topic]
	for i, r := range regs {
		if r.id == id {
			b.handlers[topic] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}
