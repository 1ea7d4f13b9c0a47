package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus for tests and single-node development.
// Dispatch is synchronous.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*memorySub
	closed bool
}

type memorySub struct {
	id      int
	pattern string
	handler Handler
	bus     *MemoryBus
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]*memorySub)}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, data []byte) error {
	if _, _, err := splitTopic(topic); err != nil {
		return err
	}

	b.mu.RLock()
	var matched []Handler
	for _, sub := range b.subs {
		if matchPattern(sub.pattern, topic) {
			matched = append(matched, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		h(topic, data)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, pattern string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &memorySub{id: b.nextID, pattern: pattern, handler: h, bus: b}
	b.subs[sub.id] = sub
	return sub, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[int]*memorySub)
	b.closed = true
	return nil
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
	return nil
}
