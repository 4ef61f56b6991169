package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryBus delivers envelopes synchronously inside one process.
// Delivery order per topic follows publish order.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Handler
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[uint64]Handler)}
}

func (b *MemoryBus) Publish(ctx context.Context, env Envelope) (int, error) {
	if strings.TrimSpace(env.Topic) == "" {
		return 0, fmt.Errorf("publish: empty topic")
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0, fmt.Errorf("publish: bus closed")
	}
	handlers := make([]Handler, 0, len(b.subs[env.Topic]))
	for _, fn := range b.subs[env.Topic] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(env)
	}
	return len(handlers), nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string, fn Handler) (Subscription, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("subscribe: empty topic")
	}
	if fn == nil {
		return nil, fmt.Errorf("subscribe: handler required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("subscribe: bus closed")
	}
	b.nextID++
	id := b.nextID
	m, ok := b.subs[topic]
	if !ok {
		m = make(map[uint64]Handler)
		b.subs[topic] = m
	}
	m[id] = fn
	return &memorySubscription{bus: b, topic: topic, id: id}, nil
}

// Subscribers returns the number of live handlers on topic.
func (b *MemoryBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subs = make(map[string]map[uint64]Handler)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.subs[topic]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(b.subs, topic)
		}
	}
}

type memorySubscription struct {
	bus   *MemoryBus
	topic string
	id    uint64
	once  sync.Once
}

func (s *memorySubscription) Topic() string { return s.topic }

func (s *memorySubscription) Close() error {
	s.once.Do(func() { s.bus.remove(s.topic, s.id) })
	return nil
}

// MemoryPresence is a PresenceStore for a single process.
type MemoryPresence struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[uuid.UUID]json.RawMessage
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{sessions: make(map[uuid.UUID]map[uuid.UUID]json.RawMessage)}
}

func (p *MemoryPresence) Track(ctx context.Context, sessionID, participantID uuid.UUID, entry json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.sessions[sessionID]
	if !ok {
		m = make(map[uuid.UUID]json.RawMessage)
		p.sessions[sessionID] = m
	}
	m[participantID] = append(json.RawMessage(nil), entry...)
	return nil
}

func (p *MemoryPresence) Untrack(ctx context.Context, sessionID, participantID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.sessions[sessionID]; ok {
		delete(m, participantID)
		if len(m) == 0 {
			delete(p.sessions, sessionID)
		}
	}
	return nil
}

func (p *MemoryPresence) Snapshot(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]json.RawMessage, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[uuid.UUID]json.RawMessage, len(p.sessions[sessionID]))
	for id, raw := range p.sessions[sessionID] {
		out[id] = append(json.RawMessage(nil), raw...)
	}
	return out, nil
}
