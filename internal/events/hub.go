// Package events fans change events out to subscribers.
package events

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"jardav/pkg/types"
)

const defaultBuffer = 16

// Hub is a publish/subscribe point for change events. Publishing never
// blocks: a subscriber whose buffer is full misses that batch.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]*subscription
	buffer  int
	dropped atomic.Int64
}

type subscription struct {
	prefix string
	ch     chan []types.ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewHub returns a hub whose subscribers buffer up to buffer batches.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{subs: make(map[string]*subscription), buffer: buffer}
}

// Subscribe registers interest in events whose address starts with prefix;
// an empty prefix matches everything. The channel is closed when ctx ends or
// the returned cancel func is called.
func (h *Hub) Subscribe(ctx context.Context, prefix string) (<-chan []types.ChangeEvent, func()) {
	id := uuid.NewString()
	sub := &subscription{
		prefix: prefix,
		ch:     make(chan []types.ChangeEvent, h.buffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-sub.done:
		}
		h.remove(id)
	}()

	return sub.ch, sub.stop
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Publish delivers events to every matching subscriber.
func (h *Hub) Publish(events ...types.ChangeEvent) {
	if len(events) == 0 {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		batch := sub.match(events)
		if len(batch) == 0 {
			continue
		}
		select {
		case sub.ch <- batch:
		default:
			h.dropped.Add(1)
		}
	}
}

func (s *subscription) match(events []types.ChangeEvent) []types.ChangeEvent {
	if s.prefix == "" {
		out := make([]types.ChangeEvent, len(events))
		copy(out, events)
		return out
	}
	var out []types.ChangeEvent
	for _, e := range events {
		if strings.HasPrefix(e.Address, s.prefix) {
			out = append(out, e)
		}
	}
	return out
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many batches were discarded for full subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
		sub.stop()
	}
}
