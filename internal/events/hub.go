// Package events fans daemon events out to live subscribers.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

type Kind string

const (
	KindDelivery Kind = "delivery"
	KindAnswer   Kind = "answer"
	KindOptions  Kind = "options"
	KindRewrite  Kind = "rewrite"
)

type Event struct {
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

const DefaultBuffer = 32

// Hub delivers every published event to every subscriber. A subscriber
// whose buffer is full misses the event; publishers never block.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	buffer  int
	dropped atomic.Int64
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

type Subscription struct {
	hub  *Hub
	ch   chan Event
	once sync.Once
}

// C yields events until the subscription is closed.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}

func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{hub: h, ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) Publish(kind Kind, data any) {
	ev := Event{Kind: kind, At: time.Now(), Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many events were lost to full buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
