package events

import (
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := NewHub(4)
	a, b := h.Subscribe(), h.Subscribe()
	defer a.Close()
	defer b.Close()

	h.Publish(KindAnswer, map[string]int{"tokens": 3})

	for _, s := range []*Subscription{a, b} {
		select {
		case ev := <-s.C():
			if ev.Kind != KindAnswer {
				t.Errorf("kind = %s", ev.Kind)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(1)
	s := h.Subscribe()
	defer s.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish(KindDelivery, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if h.Dropped() != 9 {
		t.Errorf("dropped = %d, want 9", h.Dropped())
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	h := NewHub(0)
	s := h.Subscribe()
	if h.Subscribers() != 1 {
		t.Fatal("not subscribed")
	}
	s.Close()
	s.Close()
	if h.Subscribers() != 0 {
		t.Error("still subscribed after close")
	}
	if _, ok := <-s.C(); ok {
		t.Error("channel should be closed")
	}
	h.Publish(KindOptions, nil)
}
