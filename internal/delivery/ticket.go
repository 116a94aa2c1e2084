package delivery

import (
	"context"
	"sync"
)

// Ticket lets the requester observe the fate of one delivery request.
type Ticket struct {
	ID       string
	TargetID string

	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

func newTicket(id, targetID string) *Ticket {
	return &Ticket{ID: id, TargetID: targetID, done: make(chan struct{})}
}

func (t *Ticket) pendingOutcome() Outcome {
	return Outcome{ID: t.ID, TargetID: t.TargetID, State: StatePending}
}

// resolve stores the terminal outcome; only the first call wins.
func (t *Ticket) resolve(o Outcome) bool {
	won := false
	t.once.Do(func() {
		t.outcome = o
		close(t.done)
		won = true
	})
	return won
}

// Done is closed once the request reaches a terminal state.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Outcome returns the terminal outcome, or a pending one if not done yet.
func (t *Ticket) Outcome() Outcome {
	select {
	case <-t.done:
		return t.outcome
	default:
		return t.pendingOutcome()
	}
}

// Wait blocks until the request is terminal or ctx ends.
func (t *Ticket) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.done:
		return t.outcome, nil
	case <-ctx.Done():
		return t.pendingOutcome(), ctx.Err()
	}
}
