// Package delivery lands prompt text in a page that may not have finished
// loading yet.
//
// Each target (tab) holds at most one pending delivery. A new request for
// the same target replaces the pending payload and supersedes the earlier
// request. Once the target is ready the coordinator tries to inject the
// latest payload up to MaxAttempts times, RetryDelay apart, and reports a
// terminal outcome for every request.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pplxhelper/pplxhelper/internal/inject"
)

type State string

const (
	StatePending    State = "pending"
	StateDelivered  State = "delivered"
	StateExhausted  State = "exhausted"
	StateSuperseded State = "superseded"
	StateEvicted    State = "evicted"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s != StatePending
}

var (
	ErrDeliveryTimeout = errors.New("delivery timed out")
	ErrSuperseded      = errors.New("superseded by a newer delivery")
	ErrTargetGone      = errors.New("target closed")
	ErrEvicted         = errors.New("evicted from pending table")
	ErrClosed          = errors.New("coordinator closed")
)

// AfterWriteError wraps a failure that happened after the text landed in
// the page, such as a failed submit. The request counts as delivered and
// is not retried, since another attempt would write the text twice.
type AfterWriteError struct {
	Err error
}

func (e *AfterWriteError) Error() string { return "after write: " + e.Err.Error() }

func (e *AfterWriteError) Unwrap() error { return e.Err }

const (
	DefaultMaxAttempts = 12
	DefaultRetryDelay  = 350 * time.Millisecond
	DefaultMaxPending  = 64
	defaultHistorySize = 256
)

// Payload is one requested delivery.
type Payload struct {
	TargetID   string
	Text       string
	Mode       inject.Mode
	Focus      bool
	AutoSubmit bool
}

// Injector performs a single injection attempt against a target.
type Injector interface {
	// Ready reports whether the target has finished loading.
	Ready(ctx context.Context, targetID string) bool
	// Inject writes the payload. Any error counts as a failed attempt,
	// except an *AfterWriteError, which ends the request as delivered.
	Inject(ctx context.Context, p Payload) error
}

// Outcome is the last known state of one request.
type Outcome struct {
	ID       string    `json:"id"`
	TargetID string    `json:"targetId"`
	State    State     `json:"state"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`

	Err error `json:"-"`
}

type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
	MaxPending  int
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxPending <= 0 {
		c.MaxPending = DefaultMaxPending
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	return c
}

type entry struct {
	ticket   *Ticket
	payload  Payload
	attempts int
	running  bool
	created  time.Time
	lastErr  error
}

type Coordinator struct {
	inj       Injector
	clock     Clock
	cfg       Config
	onOutcome func(Outcome)

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	pending      map[string]*entry
	loads        map[string]uint64
	history      map[string]Outcome
	historyOrder []string
}

// New builds a coordinator. clock may be nil for the wall clock;
// onOutcome, if set, receives every terminal outcome.
func New(inj Injector, clock Clock, cfg Config, onOutcome func(Outcome)) *Coordinator {
	if clock == nil {
		clock = RealClock
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		inj:       inj,
		clock:     clock,
		cfg:       cfg.withDefaults(),
		onOutcome: onOutcome,
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[string]*entry),
		loads:     make(map[string]uint64),
		history:   make(map[string]Outcome),
	}
}

// Request registers p as the pending delivery for its target. When the
// target is already loaded the first attempt starts at once; otherwise it
// waits for Signal.
func (c *Coordinator) Request(ctx context.Context, p Payload) *Ticket {
	t := newTicket(uuid.NewString(), p.TargetID)
	if c.ctx.Err() != nil {
		c.finish(t, StateEvicted, 0, ErrClosed)
		return t
	}
	// A load signal that lands between the readiness probe and storing the
	// entry finds nothing pending; the load counter catches it.
	c.mu.Lock()
	loadsBefore := c.loads[p.TargetID]
	c.mu.Unlock()
	ready := c.inj.Ready(ctx, p.TargetID)

	var superseded, evicted *entry
	c.mu.Lock()
	ready = ready || c.loads[p.TargetID] != loadsBefore
	e, ok := c.pending[p.TargetID]
	if ok {
		superseded = &entry{ticket: e.ticket, attempts: e.attempts}
		e.ticket = t
		e.payload = p
		e.attempts = 0
		e.lastErr = nil
		e.created = c.clock.Now()
	} else {
		if len(c.pending) >= c.cfg.MaxPending {
			evicted = c.evictOldestLocked()
		}
		e = &entry{ticket: t, payload: p, created: c.clock.Now()}
		c.pending[p.TargetID] = e
	}
	c.recordLocked(t.pendingOutcome())
	start := ready && !e.running
	if start {
		e.running = true
	}
	c.mu.Unlock()

	if superseded != nil {
		c.finish(superseded.ticket, StateSuperseded, superseded.attempts, ErrSuperseded)
	}
	if evicted != nil {
		c.finish(evicted.ticket, StateEvicted, evicted.attempts, ErrEvicted)
	}
	if start {
		go c.run(p.TargetID)
	}
	return t
}

// Signal tells the coordinator that a target finished loading.
func (c *Coordinator) Signal(targetID string) {
	c.mu.Lock()
	c.loads[targetID]++
	e, ok := c.pending[targetID]
	if !ok || e.running || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	e.running = true
	c.mu.Unlock()
	go c.run(targetID)
}

// Forget drops the pending delivery of a target that no longer exists.
func (c *Coordinator) Forget(targetID string) {
	c.mu.Lock()
	delete(c.loads, targetID)
	e, ok := c.pending[targetID]
	if ok {
		delete(c.pending, targetID)
	}
	c.mu.Unlock()
	if ok {
		c.finish(e.ticket, StateEvicted, e.attempts, ErrTargetGone)
	}
}

// Sweep evicts deliveries that have waited longer than maxAge for their
// target to load. Entries with a running retry loop are left alone.
func (c *Coordinator) Sweep(maxAge time.Duration) int {
	now := c.clock.Now()
	var stale []*entry
	c.mu.Lock()
	for id, e := range c.pending {
		if !e.running && now.Sub(e.created) > maxAge {
			stale = append(stale, e)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()
	for _, e := range stale {
		c.finish(e.ticket, StateEvicted, e.attempts, ErrEvicted)
	}
	return len(stale)
}

// Pending returns the number of targets with a pending delivery.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Status returns the last known outcome of a request.
func (c *Coordinator) Status(id string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.history[id]
	return o, ok
}

// Close stops every retry loop and evicts all pending deliveries.
func (c *Coordinator) Close() {
	c.cancel()
	c.mu.Lock()
	all := make([]*entry, 0, len(c.pending))
	for id, e := range c.pending {
		all = append(all, e)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	for _, e := range all {
		c.finish(e.ticket, StateEvicted, e.attempts, ErrClosed)
	}
}

func (c *Coordinator) evictOldestLocked() *entry {
	var (
		oldestID string
		oldest   *entry
	)
	for id, e := range c.pending {
		if oldest == nil || e.created.Before(oldest.created) {
			oldestID, oldest = id, e
		}
	}
	if oldest != nil {
		delete(c.pending, oldestID)
	}
	return oldest
}

// run drives the retry loop for one target until the pending entry is
// delivered, exhausted or removed. Every attempt reads the latest payload.
func (c *Coordinator) run(targetID string) {
	for {
		c.mu.Lock()
		e, ok := c.pending[targetID]
		if !ok {
			c.mu.Unlock()
			return
		}
		if e.attempts >= c.cfg.MaxAttempts {
			delete(c.pending, targetID)
			t, n, lastErr := e.ticket, e.attempts, e.lastErr
			c.mu.Unlock()
			slog.Warn("delivery exhausted", "id", t.ID, "target", targetID, "attempts", n, "lastErr", lastErr)
			c.finish(t, StateExhausted, n, ErrDeliveryTimeout)
			return
		}
		wait := e.attempts > 0
		c.mu.Unlock()

		if wait {
			select {
			case <-c.clock.After(c.cfg.RetryDelay):
			case <-c.ctx.Done():
				return
			}
		}

		c.mu.Lock()
		e, ok = c.pending[targetID]
		if !ok {
			c.mu.Unlock()
			return
		}
		e.attempts++
		t, p, n := e.ticket, e.payload, e.attempts
		c.mu.Unlock()

		err := c.inj.Inject(c.ctx, p)

		c.mu.Lock()
		cur, ok := c.pending[targetID]
		if !ok || cur.ticket != t {
			// Removed or replaced while injecting; the loop carries on
			// with whatever is pending now.
			c.mu.Unlock()
			continue
		}
		var afterWrite *AfterWriteError
		if err == nil || errors.As(err, &afterWrite) {
			delete(c.pending, targetID)
			c.mu.Unlock()
			if err != nil {
				slog.Warn("delivered with follow-up failure", "id", t.ID, "target", targetID, "err", err)
			} else {
				slog.Debug("delivered", "id", t.ID, "target", targetID, "attempts", n)
			}
			c.finish(t, StateDelivered, n, err)
			return
		}
		cur.lastErr = err
		c.mu.Unlock()
		slog.Debug("delivery attempt failed", "id", t.ID, "target", targetID, "attempt", n, "err", err)
	}
}

func (c *Coordinator) recordLocked(o Outcome) {
	if _, ok := c.history[o.ID]; !ok {
		c.historyOrder = append(c.historyOrder, o.ID)
		if len(c.historyOrder) > c.cfg.HistorySize {
			delete(c.history, c.historyOrder[0])
			c.historyOrder = c.historyOrder[1:]
		}
	}
	c.history[o.ID] = o
}

func (c *Coordinator) finish(t *Ticket, state State, attempts int, err error) {
	o := Outcome{
		ID:       t.ID,
		TargetID: t.TargetID,
		State:    state,
		Attempts: attempts,
		At:       c.clock.Now(),
		Err:      err,
	}
	if err != nil {
		o.Error = err.Error()
	}
	if !t.resolve(o) {
		return
	}
	c.mu.Lock()
	c.recordLocked(o)
	c.mu.Unlock()
	if c.onOutcome != nil {
		c.onOutcome(o)
	}
}
