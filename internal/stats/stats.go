// Package stats keeps the running session counters shown next to answers
// and in the CLI.
package stats

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Counters is the persisted state. It survives daemon restarts on a best
// effort basis.
type Counters struct {
	TokensSeen        int `json:"tokensSeen"`
	AnswersSeen       int `json:"answersSeen"`
	TotalAnswerTokens int `json:"totalAnswerTokens"`
}

// Summary is the wire shape of getSessionStats.
type Summary struct {
	SessionTokens   int `json:"sessionTokens"`
	AnswersCount    int `json:"answersCount"`
	AvgAnswerTokens int `json:"avgAnswerTokens"`
}

// Persister loads and saves counters.
type Persister interface {
	Load(ctx context.Context) (Counters, error)
	Save(ctx context.Context, c Counters) error
}

const DefaultFlushDelay = 2 * time.Second

type Stats struct {
	// saveMu orders snapshot+Save pairs so an older snapshot never lands
	// after a newer one.
	saveMu sync.Mutex
	mu     sync.Mutex
	c      Counters
	store  Persister
	delay  time.Duration
	timer  *time.Timer
	dirty  bool
}

// New loads counters from store (which may be nil for memory only).
// Mutations are written back at most once per flushDelay.
func New(ctx context.Context, store Persister, flushDelay time.Duration) *Stats {
	if flushDelay <= 0 {
		flushDelay = DefaultFlushDelay
	}
	s := &Stats{store: store, delay: flushDelay}
	if store != nil {
		c, err := store.Load(ctx)
		if err != nil {
			slog.Warn("stats load failed, starting from zero", "err", err)
		} else {
			s.c = c
		}
	}
	return s
}

// AddAnswer counts one processed answer and returns the new session total.
func (s *Stats) AddAnswer(tokens int) int {
	s.mu.Lock()
	s.c.TokensSeen += tokens
	s.c.AnswersSeen++
	s.c.TotalAnswerTokens += tokens
	total := s.c.TokensSeen
	s.scheduleLocked()
	s.mu.Unlock()
	return total
}

// AddPrompt counts tokens of a submitted prompt.
func (s *Stats) AddPrompt(tokens int) int {
	s.mu.Lock()
	s.c.TokensSeen += tokens
	total := s.c.TokensSeen
	s.scheduleLocked()
	s.mu.Unlock()
	return total
}

func (s *Stats) SessionTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.TokensSeen
}

func (s *Stats) Reset() {
	s.mu.Lock()
	s.c = Counters{}
	s.scheduleLocked()
	s.mu.Unlock()
}

func (s *Stats) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}

func (s *Stats) Summary() Summary {
	return Summarize(s.Snapshot())
}

// Summarize derives the wire summary. The average is rounded and zero when
// no answer was seen.
func Summarize(c Counters) Summary {
	avg := 0
	if c.AnswersSeen > 0 {
		avg = int(math.Round(float64(c.TotalAnswerTokens) / float64(c.AnswersSeen)))
	}
	return Summary{SessionTokens: c.TokensSeen, AnswersCount: c.AnswersSeen, AvgAnswerTokens: avg}
}

func (s *Stats) scheduleLocked() {
	if s.store == nil {
		return
	}
	s.dirty = true
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.delay, func() {
		if err := s.Flush(context.Background()); err != nil {
			slog.Warn("stats flush failed", "err", err)
		}
	})
}

// Flush writes pending changes now.
func (s *Stats) Flush(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.dirty || s.store == nil {
		s.mu.Unlock()
		return nil
	}
	c := s.c
	s.dirty = false
	s.mu.Unlock()
	return s.store.Save(ctx, c)
}

// Close flushes outstanding changes.
func (s *Stats) Close(ctx context.Context) error {
	return s.Flush(ctx)
}
