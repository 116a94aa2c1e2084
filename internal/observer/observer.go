// Package observer turns answers rendered in the page into token counts,
// diff and timeline annotations.
package observer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pplxhelper/pplxhelper/internal/config"
)

const (
	DefaultQuietPeriod = 150 * time.Millisecond
	maxSeen            = 4096
)

// Answer is one answer container as reported by the page script.
type Answer struct {
	TargetID string   `json:"targetId"`
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Height   float64  `json:"height"`
	Markers  []Marker `json:"markers,omitempty"`
}

type Level string

const (
	LevelInfo Level = "info"
	LevelSoft Level = "soft"
	LevelHard Level = "hard"
)

// Annotation is what gets appended after an answer.
type Annotation struct {
	TargetID      string         `json:"targetId"`
	AnswerID      string         `json:"answerId"`
	Tokens        int            `json:"tokens"`
	SessionTokens int            `json:"sessionTokens,omitempty"`
	Diff          *int           `json:"diff,omitempty"`
	Timeline      []TimelineMark `json:"timeline,omitempty"`
	Level         Level          `json:"level"`
}

// Annotator renders an annotation next to its answer without touching the
// host page's own nodes.
type Annotator interface {
	Annotate(ctx context.Context, a Annotation) error
}

// Counter accumulates answer tokens and returns the session total.
type Counter interface {
	AddAnswer(tokens int) int
}

type Observer struct {
	annotator Annotator
	counter   Counter
	options   func() config.Options
	quiet     time.Duration
	onAnswer  func(Annotation)

	mu     sync.Mutex
	queue  []Answer
	queued map[string]bool
	timer  *time.Timer

	// procMu serializes batches so counters are never raced.
	procMu    sync.Mutex
	seen      map[string]bool
	seenOrder []string
	last      map[string]string
}

// New builds an observer. options is consulted for every batch so toggles
// take effect without a restart. onAnswer may be nil.
func New(annotator Annotator, counter Counter, options func() config.Options, onAnswer func(Annotation)) *Observer {
	return &Observer{
		annotator: annotator,
		counter:   counter,
		options:   options,
		quiet:     DefaultQuietPeriod,
		onAnswer:  onAnswer,
		queued:    make(map[string]bool),
		seen:      make(map[string]bool),
		last:      make(map[string]string),
	}
}

// SetQuietPeriod overrides the batching delay.
func (o *Observer) SetQuietPeriod(d time.Duration) {
	o.mu.Lock()
	o.quiet = d
	o.mu.Unlock()
}

func key(a Answer) string {
	return a.TargetID + "/" + a.ID
}

// Enqueue queues an answer. Each new answer restarts the quiet period; the
// batch is processed once no answer arrived for that long.
func (o *Observer) Enqueue(a Answer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := key(a)
	if o.queued[k] {
		return
	}
	o.queued[k] = true
	o.queue = append(o.queue, a)
	if o.timer != nil {
		o.timer.Reset(o.quiet)
		return
	}
	o.timer = time.AfterFunc(o.quiet, o.flush)
}

func (o *Observer) flush() {
	o.mu.Lock()
	batch := o.queue
	o.queue = nil
	o.queued = make(map[string]bool)
	o.timer = nil
	o.mu.Unlock()
	if len(batch) > 0 {
		o.Process(context.Background(), batch)
	}
}

// Process handles one batch. Answers already processed are skipped, so
// running the same batch twice changes the counters only once.
func (o *Observer) Process(ctx context.Context, batch []Answer) []Annotation {
	o.procMu.Lock()
	defer o.procMu.Unlock()

	opts := config.DefaultOptions()
	if o.options != nil {
		opts = o.options()
	}

	var out []Annotation
	for _, a := range batch {
		k := key(a)
		if o.seen[k] {
			continue
		}
		o.markSeen(k)

		ann := Annotation{
			TargetID: a.TargetID,
			AnswerID: a.ID,
			Tokens:   ApproxTokens(a.Text, opts.CharsPerToken),
			Level:    LevelInfo,
		}
		if opts.EnableSessionCounter && o.counter != nil {
			ann.SessionTokens = o.counter.AddAnswer(ann.Tokens)
			ann.Level = levelFor(ann.SessionTokens, opts)
		}
		if opts.EnableDiff {
			if prev, ok := o.last[a.TargetID]; ok {
				d := DiffPercent(prev, a.Text)
				ann.Diff = &d
			}
		}
		o.last[a.TargetID] = a.Text
		if opts.EnableTimeline {
			ann.Timeline = Timeline(a.Height, a.Markers)
		}

		if o.annotator != nil {
			if err := o.annotator.Annotate(ctx, ann); err != nil {
				slog.Debug("annotate failed", "target", a.TargetID, "answer", a.ID, "err", err)
			}
		}
		if o.onAnswer != nil {
			o.onAnswer(ann)
		}
		out = append(out, ann)
	}
	return out
}

// Forget drops the remembered previous answer of a closed target.
func (o *Observer) Forget(targetID string) {
	o.procMu.Lock()
	delete(o.last, targetID)
	o.procMu.Unlock()
}

func (o *Observer) markSeen(k string) {
	o.seen[k] = true
	o.seenOrder = append(o.seenOrder, k)
	if len(o.seenOrder) > maxSeen {
		delete(o.seen, o.seenOrder[0])
		o.seenOrder = o.seenOrder[1:]
	}
}

func levelFor(tokens int, opts config.Options) Level {
	switch {
	case opts.HardLimitTokens > 0 && tokens >= opts.HardLimitTokens:
		return LevelHard
	case opts.SoftLimitTokens > 0 && tokens >= opts.SoftLimitTokens:
		return LevelSoft
	default:
		return LevelInfo
	}
}
