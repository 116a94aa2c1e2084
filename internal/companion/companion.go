// Package companion wires the browser bridge to the delivery, observer,
// rewrite and stats components for every host tab.
package companion

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pplxhelper/pplxhelper/internal/bridge"
	"github.com/pplxhelper/pplxhelper/internal/config"
	"github.com/pplxhelper/pplxhelper/internal/delivery"
	"github.com/pplxhelper/pplxhelper/internal/dom"
	"github.com/pplxhelper/pplxhelper/internal/events"
	"github.com/pplxhelper/pplxhelper/internal/messages"
	"github.com/pplxhelper/pplxhelper/internal/observer"
	"github.com/pplxhelper/pplxhelper/internal/stats"
)

// PendingMaxAge bounds how long a delivery may wait for its tab to load.
const PendingMaxAge = 2 * time.Minute

// Rewriter rewrites a prompt through the remote model.
type Rewriter interface {
	Rewrite(ctx context.Context, prompt string) (string, error)
}

type Deps struct {
	Config     *config.RuntimeConfig
	Options    *config.OptionsStore
	Browser    bridge.BridgeAPI
	Stats      *stats.Stats
	Rewriter   Rewriter
	Hub        *events.Hub
	Classifier dom.ElementClassifier
	Clock      delivery.Clock
}

type Companion struct {
	cfg        *config.RuntimeConfig
	options    *config.OptionsStore
	browser    bridge.BridgeAPI
	stats      *stats.Stats
	rewriter   Rewriter
	hub        *events.Hub
	classifier dom.ElementClassifier

	coord    *delivery.Coordinator
	observer *observer.Observer
	router   *messages.Router

	// Overridable for tests.
	evalFor    func(tabID string) (dom.Evaluator, error)
	pressEnter func(ctx context.Context, tabID string) error

	mu   sync.Mutex
	tabs map[string]bool
	busy map[string]bool
}

func New(d Deps) *Companion {
	c := &Companion{
		cfg:        d.Config,
		options:    d.Options,
		browser:    d.Browser,
		stats:      d.Stats,
		rewriter:   d.Rewriter,
		hub:        d.Hub,
		classifier: d.Classifier,
		tabs:       make(map[string]bool),
		busy:       make(map[string]bool),
	}
	if c.classifier == nil {
		c.classifier = dom.DefaultClassifier
	}
	c.evalFor = c.tabEvaluator
	c.pressEnter = c.tabPressEnter

	maxPending := 0
	if d.Config != nil {
		maxPending = d.Config.MaxPendingDeliveries
	}
	c.coord = delivery.New(c, d.Clock, delivery.Config{MaxPending: maxPending}, func(o delivery.Outcome) {
		c.publish(events.KindDelivery, o)
	})
	var counter observer.Counter
	if d.Stats != nil {
		counter = d.Stats
	}
	c.observer = observer.New(c, counter, c.currentOptions, func(a observer.Annotation) {
		c.publish(events.KindAnswer, a)
	})
	c.router = messages.NewRouter(c)

	if d.Options != nil {
		d.Options.OnChange(c.optionsChanged)
	}
	return c
}

func (c *Companion) Router() *messages.Router {
	return c.router
}

func (c *Companion) Coordinator() *delivery.Coordinator {
	return c.coord
}

func (c *Companion) Observer() *observer.Observer {
	return c.observer
}

func (c *Companion) currentOptions() config.Options {
	if c.options == nil {
		return config.DefaultOptions()
	}
	return c.options.Get()
}

func (c *Companion) publish(kind events.Kind, data any) {
	if c.hub != nil {
		c.hub.Publish(kind, data)
	}
}

func (c *Companion) actionTimeout() time.Duration {
	if c.cfg != nil && c.cfg.ActionTimeout > 0 {
		return c.cfg.ActionTimeout
	}
	return 15 * time.Second
}

func (c *Companion) tabEvaluator(tabID string) (dom.Evaluator, error) {
	ctx, _, err := c.browser.TabContext(tabID)
	if err != nil {
		return nil, err
	}
	return bridge.TabEvaluator{Tab: ctx, Timeout: c.actionTimeout()}, nil
}

func (c *Companion) tabPressEnter(ctx context.Context, tabID string) error {
	tab, _, err := c.browser.TabContext(tabID)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(tab, c.actionTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return bridge.PressEnter(runCtx)
}

func (c *Companion) attachedTabs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.tabs))
	for id := range c.tabs {
		out = append(out, id)
	}
	return out
}

// Run attaches to host tabs as they appear and evicts deliveries that
// waited too long, until ctx ends.
func (c *Companion) Run(ctx context.Context) {
	interval := 2 * time.Second
	if c.cfg != nil && c.cfg.TabScanInterval > 0 {
		interval = c.cfg.TabScanInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c.scan()
		if n := c.coord.Sweep(PendingMaxAge); n > 0 {
			slog.Info("evicted stale deliveries", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Companion) scan() {
	tabs, err := c.browser.HostTabs()
	if err != nil {
		slog.Debug("host tab scan failed", "err", err)
		return
	}
	for _, t := range tabs {
		id := string(t.TargetID)
		c.mu.Lock()
		known := c.tabs[id]
		c.mu.Unlock()
		if known {
			continue
		}
		if _, _, err := c.browser.TabContext(id); err != nil {
			slog.Debug("attach failed", "tab", id, "err", err)
		}
	}
}

// TabGone drops all state held for a closed tab.
func (c *Companion) TabGone(tabID string) {
	c.mu.Lock()
	delete(c.tabs, tabID)
	delete(c.busy, tabID)
	c.mu.Unlock()
	c.coord.Forget(tabID)
	c.observer.Forget(tabID)
}

func (c *Companion) optionsChanged(o config.Options) {
	slog.Info("options changed")
	c.publish(events.KindOptions, o.Redacted())
	for _, id := range c.attachedTabs() {
		go c.configureTab(context.Background(), id)
	}
}

// Close stops pending deliveries and flushes the counters.
func (c *Companion) Close(ctx context.Context) {
	c.coord.Close()
	if c.stats != nil {
		if err := c.stats.Close(ctx); err != nil {
			slog.Warn("stats flush failed", "err", err)
		}
	}
}
