package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/pplxhelper/pplxhelper/internal/config"
	"github.com/samber/lo"
)

const TargetTypePage = "page"

var ErrNoBrowser = errors.New("no browser connection")

// TabSetupFunc runs once on every freshly attached tab context.
type TabSetupFunc func(ctx context.Context, tabID string)

type TabManager struct {
	browserCtx context.Context
	config     *config.RuntimeConfig
	tabs       map[string]*TabEntry
	attaching  map[string]chan struct{}
	onTabSetup TabSetupFunc
	attach     func(tabID string) (context.Context, context.CancelFunc, error)
	mu         sync.RWMutex
}

func NewTabManager(browserCtx context.Context, cfg *config.RuntimeConfig, onTabSetup TabSetupFunc) *TabManager {
	tm := &TabManager{
		browserCtx: browserCtx,
		config:     cfg,
		tabs:       make(map[string]*TabEntry),
		attaching:  make(map[string]chan struct{}),
		onTabSetup: onTabSetup,
	}
	tm.attach = tm.attachTarget
	return tm
}

// Attached reports whether the tab already has a context.
func (tm *TabManager) Attached(tabID string) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	_, ok := tm.tabs[tabID]
	return ok
}

// TabContext returns the chromedp context of a tab, attaching to it first
// if needed. An empty tabID picks the first host tab.
func (tm *TabManager) TabContext(tabID string) (context.Context, string, error) {
	if tabID == "" {
		tabs, err := tm.HostTabs()
		if err != nil {
			return nil, "", err
		}
		if len(tabs) == 0 {
			return nil, "", fmt.Errorf("no host tab open")
		}
		tabID = string(tabs[0].TargetID)
	}

	// One attach per tab at a time. A second chromedp context on the same
	// target would close the tab when cancelled.
	for {
		tm.mu.Lock()
		if entry, ok := tm.tabs[tabID]; ok && entry.Ctx != nil {
			tm.mu.Unlock()
			return entry.Ctx, tabID, nil
		}
		inflight, busy := tm.attaching[tabID]
		if !busy {
			break
		}
		tm.mu.Unlock()
		<-inflight
	}
	done := make(chan struct{})
	tm.attaching[tabID] = done
	tm.mu.Unlock()

	ctx, cancel, err := tm.attach(tabID)

	tm.mu.Lock()
	delete(tm.attaching, tabID)
	if err == nil {
		tm.tabs[tabID] = &TabEntry{Ctx: ctx, Cancel: cancel}
	}
	tm.mu.Unlock()
	close(done)
	if err != nil {
		return nil, "", err
	}

	if tm.onTabSetup != nil {
		tm.onTabSetup(ctx, tabID)
	}
	return ctx, tabID, nil
}

func (tm *TabManager) attachTarget(tabID string) (context.Context, context.CancelFunc, error) {
	if tm.browserCtx == nil {
		return nil, nil, ErrNoBrowser
	}
	ctx, cancel := chromedp.NewContext(tm.browserCtx, chromedp.WithTargetID(target.ID(tabID)))
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("tab %s not found: %w", tabID, err)
	}
	return ctx, cancel, nil
}

// CreateTab opens a new tab at url and attaches to it.
func (tm *TabManager) CreateTab(url string) (string, context.Context, error) {
	if tm.browserCtx == nil {
		return "", nil, ErrNoBrowser
	}
	if url == "" {
		url = "about:blank"
	}

	var targetID target.ID
	createCtx, createCancel := context.WithTimeout(tm.browserCtx, 10*time.Second)
	err := chromedp.Run(createCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			targetID, err = target.CreateTarget(url).Do(ctx)
			return err
		}),
	)
	createCancel()
	if err != nil {
		return "", nil, fmt.Errorf("create target: %w", err)
	}

	ctx, id, err := tm.TabContext(string(targetID))
	if err != nil {
		return "", nil, err
	}
	return id, ctx, nil
}

// ActivateTab brings a tab to the front of its window.
func (tm *TabManager) ActivateTab(tabID string) error {
	if tm.browserCtx == nil {
		return ErrNoBrowser
	}
	ctx, cancel := context.WithTimeout(tm.browserCtx, 5*time.Second)
	defer cancel()
	c := chromedp.FromContext(ctx)
	if c == nil || c.Browser == nil {
		return ErrNoBrowser
	}
	if err := target.ActivateTarget(target.ID(tabID)).Do(cdp.WithExecutor(ctx, c.Browser)); err != nil {
		return fmt.Errorf("activate %s: %w", tabID, err)
	}
	return nil
}

func (tm *TabManager) ListTargets() ([]*target.Info, error) {
	if tm.browserCtx == nil {
		return nil, ErrNoBrowser
	}
	var targets []*target.Info
	if err := chromedp.Run(tm.browserCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			targets, err = target.GetTargets().Do(ctx)
			return err
		}),
	); err != nil {
		return nil, fmt.Errorf("get targets: %w", err)
	}
	return lo.Filter(targets, func(t *target.Info, _ int) bool {
		return t.Type == TargetTypePage
	}), nil
}

// HostTabs lists the page targets showing the host site.
func (tm *TabManager) HostTabs() ([]*target.Info, error) {
	targets, err := tm.ListTargets()
	if err != nil {
		return nil, err
	}
	return lo.Filter(targets, func(t *target.Info, _ int) bool {
		return tm.config != nil && tm.config.IsHostURL(t.URL)
	}), nil
}

// CleanStaleTabs periodically detaches from tabs that were closed and
// reports each one to onGone.
func (tm *TabManager) CleanStaleTabs(ctx context.Context, interval time.Duration, onGone func(tabID string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		targets, err := tm.ListTargets()
		if err != nil {
			continue
		}
		alive := lo.SliceToMap(targets, func(t *target.Info) (string, bool) {
			return string(t.TargetID), true
		})
		for _, id := range tm.dropMissing(alive) {
			slog.Info("cleaned stale tab", "id", id)
			if onGone != nil {
				onGone(id)
			}
		}
	}
}

func (tm *TabManager) dropMissing(alive map[string]bool) []string {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	var gone []string
	for id, entry := range tm.tabs {
		if alive[id] {
			continue
		}
		if entry.Cancel != nil {
			entry.Cancel()
		}
		delete(tm.tabs, id)
		gone = append(gone, id)
	}
	return gone
}

func (tm *TabManager) detachAll() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for id, entry := range tm.tabs {
		if entry.Cancel != nil {
			entry.Cancel()
		}
		delete(tm.tabs, id)
	}
}
