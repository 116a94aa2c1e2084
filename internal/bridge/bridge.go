// Package bridge owns the CDP connection to Chrome and the per-tab
// chromedp contexts.
package bridge

import (
	"context"
	"sync"

	"github.com/pplxhelper/pplxhelper/internal/config"
)

type TabEntry struct {
	Ctx    context.Context
	Cancel context.CancelFunc
}

type Bridge struct {
	AllocCtx      context.Context
	AllocCancel   context.CancelFunc
	BrowserCtx    context.Context
	BrowserCancel context.CancelFunc
	Config        *config.RuntimeConfig
	*TabManager

	closeOnce sync.Once
}

// New wraps already started browser contexts. onTabSetup runs once for
// every tab context the bridge creates.
func New(allocCtx context.Context, allocCancel context.CancelFunc, browserCtx context.Context, browserCancel context.CancelFunc, cfg *config.RuntimeConfig, onTabSetup TabSetupFunc) *Bridge {
	return &Bridge{
		AllocCtx:      allocCtx,
		AllocCancel:   allocCancel,
		BrowserCtx:    browserCtx,
		BrowserCancel: browserCancel,
		Config:        cfg,
		TabManager:    NewTabManager(browserCtx, cfg, onTabSetup),
	}
}

// Start launches or attaches to Chrome according to cfg.
func Start(cfg *config.RuntimeConfig, onTabSetup TabSetupFunc) (*Bridge, error) {
	allocCtx, allocCancel, browserCtx, browserCancel, err := InitChrome(cfg)
	if err != nil {
		return nil, err
	}
	return New(allocCtx, allocCancel, browserCtx, browserCancel, cfg, onTabSetup), nil
}

// Close detaches from every tab and shuts the browser connection down. A
// launched Chrome exits; a remote one keeps running.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		// Cancelling a tab context closes the tab, which must not happen to
		// the user's own browser.
		if b.TabManager != nil && (b.Config == nil || b.Config.CdpURL == "") {
			b.TabManager.detachAll()
		}
		if b.BrowserCancel != nil {
			b.BrowserCancel()
		}
		if b.AllocCancel != nil {
			b.AllocCancel()
		}
	})
}
