package companion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pplxhelper/pplxhelper/internal/config"
	"github.com/pplxhelper/pplxhelper/internal/delivery"
	"github.com/pplxhelper/pplxhelper/internal/dom"
	"github.com/pplxhelper/pplxhelper/internal/events"
	"github.com/pplxhelper/pplxhelper/internal/inject"
	"github.com/pplxhelper/pplxhelper/internal/messages"
	"github.com/pplxhelper/pplxhelper/internal/rewrite"
	"github.com/pplxhelper/pplxhelper/internal/stats"
)

func deliveryPayload(tabID, text string, mode inject.Mode, focus bool) delivery.Payload {
	return delivery.Payload{TargetID: tabID, Text: text, Mode: mode, Focus: focus}
}

type rewriteEvent struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Improve rewrites prompt once through the remote model.
func (c *Companion) Improve(ctx context.Context, prompt string) (string, error) {
	if c.rewriter == nil {
		return "", rewrite.ErrNoCredential
	}
	ctx, cancel := context.WithTimeout(ctx, c.rewriteTimeout())
	defer cancel()
	text, err := c.rewriter.Rewrite(ctx, prompt)
	c.publish(events.KindRewrite, rewriteEvent{OK: err == nil, Error: rewrite.ErrorCode(err)})
	if err != nil {
		slog.Warn("rewrite failed", "err", err)
	}
	return text, err
}

// resolveTab picks the tab an action applies to. An empty id means the
// first host tab; with open set a new host tab is opened when none exists.
func (c *Companion) resolveTab(tabID string, open bool) (string, error) {
	if tabID != "" {
		if _, _, err := c.browser.TabContext(tabID); err != nil {
			return "", fmt.Errorf("%w: %v", messages.ErrNoTarget, err)
		}
		return tabID, nil
	}
	tabs, err := c.browser.HostTabs()
	if err == nil && len(tabs) > 0 {
		id := string(tabs[0].TargetID)
		if _, _, err := c.browser.TabContext(id); err == nil {
			return id, nil
		}
	}
	if !open {
		return "", messages.ErrNoTarget
	}
	id, _, err := c.browser.CreateTab(c.hostURL())
	if err != nil {
		return "", fmt.Errorf("%w: %v", messages.ErrNoTarget, err)
	}
	return id, nil
}

func (c *Companion) hostURL() string {
	if c.cfg != nil && c.cfg.HostURL != "" {
		return c.cfg.HostURL
	}
	return config.DefaultHostURL
}

// SetPrompt queues a delivery. Without a host tab one is opened and the
// delivery waits for it to load.
func (c *Companion) SetPrompt(ctx context.Context, tabID string, p delivery.Payload) (*delivery.Ticket, error) {
	id, err := c.resolveTab(tabID, true)
	if err != nil {
		return nil, err
	}
	p.TargetID = id
	return c.coord.Request(ctx, p), nil
}

func (c *Companion) FocusPrompt(ctx context.Context, tabID string) (bool, error) {
	id, err := c.resolveTab(tabID, false)
	if err != nil {
		return false, err
	}
	if err := c.browser.ActivateTab(id); err != nil {
		slog.Debug("activate failed", "tab", id, "err", err)
	}
	return c.focusPrompt(ctx, id)
}

func (c *Companion) SessionStats() stats.Summary {
	if c.stats == nil {
		return stats.Summary{}
	}
	return c.stats.Summary()
}

func (c *Companion) ResetSession() {
	if c.stats != nil {
		c.stats.Reset()
	}
}

func (c *Companion) LocateModes(ctx context.Context, tabID string) (*dom.ContainerHandle, error) {
	id, err := c.resolveTab(tabID, false)
	if err != nil {
		return nil, err
	}
	ev, err := c.evalFor(id)
	if err != nil {
		return nil, err
	}
	return dom.LocateModeButtonRow(ctx, ev, "", c.classifier)
}

// FocusOrOpen brings the first host tab to the front and focuses its
// prompt, or opens the host site when no tab shows it. Calling it again
// changes nothing beyond focus.
func (c *Companion) FocusOrOpen(ctx context.Context) (string, bool, error) {
	if id, err := c.resolveTab("", false); err == nil {
		if err := c.browser.ActivateTab(id); err != nil {
			return "", false, err
		}
		if _, err := c.focusPrompt(ctx, id); err != nil {
			slog.Debug("focus prompt failed", "tab", id, "err", err)
		}
		return id, false, nil
	}
	id, _, err := c.browser.CreateTab(c.hostURL())
	if err != nil {
		return "", false, err
	}
	if err := c.browser.ActivateTab(id); err != nil {
		slog.Debug("activate failed", "tab", id, "err", err)
	}
	return id, true, nil
}

// ImprovePrompt rewrites the prompt currently typed in a tab.
func (c *Companion) ImprovePrompt(ctx context.Context, tabID string) (string, error) {
	id, err := c.resolveTab(tabID, false)
	if err != nil {
		return "", err
	}
	return c.ImproveTab(ctx, id, "")
}
