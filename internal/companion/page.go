package companion

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/pplxhelper/pplxhelper/internal/assets"
	"github.com/pplxhelper/pplxhelper/internal/config"
	"github.com/pplxhelper/pplxhelper/internal/dom"
	"github.com/pplxhelper/pplxhelper/internal/inject"
	"github.com/pplxhelper/pplxhelper/internal/messages"
	"github.com/pplxhelper/pplxhelper/internal/observer"
	"github.com/pplxhelper/pplxhelper/internal/rewrite"
)

const (
	hintNoCredential = "Добавь OpenRouter API ключ в настройках"
	hintFailed       = "Не удалось улучшить промпт: "
)

// SetupTab is the bridge's tab setup hook: it installs the page script
// and the binding, and routes load and binding events of the tab.
func (c *Companion) SetupTab(ctx context.Context, tabID string) {
	chromedp.ListenTarget(ctx, func(ev any) {
		switch e := ev.(type) {
		case *page.EventLoadEventFired:
			go func() {
				c.coord.Signal(tabID)
				c.configureTab(context.Background(), tabID)
			}()
		case *runtime.EventBindingCalled:
			if e.Name == assets.BindingName {
				go c.handleBinding(tabID, e.Payload)
			}
		}
	})

	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := runtime.AddBinding(assets.BindingName).Do(ctx); err != nil {
			return err
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(assets.PageScript).Do(ctx); err != nil {
			return err
		}
		return chromedp.Evaluate(assets.PageScript, nil).Do(ctx)
	}))
	if err != nil {
		slog.Warn("page script install failed", "tab", tabID, "err", err)
	}

	c.mu.Lock()
	c.tabs[tabID] = true
	c.mu.Unlock()
	slog.Info("attached host tab", "tab", tabID)

	if c.Ready(ctx, tabID) {
		c.coord.Signal(tabID)
	}
	c.configureTab(ctx, tabID)
}

type pageMessage struct {
	Type   string          `json:"type"`
	Action string          `json:"action,omitempty"`
	Prompt string          `json:"prompt,omitempty"`
	Answer observer.Answer `json:"answer"`
}

func (c *Companion) handleBinding(tabID, payload string) {
	var msg pageMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		slog.Debug("bad binding payload", "tab", tabID, "err", err)
		return
	}
	switch msg.Type {
	case "answer":
		msg.Answer.TargetID = tabID
		c.observer.Enqueue(msg.Answer)
	case "command":
		if msg.Action == messages.ActionImprovePrompt {
			ctx, cancel := context.WithTimeout(context.Background(), c.rewriteTimeout()+c.actionTimeout())
			defer cancel()
			if _, err := c.ImproveTab(ctx, tabID, msg.Prompt); err != nil {
				slog.Debug("improve from page failed", "tab", tabID, "err", err)
			}
		}
	default:
		slog.Debug("unknown page message", "tab", tabID, "type", msg.Type)
	}
}

type improveState struct {
	Visible bool   `json:"visible"`
	Enabled bool   `json:"enabled"`
	Busy    bool   `json:"busy"`
	Hint    string `json:"hint"`
}

type pageConfig struct {
	AnswerSelector string       `json:"answerSelector,omitempty"`
	Improve        improveState `json:"improve"`
}

func (c *Companion) buttonState(tabID string, opts config.Options, hint string) improveState {
	c.mu.Lock()
	busy := c.busy[tabID]
	c.mu.Unlock()
	hasKey := config.ResolveAPIKey(opts) != ""
	if !hasKey {
		hint = hintNoCredential
	}
	return improveState{Visible: opts.EnableImprovePrompt, Enabled: hasKey, Busy: busy, Hint: hint}
}

func (c *Companion) configureTab(ctx context.Context, tabID string) {
	c.pushConfig(ctx, tabID, "")
}

func (c *Companion) pushConfig(ctx context.Context, tabID, hint string) {
	opts := c.currentOptions()
	cfg := pageConfig{AnswerSelector: opts.AnswerSelector, Improve: c.buttonState(tabID, opts, hint)}
	if err := c.callPage(ctx, tabID, "configure", cfg); err != nil {
		slog.Debug("configure page failed", "tab", tabID, "err", err)
	}
}

// callPage invokes window.__pplxHelper[method](arg) in a tab.
func (c *Companion) callPage(ctx context.Context, tabID, method string, arg any) error {
	ev, err := c.evalFor(tabID)
	if err != nil {
		return err
	}
	expr, err := dom.Call(`function(a) { const h = window.__pplxHelper; return !!(h && h.`+method+`(a)); }`, arg)
	if err != nil {
		return err
	}
	var ok bool
	if err := ev.Evaluate(ctx, expr, &ok); err != nil {
		return err
	}
	if !ok {
		return errors.New("page helper not ready")
	}
	return nil
}

// Annotate renders an annotation after its answer.
func (c *Companion) Annotate(ctx context.Context, a observer.Annotation) error {
	return c.callPage(ctx, a.TargetID, "annotate", a)
}

func (c *Companion) setBusy(tabID string, busy bool) {
	c.mu.Lock()
	if busy {
		c.busy[tabID] = true
	} else {
		delete(c.busy, tabID)
	}
	c.mu.Unlock()
}

func (c *Companion) rewriteTimeout() time.Duration {
	if c.cfg != nil && c.cfg.RewriteTimeout > 0 {
		return c.cfg.RewriteTimeout
	}
	return 30 * time.Second
}

// ImproveTab rewrites the prompt of a tab and puts the result back into
// the input. prompt may be empty to use the input's current text. The
// in-page button is busy for the duration and afterwards shows a hint when
// the rewrite failed.
func (c *Companion) ImproveTab(ctx context.Context, tabID, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		text, err := c.readPrompt(ctx, tabID)
		if err != nil {
			return "", err
		}
		prompt = text
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", nil
	}

	c.setBusy(tabID, true)
	c.pushConfig(ctx, tabID, "")

	improved, err := c.Improve(ctx, prompt)

	c.setBusy(tabID, false)
	hint := ""
	if err != nil {
		if !errors.Is(err, rewrite.ErrNoCredential) {
			hint = hintFailed + rewrite.ErrorCode(err)
		}
		c.pushConfig(ctx, tabID, hint)
		return "", err
	}
	c.pushConfig(ctx, tabID, hint)

	if strings.TrimSpace(improved) == "" {
		improved = prompt
	}
	t := c.coord.Request(ctx, deliveryPayload(tabID, improved, inject.Replace, true))
	if _, err := t.Wait(ctx); err != nil {
		return improved, err
	}
	if o := t.Outcome(); o.Err != nil {
		return improved, o.Err
	}
	return improved, nil
}
