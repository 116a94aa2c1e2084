package companion

import (
	"context"
	"errors"
	"fmt"

	"github.com/pplxhelper/pplxhelper/internal/delivery"
	"github.com/pplxhelper/pplxhelper/internal/dom"
	"github.com/pplxhelper/pplxhelper/internal/inject"
	"github.com/pplxhelper/pplxhelper/internal/observer"
)

var (
	errInputNotFound = errors.New("prompt input not found")
	errWriteRejected = errors.New("prompt input rejected the write")
)

// Ready reports whether the tab's document finished loading.
func (c *Companion) Ready(ctx context.Context, tabID string) bool {
	ev, err := c.evalFor(tabID)
	if err != nil {
		return false
	}
	var state string
	if err := ev.Evaluate(ctx, "document.readyState", &state); err != nil {
		return false
	}
	return state == "complete"
}

// Inject performs one delivery attempt: locate the input, merge with its
// current text, write, then optionally focus and submit.
func (c *Companion) Inject(ctx context.Context, p delivery.Payload) error {
	ev, err := c.evalFor(p.TargetID)
	if err != nil {
		return err
	}
	h, err := dom.LocatePromptInput(ctx, ev)
	if err != nil {
		return err
	}
	if h == nil {
		return errInputNotFound
	}

	text := p.Text
	if p.Mode != inject.Replace {
		existing, ok, err := inject.ReadText(ctx, ev, h)
		if err != nil {
			return err
		}
		if !ok {
			return errInputNotFound
		}
		text = inject.MergeText(existing, p.Text, p.Mode)
	}

	ok, err := inject.WriteText(ctx, ev, h, text)
	if err != nil {
		return err
	}
	if !ok {
		return errWriteRejected
	}

	// The text is in the page now; later failures must not cause a second write.
	if p.Focus || p.AutoSubmit {
		if _, err := inject.FocusInput(ctx, ev, h); err != nil {
			return &delivery.AfterWriteError{Err: fmt.Errorf("focus: %w", err)}
		}
	}
	if p.AutoSubmit {
		if err := c.pressEnter(ctx, p.TargetID); err != nil {
			return &delivery.AfterWriteError{Err: fmt.Errorf("submit: %w", err)}
		}
		if opts := c.currentOptions(); opts.EnablePromptCounter && c.stats != nil {
			c.stats.AddPrompt(observer.ApproxTokens(text, opts.CharsPerToken))
		}
	}
	return nil
}

// focusPrompt focuses the input of a tab without writing to it.
func (c *Companion) focusPrompt(ctx context.Context, tabID string) (bool, error) {
	ev, err := c.evalFor(tabID)
	if err != nil {
		return false, err
	}
	h, err := dom.LocatePromptInput(ctx, ev)
	if err != nil || h == nil {
		return false, err
	}
	return inject.FocusInput(ctx, ev, h)
}

// readPrompt returns the current prompt text of a tab.
func (c *Companion) readPrompt(ctx context.Context, tabID string) (string, error) {
	ev, err := c.evalFor(tabID)
	if err != nil {
		return "", err
	}
	h, err := dom.LocatePromptInput(ctx, ev)
	if err != nil {
		return "", err
	}
	if h == nil {
		return "", errInputNotFound
	}
	text, ok, err := inject.ReadText(ctx, ev, h)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errInputNotFound
	}
	return text, nil
}
