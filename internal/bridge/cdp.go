package bridge

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// TabEvaluator runs expressions in one tab. Each call is bounded by both
// the caller's context and Timeout.
type TabEvaluator struct {
	Tab     context.Context
	Timeout time.Duration
}

func (e TabEvaluator) Evaluate(ctx context.Context, expr string, out any) error {
	runCtx, cancel := context.WithCancel(e.Tab)
	defer cancel()
	if e.Timeout > 0 {
		var tcancel context.CancelFunc
		runCtx, tcancel = context.WithTimeout(runCtx, e.Timeout)
		defer tcancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, chromedp.Evaluate(expr, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
}

// PressEnter sends an Enter key press to the focused element.
func PressEnter(ctx context.Context) error {
	return chromedp.Run(ctx, chromedp.KeyEvent("\r"))
}
