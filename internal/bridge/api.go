package bridge

import (
	"context"

	"github.com/chromedp/cdproto/target"
)

// BridgeAPI abstracts browser tab operations for testing.
type BridgeAPI interface {
	TabContext(tabID string) (ctx context.Context, resolvedID string, err error)
	ListTargets() ([]*target.Info, error)
	HostTabs() ([]*target.Info, error)
	CreateTab(url string) (tabID string, ctx context.Context, err error)
	ActivateTab(tabID string) error
}
