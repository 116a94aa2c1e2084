package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/pplxhelper/pplxhelper/internal/config"
)

const chromeStartTimeout = 15 * time.Second

// InitChrome either attaches to the browser at cfg.CdpURL or launches a
// Chrome with the daemon's own profile, and returns the contexts ready for
// use.
func InitChrome(cfg *config.RuntimeConfig) (context.Context, context.CancelFunc, context.Context, context.CancelFunc, error) {
	allocCtx, allocCancel, err := setupAllocator(cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	browserCtx, browserCancel, err := startChrome(allocCtx)
	if err != nil && cfg.CdpURL == "" {
		slog.Warn("chrome startup failed, clearing sessions and retrying once", "err", err)
		allocCancel()
		ClearChromeSessions(cfg.ProfileDir)
		allocCtx, allocCancel, _ = setupAllocator(cfg)
		browserCtx, browserCancel, err = startChrome(allocCtx)
	}
	if err != nil {
		allocCancel()
		return nil, nil, nil, nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	slog.Info("chrome ready", "remote", cfg.CdpURL != "", "headless", cfg.Headless, "profile", cfg.ProfileDir)
	return allocCtx, allocCancel, browserCtx, browserCancel, nil
}

func setupAllocator(cfg *config.RuntimeConfig) (context.Context, context.CancelFunc, error) {
	if cfg.CdpURL != "" {
		slog.Info("connecting to chrome", "url", cfg.CdpURL)
		ctx, cancel := chromedp.NewRemoteAllocator(context.Background(), cfg.CdpURL)
		return ctx, cancel, nil
	}

	if err := PrepareProfile(cfg.ProfileDir); err != nil {
		return nil, nil, fmt.Errorf("prepare profile: %w", err)
	}
	slog.Info("launching chrome", "profile", cfg.ProfileDir, "headless", cfg.Headless)
	ctx, cancel := chromedp.NewExecAllocator(context.Background(), buildChromeOpts(cfg)...)
	return ctx, cancel, nil
}

func buildChromeOpts(cfg *config.RuntimeConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.UserDataDir(cfg.ProfileDir),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,

		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-session-crashed-bubble", true),
		chromedp.Flag("hide-crash-restore-bubble", true),
		chromedp.Flag("disable-sync", true),

		chromedp.WindowSize(randomWindowSize()),
	}
	if cfg.ChromeBinary != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromeBinary))
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

func startChrome(allocCtx context.Context) (context.Context, context.CancelFunc, error) {
	bCtx, bCancel := chromedp.NewContext(allocCtx)

	startCtx, startDone := context.WithTimeout(context.Background(), chromeStartTimeout)
	defer startDone()

	errCh := make(chan error, 1)
	go func() {
		errCh <- chromedp.Run(bCtx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			bCancel()
			return nil, nil, err
		}
		return bCtx, bCancel, nil
	case <-startCtx.Done():
		bCancel()
		return nil, nil, fmt.Errorf("timed out after %s", chromeStartTimeout)
	}
}

func randomWindowSize() (int, int) {
	sizes := [][2]int{
		{1920, 1080}, {1366, 768}, {1536, 864}, {1440, 900},
		{1280, 720}, {1600, 900}, {1280, 800},
	}
	s := sizes[rand.Intn(len(sizes))]
	return s[0], s[1]
}
