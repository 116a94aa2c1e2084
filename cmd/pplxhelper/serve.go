package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/pplxhelper/pplxhelper/internal/bridge"
	"github.com/pplxhelper/pplxhelper/internal/companion"
	"github.com/pplxhelper/pplxhelper/internal/config"
	"github.com/pplxhelper/pplxhelper/internal/events"
	"github.com/pplxhelper/pplxhelper/internal/handlers"
	"github.com/pplxhelper/pplxhelper/internal/rewrite"
	"github.com/pplxhelper/pplxhelper/internal/stats"
	"github.com/spf13/cobra"
)

func newServeCmd(cfg *config.RuntimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Attach to Chrome and run the companion daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cdp, _ := cmd.Flags().GetString("cdp"); cdp != "" {
				cfg.CdpURL = cdp
			}
			if cmd.Flags().Changed("headless") {
				cfg.Headless, _ = cmd.Flags().GetBool("headless")
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().String("cdp", "", "Attach to a running Chrome at this DevTools URL instead of launching one")
	cmd.Flags().Bool("headless", false, "Launch Chrome headless")
	return cmd
}

func runServe(cfg *config.RuntimeConfig) error {
	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	opts := config.NewOptionsStore(cfg.StateDir)
	if err := opts.Load(); err != nil {
		slog.Warn("options file unreadable, using defaults", "path", opts.Path(), "err", err)
	}
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := opts.Watch(watchCtx); err != nil {
		slog.Warn("options watch disabled", "err", err)
	}

	store, err := stats.OpenSQLite(filepath.Join(cfg.StateDir, stats.DBFileName))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	counters := stats.New(context.Background(), store, 0)

	rw := rewrite.NewClient(func() (string, string) {
		o := opts.Get()
		return config.ResolveAPIKey(o), o.OpenRouterModel
	})
	hub := events.NewHub(0)

	// Tabs are attached by the companion's scan, which starts after comp is
	// set, so the setup hook never sees a nil companion.
	var comp *companion.Companion
	b, err := bridge.Start(cfg, func(ctx context.Context, tabID string) {
		comp.SetupTab(ctx, tabID)
	})
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}

	comp = companion.New(companion.Deps{
		Config:   cfg,
		Options:  opts,
		Browser:  b,
		Stats:    counters,
		Rewriter: rw,
		Hub:      hub,
	})

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go comp.Run(runCtx)
	go b.CleanStaleTabs(runCtx, 5*cfg.TabScanInterval, comp.TabGone)

	h := handlers.New(cfg, b, comp.Router(), comp.Coordinator(), opts, hub)
	h.Version = version
	mux := http.NewServeMux()
	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handlers.Chain(cfg, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownOnce := &sync.Once{}
	doShutdown := func() {
		shutdownOnce.Do(func() {
			slog.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(ctx)
			runCancel()
			watchCancel()
			comp.Close(ctx)
			if cfg.CdpURL == "" {
				bridge.MarkCleanExit(cfg.ProfileDir)
			}
			b.Close()
			slog.Info("browser detached")
		})
	}
	h.RegisterRoutes(mux, doShutdown)

	setupSignalHandler(doShutdown, func() {
		runCancel()
		b.Close()
	})

	slog.Info("pplxhelper listening", "addr", cfg.ListenAddr(), "cdp", cfg.CdpURL, "host", cfg.HostURL, "version", version)
	if cfg.Token != "" {
		slog.Info("auth enabled")
	} else {
		slog.Info("auth disabled (set PPLX_TOKEN to enable)")
	}
	go runStartupHealthCheck(cfg)

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	doShutdown()
	return nil
}

func setupSignalHandler(shutdownFn func(), forceFn func()) {
	go func() {
		sig := make(chan os.Signal, 2)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		go shutdownFn()
		<-sig
		slog.Warn("force shutdown requested")
		forceFn()
		os.Exit(130)
	}()
}

func runStartupHealthCheck(cfg *config.RuntimeConfig) {
	time.Sleep(500 * time.Millisecond)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(cfg.BaseURL() + "/health")
	if err != nil {
		slog.Error("startup health check failed", "err", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		slog.Info("startup health check passed")
	} else {
		slog.Warn("startup health check unexpected status", "status", resp.StatusCode)
	}
}
