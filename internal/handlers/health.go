package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/pplxhelper/pplxhelper/internal/web"
)

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.Browser == nil {
		web.JSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "reason": "browser not connected"})
		return
	}
	resp := map[string]any{
		"status":  "ok",
		"cdp":     h.Config.CdpURL,
		"host":    h.Config.HostURL,
		"uptimeS": int(time.Since(h.started).Seconds()),
	}
	if h.Version != "" {
		resp["version"] = h.Version
	}
	tabs, err := h.Browser.HostTabs()
	if err != nil {
		resp["status"] = "disconnected"
		resp["error"] = err.Error()
		web.JSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp["hostTabs"] = len(tabs)
	if h.Deliveries != nil {
		resp["pendingDeliveries"] = h.Deliveries.Pending()
	}
	web.JSON(w, http.StatusOK, resp)
}

// HandleTabs lists the open tabs showing the host site.
func (h *Handlers) HandleTabs(w http.ResponseWriter, r *http.Request) {
	if h.Browser == nil {
		web.ErrorCode(w, http.StatusServiceUnavailable, "no_browser", "browser not connected", true, nil)
		return
	}
	targets, err := h.Browser.HostTabs()
	if err != nil {
		web.Error(w, http.StatusInternalServerError, err)
		return
	}
	tabs := make([]map[string]any, 0, len(targets))
	for _, t := range targets {
		tabs = append(tabs, map[string]any{
			"id":    string(t.TargetID),
			"url":   t.URL,
			"title": t.Title,
		})
	}
	web.JSON(w, http.StatusOK, map[string]any{"tabs": tabs})
}

func (h *Handlers) HandleShutdown(shutdownFn func()) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		slog.Info("shutdown requested via API")
		web.JSON(w, http.StatusOK, map[string]any{"status": "shutting down"})

		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdownFn()
		}()
	}
}
