package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/pplxhelper/pplxhelper/internal/events"
	"github.com/pplxhelper/pplxhelper/internal/web"
	"github.com/samber/lo"
)

const eventsPingInterval = 10 * time.Second

// parseKinds reads the comma-separated kinds filter. An empty result means
// every kind.
func parseKinds(raw string) map[events.Kind]bool {
	names := lo.Compact(lo.Map(strings.Split(raw, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
	return lo.SliceToMap(names, func(s string) (events.Kind, bool) {
		return events.Kind(s), true
	})
}

// HandleEvents upgrades to WebSocket and streams hub events as JSON text
// frames. Query params: kinds (comma-separated, default all).
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		web.ErrorCode(w, http.StatusServiceUnavailable, "not_ready", "event hub not running", true, nil)
		return
	}
	kinds := parseKinds(r.URL.Query().Get("kinds"))

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sub := h.Hub.Subscribe()
	defer sub.Close()

	var once sync.Once
	done := make(chan struct{})
	go func() {
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				once.Do(func() { close(done) })
				return
			}
		}
	}()

	slog.Debug("event stream opened", "remote", r.RemoteAddr)
	ping := time.NewTicker(eventsPingInterval)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if len(kinds) > 0 && !kinds[ev.Kind] {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("encode event", "kind", ev.Kind, "err", err)
				continue
			}
			if err := wsutil.WriteServerText(conn, data); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
