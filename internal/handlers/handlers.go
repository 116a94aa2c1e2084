// Package handlers provides the HTTP surface of the companion daemon.
package handlers

import (
	"net/http"
	"time"

	"github.com/pplxhelper/pplxhelper/internal/bridge"
	"github.com/pplxhelper/pplxhelper/internal/config"
	"github.com/pplxhelper/pplxhelper/internal/delivery"
	"github.com/pplxhelper/pplxhelper/internal/events"
	"github.com/pplxhelper/pplxhelper/internal/messages"
)

// Deliveries exposes the state of prompt deliveries.
type Deliveries interface {
	Status(id string) (delivery.Outcome, bool)
	Pending() int
}

type Handlers struct {
	Config     *config.RuntimeConfig
	Browser    bridge.BridgeAPI
	Router     *messages.Router
	Deliveries Deliveries
	Options    *config.OptionsStore
	Hub        *events.Hub
	Version    string

	started time.Time
}

func New(cfg *config.RuntimeConfig, b bridge.BridgeAPI, r *messages.Router, d Deliveries, o *config.OptionsStore, hub *events.Hub) *Handlers {
	return &Handlers{
		Config:     cfg,
		Browser:    b,
		Router:     r,
		Deliveries: d,
		Options:    o,
		Hub:        hub,
		started:    time.Now(),
	}
}

func (h *Handlers) RegisterRoutes(mux *http.ServeMux, doShutdown func()) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /tabs", h.HandleTabs)
	mux.HandleFunc("GET /metrics", h.HandleMetrics)

	mux.HandleFunc("POST /message", h.HandleMessage)
	mux.HandleFunc("POST /prompt", h.action(messages.ActionSetPrompt))
	mux.HandleFunc("POST /prompt/focus", h.action(messages.ActionFocusPrompt))
	mux.HandleFunc("POST /prompt/improve", h.action(messages.ActionImprovePrompt))
	mux.HandleFunc("GET /stats", h.action(messages.ActionGetSessionStats))
	mux.HandleFunc("POST /stats/reset", h.action(messages.ActionResetSession))
	mux.HandleFunc("GET /modes", h.action(messages.ActionLocateModes))
	mux.HandleFunc("POST /command/focus-or-open", h.action(messages.ActionFocusOrOpen))
	mux.HandleFunc("GET /deliveries/{id}", h.HandleDelivery)

	mux.HandleFunc("GET /options", h.HandleGetOptions)
	mux.HandleFunc("PUT /options", h.HandlePutOptions)

	mux.HandleFunc("GET /events", h.HandleEvents)

	if doShutdown != nil {
		mux.HandleFunc("POST /shutdown", h.HandleShutdown(doShutdown))
	}
}
