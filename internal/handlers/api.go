package handlers

import (
	"fmt"
	"net/http"

	"github.com/pplxhelper/pplxhelper/internal/config"
	"github.com/pplxhelper/pplxhelper/internal/messages"
	"github.com/pplxhelper/pplxhelper/internal/web"
)

// HandleMessage accepts a raw message envelope. Message outcomes, failed
// ones included, are answered with 200 and carry their error in the body.
func (h *Handlers) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req messages.Request
	if err := web.DecodeJSON(w, r, &req, false); err != nil {
		web.Error(w, http.StatusBadRequest, err)
		return
	}
	h.dispatch(w, r, req)
}

// action serves one message action from a dedicated route. GET routes take
// targetId from the query string, others from an optional JSON body.
func (h *Handlers) action(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messages.Request
		if r.Method == http.MethodGet {
			req.TargetID = r.URL.Query().Get("targetId")
		} else if err := web.DecodeJSON(w, r, &req, true); err != nil {
			web.Error(w, http.StatusBadRequest, err)
			return
		}
		req.Action = name
		h.dispatch(w, r, req)
	}
}

func (h *Handlers) dispatch(w http.ResponseWriter, r *http.Request, req messages.Request) {
	if h.Router == nil {
		web.ErrorCode(w, http.StatusServiceUnavailable, "not_ready", "companion not running", true, nil)
		return
	}
	res := h.Router.Dispatch(r.Context(), req)
	if !res.Handled {
		web.ErrorCode(w, http.StatusBadRequest, "unknown_action", fmt.Sprintf("unknown action %q", req.Action), false, nil)
		return
	}
	web.JSON(w, http.StatusOK, res.Body)
}

func (h *Handlers) HandleDelivery(w http.ResponseWriter, r *http.Request) {
	if h.Deliveries == nil {
		web.ErrorCode(w, http.StatusServiceUnavailable, "not_ready", "companion not running", true, nil)
		return
	}
	id := r.PathValue("id")
	o, ok := h.Deliveries.Status(id)
	if !ok {
		web.ErrorCode(w, http.StatusNotFound, "not_found", "unknown delivery "+id, false, nil)
		return
	}
	web.JSON(w, http.StatusOK, o)
}

func (h *Handlers) HandleGetOptions(w http.ResponseWriter, r *http.Request) {
	if h.Options == nil {
		web.ErrorCode(w, http.StatusServiceUnavailable, "not_ready", "options not loaded", true, nil)
		return
	}
	web.JSON(w, http.StatusOK, h.Options.Get().Redacted())
}

// HandlePutOptions applies a partial options document on top of the
// current record. A key equal to its masked form keeps the stored key.
func (h *Handlers) HandlePutOptions(w http.ResponseWriter, r *http.Request) {
	if h.Options == nil {
		web.ErrorCode(w, http.StatusServiceUnavailable, "not_ready", "options not loaded", true, nil)
		return
	}
	cur := h.Options.Get()
	next := h.Options.Get()
	if err := web.DecodeJSON(w, r, &next, false); err != nil {
		web.Error(w, http.StatusBadRequest, err)
		return
	}
	if cur.OpenRouterAPIKey != "" && next.OpenRouterAPIKey == config.MaskToken(cur.OpenRouterAPIKey) {
		next.OpenRouterAPIKey = cur.OpenRouterAPIKey
	}
	if err := h.Options.Save(next); err != nil {
		web.Error(w, http.StatusInternalServerError, err)
		return
	}
	web.JSON(w, http.StatusOK, h.Options.Get().Redacted())
}
