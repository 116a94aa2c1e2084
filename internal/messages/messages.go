// Package messages implements the request/response protocol spoken by
// page scripts, the HTTP API and the CLI.
package messages

import (
	"context"
	"errors"
	"strings"

	"github.com/pplxhelper/pplxhelper/internal/delivery"
	"github.com/pplxhelper/pplxhelper/internal/dom"
	"github.com/pplxhelper/pplxhelper/internal/inject"
	"github.com/pplxhelper/pplxhelper/internal/rewrite"
	"github.com/pplxhelper/pplxhelper/internal/stats"
)

const (
	ActionImprovePrompt   = "improvePrompt"
	ActionSetPrompt       = "setPrompt"
	ActionFocusPrompt     = "focusPrompt"
	ActionGetSessionStats = "getSessionStats"
	ActionResetSession    = "resetSession"
	ActionLocateModes     = "locateModes"
	ActionFocusOrOpen     = "focusOrOpen"
)

// Wire error strings.
const (
	ErrCodeNoCredential    = "NoCredential"
	ErrCodeDeliveryTimeout = "DeliveryTimeout"
	ErrCodeSuperseded      = "Superseded"
	ErrCodeTargetGone      = "TargetGone"
	ErrCodeEvicted         = "Evicted"
	ErrCodeNoTarget        = "NoTarget"
	ErrCodeInvalidMode     = "InvalidMode"
	ErrCodeSubmitFailed    = "SubmitFailed"
)

// ErrNoTarget is returned by a Backend when no host tab is available.
var ErrNoTarget = errors.New("no host tab")

// Request is the union of every action's fields.
type Request struct {
	Action     string `json:"action"`
	TargetID   string `json:"targetId,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	Text       string `json:"text,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Focus      bool   `json:"focus,omitempty"`
	AutoSubmit bool   `json:"autoSubmit,omitempty"`
	Wait       bool   `json:"wait,omitempty"`
}

// Result is what Dispatch produced. Handled is false for actions the
// router does not know; Body is then nil.
type Result struct {
	Handled bool
	Body    any
}

type OKResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type ImproveResponse struct {
	OK    bool   `json:"ok"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

type SetPromptResponse struct {
	OK         bool           `json:"ok"`
	Error      string         `json:"error,omitempty"`
	DeliveryID string         `json:"deliveryId,omitempty"`
	State      delivery.State `json:"state,omitempty"`
}

type LocateModesResponse struct {
	OK    bool                 `json:"ok"`
	Row   *dom.ContainerHandle `json:"row,omitempty"`
	Error string               `json:"error,omitempty"`
}

type FocusOrOpenResponse struct {
	OK       bool   `json:"ok"`
	TargetID string `json:"targetId,omitempty"`
	Created  bool   `json:"created,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Backend performs the work behind each action.
type Backend interface {
	Improve(ctx context.Context, prompt string) (string, error)
	SetPrompt(ctx context.Context, targetID string, p delivery.Payload) (*delivery.Ticket, error)
	FocusPrompt(ctx context.Context, targetID string) (bool, error)
	SessionStats() stats.Summary
	ResetSession()
	LocateModes(ctx context.Context, targetID string) (*dom.ContainerHandle, error)
	FocusOrOpen(ctx context.Context) (targetID string, created bool, err error)
}

type Router struct {
	backend Backend
}

func NewRouter(b Backend) *Router {
	return &Router{backend: b}
}

// Dispatch runs one request.
func (r *Router) Dispatch(ctx context.Context, req Request) Result {
	switch req.Action {
	case ActionImprovePrompt:
		return handled(r.improve(ctx, req))
	case ActionSetPrompt:
		return handled(r.setPrompt(ctx, req))
	case ActionFocusPrompt:
		ok, err := r.backend.FocusPrompt(ctx, req.TargetID)
		if err != nil {
			return handled(OKResponse{OK: false, Error: errorCode(err)})
		}
		return handled(OKResponse{OK: ok})
	case ActionGetSessionStats:
		return handled(r.backend.SessionStats())
	case ActionResetSession:
		r.backend.ResetSession()
		return handled(OKResponse{OK: true})
	case ActionLocateModes:
		row, err := r.backend.LocateModes(ctx, req.TargetID)
		if err != nil {
			return handled(LocateModesResponse{Error: errorCode(err)})
		}
		return handled(LocateModesResponse{OK: row != nil, Row: row})
	case ActionFocusOrOpen:
		id, created, err := r.backend.FocusOrOpen(ctx)
		if err != nil {
			return handled(FocusOrOpenResponse{Error: errorCode(err)})
		}
		return handled(FocusOrOpenResponse{OK: true, TargetID: id, Created: created})
	default:
		return Result{}
	}
}

func handled(body any) Result {
	return Result{Handled: true, Body: body}
}

func (r *Router) improve(ctx context.Context, req Request) ImproveResponse {
	text, err := r.backend.Improve(ctx, req.Prompt)
	if err != nil {
		return ImproveResponse{OK: false, Error: errorCode(err)}
	}
	return ImproveResponse{OK: true, Text: text}
}

func (r *Router) setPrompt(ctx context.Context, req Request) SetPromptResponse {
	mode, err := inject.ParseMode(req.Mode)
	if err != nil {
		return SetPromptResponse{Error: ErrCodeInvalidMode}
	}
	t, err := r.backend.SetPrompt(ctx, req.TargetID, delivery.Payload{
		Text:       req.Text,
		Mode:       mode,
		Focus:      req.Focus,
		AutoSubmit: req.AutoSubmit,
	})
	if err != nil {
		return SetPromptResponse{Error: errorCode(err)}
	}

	o := t.Outcome()
	if req.Wait {
		if o, err = t.Wait(ctx); err != nil {
			return SetPromptResponse{DeliveryID: t.ID, State: o.State, Error: err.Error()}
		}
	}
	resp := SetPromptResponse{DeliveryID: t.ID, State: o.State}
	switch o.State {
	case delivery.StatePending:
		resp.OK = true
	case delivery.StateDelivered:
		// Text landed; a failed focus or submit is reported alongside.
		resp.OK = true
		resp.Error = errorCode(o.Err)
	default:
		resp.Error = errorCode(o.Err)
	}
	return resp
}

// errorCode maps errors onto the wire error strings.
func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.As(err, new(*delivery.AfterWriteError)):
		return ErrCodeSubmitFailed
	case errors.Is(err, rewrite.ErrNoCredential):
		return ErrCodeNoCredential
	case errors.Is(err, delivery.ErrDeliveryTimeout):
		return ErrCodeDeliveryTimeout
	case errors.Is(err, delivery.ErrSuperseded):
		return ErrCodeSuperseded
	case errors.Is(err, delivery.ErrTargetGone):
		return ErrCodeTargetGone
	case errors.Is(err, delivery.ErrEvicted), errors.Is(err, delivery.ErrClosed):
		return ErrCodeEvicted
	case errors.Is(err, ErrNoTarget):
		return ErrCodeNoTarget
	}
	if code := rewrite.ErrorCode(err); strings.HasPrefix(code, "RequestFailed_") {
		return code
	}
	return err.Error()
}
