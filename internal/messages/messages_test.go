package messages

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pplxhelper/pplxhelper/internal/delivery"
	"github.com/pplxhelper/pplxhelper/internal/dom"
	"github.com/pplxhelper/pplxhelper/internal/inject"
	"github.com/pplxhelper/pplxhelper/internal/rewrite"
	"github.com/pplxhelper/pplxhelper/internal/stats"
)

type stubInjector struct {
	ready bool
	err   error
}

func (s stubInjector) Ready(context.Context, string) bool { return s.ready }

func (s stubInjector) Inject(context.Context, delivery.Payload) error { return s.err }

type mockBackend struct {
	improveText string
	improveErr  error
	coord       *delivery.Coordinator
	lastPayload delivery.Payload
	noTarget    bool
	focusOK     bool
	reset       bool
	row         *dom.ContainerHandle
}

func (m *mockBackend) Improve(_ context.Context, prompt string) (string, error) {
	if m.improveErr != nil {
		return "", m.improveErr
	}
	if m.improveText == "" {
		return prompt, nil
	}
	return m.improveText, nil
}

func (m *mockBackend) SetPrompt(ctx context.Context, targetID string, p delivery.Payload) (*delivery.Ticket, error) {
	if m.noTarget {
		return nil, ErrNoTarget
	}
	if targetID == "" {
		targetID = "tab1"
	}
	p.TargetID = targetID
	m.lastPayload = p
	return m.coord.Request(ctx, p), nil
}

func (m *mockBackend) FocusPrompt(context.Context, string) (bool, error) { return m.focusOK, nil }

func (m *mockBackend) SessionStats() stats.Summary {
	return stats.Summary{SessionTokens: 10, AnswersCount: 2, AvgAnswerTokens: 5}
}

func (m *mockBackend) ResetSession() { m.reset = true }

func (m *mockBackend) LocateModes(context.Context, string) (*dom.ContainerHandle, error) {
	return m.row, nil
}

func (m *mockBackend) FocusOrOpen(context.Context) (string, bool, error) {
	return "new", true, nil
}

func newBackend(t *testing.T, inj stubInjector) *mockBackend {
	t.Helper()
	c := delivery.New(inj, nil, delivery.Config{RetryDelay: time.Millisecond}, nil)
	t.Cleanup(c.Close)
	return &mockBackend{coord: c}
}

func TestUnknownActionNotHandled(t *testing.T) {
	r := NewRouter(&mockBackend{})
	if res := r.Dispatch(context.Background(), Request{Action: "pplxSomething"}); res.Handled || res.Body != nil {
		t.Errorf("result = %+v", res)
	}
}

func TestImprovePrompt(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ImproveResponse
	}{
		{"ok", nil, ImproveResponse{OK: true, Text: "better"}},
		{"no key", rewrite.ErrNoCredential, ImproveResponse{Error: "NoCredential"}},
		{"http", &rewrite.RequestFailedError{Code: 401}, ImproveResponse{Error: "RequestFailed_401"}},
		{"network", &rewrite.RequestFailedError{}, ImproveResponse{Error: "RequestFailed_0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(&mockBackend{improveText: "better", improveErr: tt.err})
			res := r.Dispatch(context.Background(), Request{Action: ActionImprovePrompt, Prompt: "x"})
			if !res.Handled || res.Body != tt.want {
				t.Errorf("body = %+v, want %+v", res.Body, tt.want)
			}
		})
	}
}

func TestSetPromptWaitDelivered(t *testing.T) {
	b := newBackend(t, stubInjector{ready: true})
	r := NewRouter(b)
	res := r.Dispatch(context.Background(), Request{Action: ActionSetPrompt, Text: "hi", Mode: "append", Focus: true, Wait: true})
	body := res.Body.(SetPromptResponse)
	if !body.OK || body.State != delivery.StateDelivered || body.DeliveryID == "" {
		t.Fatalf("body = %+v", body)
	}
	if b.lastPayload.Mode != inject.Append || !b.lastPayload.Focus {
		t.Errorf("payload = %+v", b.lastPayload)
	}
}

func TestSetPromptWaitExhausted(t *testing.T) {
	b := newBackend(t, stubInjector{ready: true, err: errors.New("no input")})
	r := NewRouter(b)
	res := r.Dispatch(context.Background(), Request{Action: ActionSetPrompt, Text: "hi", Wait: true})
	body := res.Body.(SetPromptResponse)
	if body.OK || body.Error != ErrCodeDeliveryTimeout || body.State != delivery.StateExhausted {
		t.Fatalf("body = %+v", body)
	}
}

func TestSetPromptAcceptedWhilePending(t *testing.T) {
	b := newBackend(t, stubInjector{ready: false})
	r := NewRouter(b)
	body := r.Dispatch(context.Background(), Request{Action: ActionSetPrompt, Text: "hi"}).Body.(SetPromptResponse)
	if !body.OK || body.State != delivery.StatePending {
		t.Fatalf("body = %+v", body)
	}
}

func TestSetPromptErrors(t *testing.T) {
	r := NewRouter(&mockBackend{noTarget: true})
	body := r.Dispatch(context.Background(), Request{Action: ActionSetPrompt, Mode: "sideways"}).Body.(SetPromptResponse)
	if body.Error != ErrCodeInvalidMode {
		t.Errorf("bad mode body = %+v", body)
	}
	body = r.Dispatch(context.Background(), Request{Action: ActionSetPrompt, Text: "x"}).Body.(SetPromptResponse)
	if body.Error != ErrCodeNoTarget {
		t.Errorf("no target body = %+v", body)
	}
}

func TestSimpleActions(t *testing.T) {
	b := &mockBackend{focusOK: true, row: &dom.ContainerHandle{Parent: 1, Count: 3}}
	r := NewRouter(b)
	ctx := context.Background()

	if got := r.Dispatch(ctx, Request{Action: ActionFocusPrompt}).Body; got != (OKResponse{OK: true}) {
		t.Errorf("focus = %+v", got)
	}
	if got := r.Dispatch(ctx, Request{Action: ActionGetSessionStats}).Body; got != b.SessionStats() {
		t.Errorf("stats = %+v", got)
	}
	if got := r.Dispatch(ctx, Request{Action: ActionResetSession}).Body; got != (OKResponse{OK: true}) || !b.reset {
		t.Errorf("reset = %+v", got)
	}
	loc := r.Dispatch(ctx, Request{Action: ActionLocateModes}).Body.(LocateModesResponse)
	if !loc.OK || loc.Row.Count != 3 {
		t.Errorf("locate = %+v", loc)
	}
	fo := r.Dispatch(ctx, Request{Action: ActionFocusOrOpen}).Body.(FocusOrOpenResponse)
	if !fo.OK || fo.TargetID != "new" || !fo.Created {
		t.Errorf("focusOrOpen = %+v", fo)
	}
}
