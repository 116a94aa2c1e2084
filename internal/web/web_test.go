package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStatusWriter(t *testing.T) {
	w := httptest.NewRecorder()
	sw := &StatusWriter{ResponseWriter: w, Code: 200}

	sw.WriteHeader(http.StatusNotFound)
	if sw.Code != http.StatusNotFound {
		t.Errorf("expected Code 404, got %d", sw.Code)
	}
	if w.Code != http.StatusNotFound {
		t.Errorf("expected recorded code 404, got %d", w.Code)
	}

	w2 := httptest.NewRecorder()
	sw2 := &StatusWriter{ResponseWriter: w2, Code: 200}
	_, _ = sw2.Write([]byte("ok"))
	if sw2.Code != 200 {
		t.Errorf("expected default code 200, got %d", sw2.Code)
	}
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusCreated, map[string]string{"foo": "bar"})

	if w.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected content-type application/json, got %q", ct)
	}
	if w.Body.String() != `{"foo":"bar"}`+"\n" {
		t.Errorf("unexpected body %q", w.Body.String())
	}
}

func TestErrorCode(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusBadRequest, fmt.Errorf("bad request"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != "bad request" || body["code"] != "error" {
		t.Errorf("unexpected payload %v", body)
	}
	if _, ok := body["retryable"]; ok {
		t.Error("retryable should be omitted")
	}

	w = httptest.NewRecorder()
	ErrorCode(w, 429, "rate_limited", "slow down", true, map[string]any{"max": 3})
	if !strings.Contains(w.Body.String(), `"retryable":true`) || !strings.Contains(w.Body.String(), `"details"`) {
		t.Errorf("unexpected payload %s", w.Body.String())
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Text string `json:"text"`
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"text":"hi"}`))
	if err := DecodeJSON(w, r, &v, false); err != nil || v.Text != "hi" {
		t.Fatalf("decode: %v %q", err, v.Text)
	}

	r = httptest.NewRequest("POST", "/", strings.NewReader(""))
	if err := DecodeJSON(w, r, &v, true); err != nil {
		t.Errorf("empty body should be allowed: %v", err)
	}
	r = httptest.NewRequest("POST", "/", strings.NewReader(""))
	if err := DecodeJSON(w, r, &v, false); err == nil {
		t.Error("empty body should fail when not allowed")
	}
	r = httptest.NewRequest("POST", "/", strings.NewReader("{"))
	if err := DecodeJSON(w, r, &v, true); err == nil {
		t.Error("expected error for malformed body")
	}
}
