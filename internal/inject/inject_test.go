package inject

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pplxhelper/pplxhelper/internal/dom"
)

func TestMergeText(t *testing.T) {
	tests := []struct {
		existing, incoming string
		mode               Mode
		want               string
	}{
		{"old", "new", Replace, "new"},
		{"", "new", Replace, "new"},
		{"old", "", Replace, ""},
		{"old", "new", Append, "old\n\nnew"},
		{"", "new", Append, "new"},
		{"old", "new", Prepend, "new\n\nold"},
		{"", "new", Prepend, "new"},
		{"old", "new", Keep, "old"},
		{"", "new", Keep, "new"},
		{"old", "new", Mode("bogus"), "new"},
	}
	for _, tt := range tests {
		if got := MergeText(tt.existing, tt.incoming, tt.mode); got != tt.want {
			t.Errorf("MergeText(%q, %q, %s) = %q, want %q", tt.existing, tt.incoming, tt.mode, got, tt.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"replace", "append", "prepend", "keep"} {
		m, err := ParseMode(s)
		if err != nil || string(m) != s {
			t.Errorf("ParseMode(%q) = %q, %v", s, m, err)
		}
	}
	if m, err := ParseMode(""); err != nil || m != Replace {
		t.Errorf("empty mode = %q, %v", m, err)
	}
	if _, err := ParseMode("merge"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

type recordingEval struct {
	exprs []string
	reply string
}

func (r *recordingEval) Evaluate(_ context.Context, expr string, out any) error {
	r.exprs = append(r.exprs, expr)
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(r.reply), out)
}

func TestWriteTextPassesHandle(t *testing.T) {
	ev := &recordingEval{reply: "true"}
	ok, err := WriteText(context.Background(), ev, &dom.InputHandle{Index: 2, Kind: dom.KindEditable}, "héllo \"quoted\"")
	if err != nil || !ok {
		t.Fatalf("WriteText = %v, %v", ok, err)
	}
	expr := ev.exprs[0]
	for _, want := range []string{`"index":2`, `"kind":"editable"`, `héllo \"quoted\"`, `"insertText"`, `"keydown", "keyup", "input", "change"`} {
		if !strings.Contains(expr, want) {
			t.Errorf("expression missing %s", want)
		}
	}
}

func TestWriteTextRejectsUnknownShape(t *testing.T) {
	ev := &recordingEval{reply: "true"}
	ok, err := WriteText(context.Background(), ev, &dom.InputHandle{Kind: "select"}, "x")
	if err != nil || ok {
		t.Fatalf("expected false, got %v, %v", ok, err)
	}
	if ok, _ := WriteText(context.Background(), ev, nil, "x"); ok {
		t.Error("nil handle must not write")
	}
	if len(ev.exprs) != 0 {
		t.Error("no script should run for an unknown shape")
	}
}

func TestReadText(t *testing.T) {
	ev := &recordingEval{reply: `"draft"`}
	text, ok, err := ReadText(context.Background(), ev, &dom.InputHandle{Kind: dom.KindValue})
	if err != nil || !ok || text != "draft" {
		t.Fatalf("ReadText = %q, %v, %v", text, ok, err)
	}

	ev = &recordingEval{reply: `null`}
	if _, ok, _ := ReadText(context.Background(), ev, &dom.InputHandle{Kind: dom.KindValue}); ok {
		t.Error("missing element should report ok=false")
	}
}
