package inject

import (
	"context"
	"fmt"

	"github.com/pplxhelper/pplxhelper/internal/dom"
)

type writeArgs struct {
	Selector string        `json:"selector"`
	Index    int           `json:"index"`
	Kind     dom.InputKind `json:"kind"`
	Text     string        `json:"text"`
}

// writeTextJS sets the text in one step and then fires the events the page
// framework listens for. Contenteditable regions get delete + insertText
// commands because assigning their content directly is invisible to some
// frameworks' change detection.
const writeTextJS = `function(a) {
  const el = document.querySelectorAll(a.selector)[a.index];
  if (!el) return false;
  const fire = () => {
    for (const t of ["keydown", "keyup", "input", "change"]) {
      el.dispatchEvent(new Event(t, { bubbles: true, cancelable: true }));
    }
  };
  if (a.kind === "value" && "value" in el) {
    el.focus();
    const proto = Object.getPrototypeOf(el);
    const desc = Object.getOwnPropertyDescriptor(proto, "value");
    if (desc && desc.set) desc.set.call(el, a.text); else el.value = a.text;
    if (typeof el.setSelectionRange === "function") el.setSelectionRange(a.text.length, a.text.length);
    fire();
    return true;
  }
  if (a.kind === "editable" && el.isContentEditable) {
    el.focus();
    const sel = window.getSelection();
    const range = document.createRange();
    range.selectNodeContents(el);
    sel.removeAllRanges();
    sel.addRange(range);
    document.execCommand("delete");
    document.execCommand("insertText", false, a.text);
    fire();
    return true;
  }
  return false;
}`

const readTextJS = `function(a) {
  const el = document.querySelectorAll(a.selector)[a.index];
  if (!el) return null;
  if ("value" in el && a.kind === "value") return el.value || "";
  return el.innerText || el.textContent || "";
}`

const focusJS = `function(a) {
  const el = document.querySelectorAll(a.selector)[a.index];
  if (!el) return false;
  el.focus();
  try { el.scrollIntoView({ behavior: "smooth", block: "center" }); } catch (e) {}
  return true;
}`

func call(ctx context.Context, ev dom.Evaluator, fn string, h *dom.InputHandle, text string, out any) error {
	expr, err := dom.Call(fn, writeArgs{
		Selector: dom.InputSelector,
		Index:    h.Index,
		Kind:     h.Kind,
		Text:     text,
	})
	if err != nil {
		return err
	}
	return ev.Evaluate(ctx, expr, out)
}

// WriteText replaces the input's content with text. It returns false when
// the handle does not point at a recognised control any more.
func WriteText(ctx context.Context, ev dom.Evaluator, h *dom.InputHandle, text string) (bool, error) {
	if h == nil || (h.Kind != dom.KindValue && h.Kind != dom.KindEditable) {
		return false, nil
	}
	var ok bool
	if err := call(ctx, ev, writeTextJS, h, text, &ok); err != nil {
		return false, fmt.Errorf("write text: %w", err)
	}
	return ok, nil
}

// ReadText returns the input's current text. ok is false when the element
// is gone.
func ReadText(ctx context.Context, ev dom.Evaluator, h *dom.InputHandle) (text string, ok bool, err error) {
	if h == nil {
		return "", false, nil
	}
	var res *string
	if err := call(ctx, ev, readTextJS, h, "", &res); err != nil {
		return "", false, fmt.Errorf("read text: %w", err)
	}
	if res == nil {
		return "", false, nil
	}
	return *res, true, nil
}

// FocusInput focuses the input and scrolls it into view.
func FocusInput(ctx context.Context, ev dom.Evaluator, h *dom.InputHandle) (bool, error) {
	if h == nil {
		return false, nil
	}
	var ok bool
	if err := call(ctx, ev, focusJS, h, "", &ok); err != nil {
		return false, fmt.Errorf("focus input: %w", err)
	}
	return ok, nil
}
