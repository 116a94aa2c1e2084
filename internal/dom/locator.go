package dom

import (
	"context"
	"fmt"
)

// PromptCandidate describes one InputSelector match.
type PromptCandidate struct {
	Index       int       `json:"index"`
	Kind        InputKind `json:"kind"`
	InFirstForm bool      `json:"inFirstForm"`
}

const collectPromptCandidatesJS = `function(selector) {
  const form = document.querySelector("form");
  return Array.from(document.querySelectorAll(selector)).map((el, i) => ({
    index: i,
    kind: el.tagName === "TEXTAREA" ? "value" : "editable",
    inFirstForm: !!form && form.contains(el),
  }));
}`

// ChoosePromptInput applies the lookup policy: inside the first form a
// textarea beats a contenteditable region; without a form match the first
// candidate in document order wins. Candidates must be in document order.
func ChoosePromptInput(cands []PromptCandidate) *InputHandle {
	var inForm []PromptCandidate
	for _, c := range cands {
		if c.InFirstForm {
			inForm = append(inForm, c)
		}
	}
	for _, kind := range []InputKind{KindValue, KindEditable} {
		for _, c := range inForm {
			if c.Kind == kind {
				return &InputHandle{Index: c.Index, Kind: c.Kind}
			}
		}
	}
	if len(cands) == 0 {
		return nil
	}
	return &InputHandle{Index: cands[0].Index, Kind: cands[0].Kind}
}

// LocatePromptInput finds the prompt input in the live page. A nil handle
// with a nil error means the page has not rendered one yet.
func LocatePromptInput(ctx context.Context, ev Evaluator) (*InputHandle, error) {
	expr, err := Call(collectPromptCandidatesJS, InputSelector)
	if err != nil {
		return nil, err
	}
	var cands []PromptCandidate
	if err := ev.Evaluate(ctx, expr, &cands); err != nil {
		return nil, fmt.Errorf("collect prompt candidates: %w", err)
	}
	return ChoosePromptInput(cands), nil
}

// ButtonInfo describes one button found during a mode-row scan.
type ButtonInfo struct {
	Text   string `json:"text"`
	Parent int    `json:"parent"`
}

// ModeRowAttr marks the chosen mode-button container in the page.
const ModeRowAttr = "data-pplx-helper-mode-row"

const collectButtonsJS = `function(scope) {
  const root = (scope && document.querySelector(scope)) || document;
  const parents = new Map();
  const out = [];
  for (const btn of root.querySelectorAll("button")) {
    const p = btn.parentElement;
    if (!p) continue;
    if (!parents.has(p)) parents.set(p, parents.size);
    out.push({ text: btn.textContent || "", parent: parents.get(p) });
  }
  window.__pplxHelperParents = Array.from(parents.keys());
  return out;
}`

const markModeRowJS = `function(arg) {
  for (const el of document.querySelectorAll("[` + ModeRowAttr + `]")) el.removeAttribute("` + ModeRowAttr + `");
  const parents = window.__pplxHelperParents || [];
  const el = parents[arg.parent];
  delete window.__pplxHelperParents;
  if (!el || !el.isConnected) return false;
  el.setAttribute("` + ModeRowAttr + `", String(arg.count));
  return true;
}`

// LocateModeButtonRow scans buttons under scope (a CSS selector, empty for
// the whole document) and marks the container holding the most mode
// buttons. The answer is advisory: the host UI changes without notice.
func LocateModeButtonRow(ctx context.Context, ev Evaluator, scope string, cls ElementClassifier) (*ContainerHandle, error) {
	if cls == nil {
		cls = DefaultClassifier
	}
	expr, err := Call(collectButtonsJS, scope)
	if err != nil {
		return nil, err
	}
	var buttons []ButtonInfo
	if err := ev.Evaluate(ctx, expr, &buttons); err != nil {
		return nil, fmt.Errorf("collect buttons: %w", err)
	}

	row := ChooseModeRow(buttons, cls)
	if row == nil {
		return nil, nil
	}

	expr, err = Call(markModeRowJS, row)
	if err != nil {
		return nil, err
	}
	var marked bool
	if err := ev.Evaluate(ctx, expr, &marked); err != nil {
		return nil, fmt.Errorf("mark mode row: %w", err)
	}
	if !marked {
		return nil, nil
	}
	row.Selector = "[" + ModeRowAttr + "]"
	return row, nil
}
