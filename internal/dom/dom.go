// Package dom locates the chat page's prompt input and mode buttons.
//
// The host page has no stable identifiers, so every lookup is a guess made
// from element shape and visible text. Scripts only collect raw
// descriptions; the choice between candidates is made in Go.
package dom

import (
	"context"
	"encoding/json"
	"fmt"
)

// Evaluator runs a JavaScript expression in a page and decodes its
// JSON-serialisable result into out (which may be nil).
type Evaluator interface {
	Evaluate(ctx context.Context, expr string, out any) error
}

// EvalFunc adapts a function to Evaluator.
type EvalFunc func(ctx context.Context, expr string, out any) error

func (f EvalFunc) Evaluate(ctx context.Context, expr string, out any) error {
	return f(ctx, expr, out)
}

// Call builds `(fn)(arg)` with arg encoded as JSON.
func Call(fn string, arg any) (string, error) {
	b, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("encode script argument: %w", err)
	}
	return "(" + fn + ")(" + string(b) + ")", nil
}

// InputSelector matches every element that can hold the prompt.
const InputSelector = "textarea, [contenteditable='true']"

// InputKind is the shape of a prompt input.
type InputKind string

const (
	// KindValue is a value-bearing control (textarea).
	KindValue InputKind = "value"
	// KindEditable is a rich-text contenteditable region.
	KindEditable InputKind = "editable"
)

// InputHandle addresses a located input by its position among
// InputSelector matches. It is only valid until the page re-renders.
type InputHandle struct {
	Index int       `json:"index"`
	Kind  InputKind `json:"kind"`
}

// ContainerHandle addresses a located button row.
type ContainerHandle struct {
	// Parent is the position of the container among the distinct parents
	// seen during the scan.
	Parent int `json:"parent"`
	// Count is how many mode buttons it holds.
	Count int `json:"count"`
	// Selector addresses the container after it has been marked.
	Selector string `json:"selector"`
}
