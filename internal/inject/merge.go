// Package inject writes prompt text into the host page's input so that the
// page's own framework notices the change.
package inject

import "fmt"

// Mode says how delivered text combines with what the input already holds.
type Mode string

const (
	Replace Mode = "replace"
	Append  Mode = "append"
	Prepend Mode = "prepend"
	Keep    Mode = "keep"
)

// ParseMode accepts the wire names; empty means Replace.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return Replace, nil
	case Replace, Append, Prepend, Keep:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown merge mode %q", s)
}

// MergeText combines existing input text with incoming text.
func MergeText(existing, incoming string, mode Mode) string {
	switch mode {
	case Append:
		if existing == "" {
			return incoming
		}
		return existing + "\n\n" + incoming
	case Prepend:
		if existing == "" {
			return incoming
		}
		return incoming + "\n\n" + existing
	case Keep:
		if existing != "" {
			return existing
		}
		return incoming
	default:
		return incoming
	}
}
