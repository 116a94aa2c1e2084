package dom

import (
	"strings"

	"github.com/samber/lo"
)

// Mode is one of the host page's mutually exclusive query modes.
type Mode string

const (
	ModeSearch   Mode = "search"
	ModeResearch Mode = "research"
	ModeLabs     Mode = "labs"
)

// ElementClassifier decides whether a button label names a query mode.
type ElementClassifier interface {
	Classify(label string) (Mode, bool)
}

// KeywordClassifier matches trimmed, lowercased labels against a keyword
// table. A label matches a keyword when it equals or contains it.
type KeywordClassifier struct {
	Keywords map[Mode][]string
	// Order fixes which mode is tried first.
	Order []Mode
}

// DefaultClassifier knows the English and Russian labels of the host UI.
var DefaultClassifier = &KeywordClassifier{
	Keywords: map[Mode][]string{
		ModeSearch:   {"search", "поиск"},
		ModeResearch: {"research", "исслед", "исследование"},
		ModeLabs:     {"labs", "lab", "лаборат", "лаборатория", "лаборатории"},
	},
	Order: []Mode{ModeSearch, ModeResearch, ModeLabs},
}

func (k *KeywordClassifier) Classify(label string) (Mode, bool) {
	t := strings.ToLower(strings.TrimSpace(label))
	if t == "" {
		return "", false
	}
	// "research" contains "search": the longest matching keyword decides.
	var (
		best    Mode
		bestLen int
	)
	for _, m := range k.Order {
		for _, w := range k.Keywords[m] {
			if t == w {
				return m, true
			}
			if strings.Contains(t, w) && len(w) > bestLen {
				best, bestLen = m, len(w)
			}
		}
	}
	return best, bestLen > 0
}

// minModeButtons keeps unrelated UI with a single "search" button out.
const minModeButtons = 2

// ChooseModeRow groups mode buttons by parent and returns the parent with
// the most of them, or nil when no parent has at least two. Ties go to the
// parent whose first mode button came first.
func ChooseModeRow(buttons []ButtonInfo, cls ElementClassifier) *ContainerHandle {
	modeButtons := lo.Filter(buttons, func(b ButtonInfo, _ int) bool {
		_, ok := cls.Classify(b.Text)
		return ok
	})
	counts := lo.CountValuesBy(modeButtons, func(b ButtonInfo) int { return b.Parent })
	order := lo.Uniq(lo.Map(modeButtons, func(b ButtonInfo, _ int) int { return b.Parent }))

	var best *ContainerHandle
	for _, p := range order {
		n := counts[p]
		if n < minModeButtons {
			continue
		}
		if best == nil || n > best.Count {
			best = &ContainerHandle{Parent: p, Count: n}
		}
	}
	return best
}
