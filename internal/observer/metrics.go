package observer

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const DefaultCharsPerToken = 4.0

// ApproxTokens estimates a token count as characters divided by ratio,
// rounded up.
func ApproxTokens(text string, charsPerToken float64) int {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / charsPerToken))
}

var blankLine = regexp.MustCompile(`\n[ \t\r]*\n`)

func paragraphs(text string) []string {
	var out []string
	for _, p := range blankLine.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DiffPercent compares two texts paragraph by paragraph at the same
// position and returns the share of mismatching positions over the longer
// sequence, rounded to a whole percent. It is not an edit distance.
func DiffPercent(prev, cur string) int {
	a, b := paragraphs(prev), paragraphs(cur)
	longest := max(len(a), len(b))
	if longest == 0 {
		return 0
	}
	if len(a) == 0 || len(b) == 0 {
		return 100
	}
	mismatches := 0
	for i := 0; i < longest; i++ {
		if i >= len(a) || i >= len(b) || a[i] != b[i] {
			mismatches++
		}
	}
	return int(math.Round(float64(mismatches) * 100 / float64(longest)))
}

// Marker is a structural sub-element reported by the page: its kind
// (heading, code, list) and its vertical offset within the answer.
type Marker struct {
	Kind   string  `json:"kind"`
	Offset float64 `json:"offset"`
}

type TimelineMark struct {
	Kind    string `json:"kind"`
	Percent int    `json:"percent"`
}

// Timeline converts marker offsets into positions from 0 to 100 relative
// to the answer height, ordered top to bottom.
func Timeline(height float64, markers []Marker) []TimelineMark {
	if height <= 0 || len(markers) == 0 {
		return nil
	}
	sorted := append([]Marker(nil), markers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	out := make([]TimelineMark, 0, len(sorted))
	for _, m := range sorted {
		p := int(math.Round(m.Offset / height * 100))
		p = min(max(p, 0), 100)
		out = append(out, TimelineMark{Kind: m.Kind, Percent: p})
	}
	return out
}
