// Package dedup detects the same physical lot re-announced by a different
// source through normalized title similarity.
package dedup

import (
	"strings"
	"unicode"
)

// SimilarityThreshold is the minimum shorter-to-longer length ratio for a
// substring match to count as a duplicate. Sources prepend or append
// boilerplate to otherwise identical descriptions; 0.7 tolerates that
// without collapsing genuinely different lots.
const SimilarityThreshold = 0.7

// NormalizeTitle lowercases the title, strips every character outside the
// Cyrillic alphabet, digits and whitespace, and collapses whitespace runs.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.Is(unicode.Cyrillic, r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// IsDuplicate reports whether the candidate title describes the same lot as
// an already-persisted title. Titles are duplicates when the normalized
// forms are exactly equal, or when one contains the other and the length
// ratio exceeds SimilarityThreshold.
func IsDuplicate(candidate, persisted string) bool {
	a := NormalizeTitle(candidate)
	b := NormalizeTitle(persisted)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}

	shorter, longer := a, b
	if len([]rune(shorter)) > len([]rune(longer)) {
		shorter, longer = longer, shorter
	}
	if !strings.Contains(longer, shorter) {
		return false
	}
	ratio := float64(len([]rune(shorter))) / float64(len([]rune(longer)))
	return ratio > SimilarityThreshold
}
