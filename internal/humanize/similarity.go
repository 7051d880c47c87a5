// Package humanize post-processes generated replies so they read like a person
// typed them and never repeat recent lines.
package humanize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Normalize lowercases s, drops punctuation and emoji, and collapses spaces.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r) && !space:
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Similarity scores a and b in [0,1] after normalization, 1 meaning identical.
func Similarity(a, b string) float64 {
	a, b = Normalize(a), Normalize(b)
	if a == b {
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// TooSimilar reports whether candidate scores above threshold against any of
// the newest window entries of history.
func TooSimilar(candidate string, history []string, window int, threshold float64) bool {
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}
	for _, h := range history {
		if Similarity(candidate, h) > threshold {
			return true
		}
	}
	return false
}
