package humanize

import (
	"strings"
	"unicode/utf8"
)

var conjunctions = []string{"but", "and", "aur", "lekin", "par", "so"}

// splitPoint returns the byte offset nearest the middle of text at which it can
// be cut into two messages, or -1. Commas cut after themselves, conjunctions
// before themselves.
func splitPoint(text string) int {
	var cuts []int
	for i, r := range text {
		if r == ',' {
			cuts = append(cuts, i+1)
		}
	}
	words := strings.Fields(text)
	offset := 0
	for i, w := range words {
		idx := strings.Index(text[offset:], w) + offset
		offset = idx + len(w)
		if i == 0 {
			continue
		}
		for _, c := range conjunctions {
			if strings.EqualFold(w, c) {
				cuts = append(cuts, idx)
				break
			}
		}
	}

	mid := len(text) / 2
	best := -1
	for _, c := range cuts {
		head := strings.TrimSpace(text[:c])
		tail := strings.TrimSpace(text[c:])
		if head == "" || tail == "" || head == "," {
			continue
		}
		if best < 0 || abs(c-mid) < abs(best-mid) {
			best = c
		}
	}
	return best
}

// burst splits long text into two messages with probability BurstProbability.
func (p *Pipeline) burst(text string) []string {
	if utf8.RuneCountInString(text) <= p.cfg.BurstMinLength {
		return []string{text}
	}
	cut := splitPoint(text)
	if cut < 0 || p.rnd() >= p.cfg.BurstProbability {
		return []string{text}
	}
	head := strings.TrimSpace(text[:cut])
	tail := strings.TrimSpace(text[cut:])
	return []string{head, tail}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
