package humanize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var slang = map[string]string{
	"yes":      "haan",
	"okay":     "ok",
	"you":      "u",
	"are":      "r",
	"please":   "pls",
	"because":  "coz",
	"really":   "sachi",
	"very":     "bahut",
	"brother":  "bhai",
	"friend":   "yaar",
	"thanks":   "thx",
	"tomorrow": "kal",
	"people":   "log",
	"what":     "kya",
	"nothing":  "kuch nahi",
	"going":    "jaa raha",
}

// splitWord separates leading and trailing punctuation from a word.
func splitWord(w string) (pre, core, post string) {
	start := strings.IndexFunc(w, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) })
	if start < 0 {
		return w, "", ""
	}
	end := strings.LastIndexFunc(w, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) })
	_, size := utf8.DecodeRuneInString(w[end:])
	return w[:start], w[start : end+size], w[end+size:]
}

// lexical applies slang substitution and adjacent-letter swaps word by word.
func (p *Pipeline) lexical(text string) string {
	words := strings.Fields(text)
	for i, w := range words {
		pre, core, post := splitWord(w)
		if core == "" {
			continue
		}
		if casual, ok := slang[strings.ToLower(core)]; ok && p.rnd() < p.cfg.SlangProbability {
			core = casual
		} else if p.rnd() < p.cfg.TypoProbability {
			core = transpose(core, p.intn)
		}
		words[i] = pre + core + post
	}
	return strings.Join(words, " ")
}

// transpose swaps two adjacent letters of a word with at least four letters.
func transpose(word string, intn func(int) int) string {
	r := []rune(word)
	if len(r) < 4 {
		return word
	}
	for _, c := range r {
		if !unicode.IsLetter(c) {
			return word
		}
	}
	// keep the first letter so the word stays recognizable
	i := 1 + intn(len(r)-2)
	r[i], r[i+1] = r[i+1], r[i]
	return string(r)
}
