package memory

import (
	"strings"
	"unicode"
)

// Mood is a coarse emotional label inferred from incoming text.
type Mood string

const (
	MoodChill   Mood = "chill"
	MoodPlayful Mood = "playful"
	MoodCurious Mood = "curious"
	MoodMoody   Mood = "moody"
	MoodSweet   Mood = "sweet"
)

type moodTrigger struct {
	mood     Mood
	keywords []string
}

// Evaluated in order; the first category with a match wins.
var moodTriggers = []moodTrigger{
	{MoodMoody, []string{"sad", "bore", "bored", "boring", "udaas", "pareshan", "gussa", "angry", "thak", "tired", "mood off", "😔", "😢", "😡"}},
	{MoodSweet, []string{"love", "pyaar", "miss", "cute", "sweet", "jaan", "yaad", "❤", "❤️", "🥰", "😘"}},
	{MoodPlayful, []string{"haha", "hahaha", "lol", "lmao", "mazak", "masti", "pagal", "😂", "🤣", "😜"}},
	{MoodCurious, []string{"kya", "kyu", "kyun", "kaise", "kaun", "kab", "why", "how", "what", "?"}},
}

// InferMood returns the mood triggered by text, if any. The result depends
// only on text.
func InferMood(text string) (Mood, bool) {
	lower := strings.ToLower(text)
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = struct{}{}
	}

	for _, t := range moodTriggers {
		for _, kw := range t.keywords {
			if isWord(kw) {
				if _, ok := words[kw]; ok {
					return t.mood, true
				}
				continue
			}
			if strings.Contains(lower, kw) {
				return t.mood, true
			}
		}
	}
	return "", false
}

func isWord(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}
