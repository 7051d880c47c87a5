package humanize

import "strings"

// NeutralEmoji is appended when no keyword matches.
const NeutralEmoji = "🙂"

var emojiTriggers = []struct {
	keywords []string
	emoji    string
}{
	{[]string{"haha", "lol", "lmao", "mazak", "pagal"}, "😂"},
	{[]string{"love", "pyaar", "miss", "yaad"}, "❤️"},
	{[]string{"sad", "bore", "udaas", "thak"}, "😔"},
	{[]string{"khana", "food", "momos", "pani puri", "chai", "biryani"}, "😋"},
	{[]string{"cricket", "match", "world cup"}, "🏏"},
	{[]string{"movie", "film", "picture"}, "🎬"},
	{[]string{"party", "weekend", "trip"}, "🎉"},
	{[]string{"traffic", "office", "kaam"}, "😩"},
	{[]string{"sahi", "badhiya", "mast", "awesome"}, "🔥"},
	{[]string{"?", "kya", "kaise"}, "🤔"},
}

// HasEmoji reports whether s contains a pictographic character.
func HasEmoji(s string) bool {
	for _, r := range s {
		switch {
		case r >= 0x1F300 && r <= 0x1FAFF,
			r >= 0x2600 && r <= 0x27BF,
			r >= 0x1F000 && r <= 0x1F2FF:
			return true
		}
	}
	return false
}

// PickEmoji returns the emoji for the first trigger found in text, or
// NeutralEmoji.
func PickEmoji(text string) string {
	lower := strings.ToLower(text)
	for _, t := range emojiTriggers {
		for _, kw := range t.keywords {
			if strings.Contains(lower, kw) {
				return t.emoji
			}
		}
	}
	return NeutralEmoji
}

func addEmoji(text string) string {
	if HasEmoji(text) {
		return text
	}
	return strings.TrimRight(text, " ") + " " + PickEmoji(text)
}
