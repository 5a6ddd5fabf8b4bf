package telegram

import "strings"

// MaxMessageLength is the Bot API limit on a single message's text.
const MaxMessageLength = 4096

// SplitMessage breaks text into parts of at most limit runes. It prefers to
// cut after a newline, then after a space, in the second half of a part.
func SplitMessage(text string, limit int) []string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > limit {
		cut := lastIndex(runes[:limit], '\n', limit/2)
		if cut < 0 {
			cut = lastIndex(runes[:limit], ' ', limit/2)
		}
		if cut < 0 {
			cut = limit
		} else {
			cut++
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

// lastIndex returns the last index of r in s that is >= from, or -1.
func lastIndex(s []rune, r rune, from int) int {
	for i := len(s) - 1; i >= from; i-- {
		if s[i] == r {
			return i
		}
	}
	return -1
}
