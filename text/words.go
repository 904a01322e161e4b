package text

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// wordBreaks end a word for word-wise accept, in addition to whitespace
const wordBreaks = ".,;:!?()[]{}\"'`<>/"

func isWordBreak(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(wordBreaks, r)
}

// NextWord returns the leading part of s up to the next word break.
// Leading whitespace stays attached to the word after it, and a break
// character directly at the start is a word of its own.
func NextWord(s string) string {
	body := strings.TrimLeftFunc(s, unicode.IsSpace)
	if body == "" {
		return s
	}
	lead := len(s) - len(body)

	i := strings.IndexFunc(body, isWordBreak)
	switch {
	case i < 0:
		return s
	case i == 0:
		_, size := utf8.DecodeRuneInString(body)
		return s[:lead+size]
	default:
		return s[:lead+i]
	}
}
