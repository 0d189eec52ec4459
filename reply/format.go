package reply

import (
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

const ellipsis = "…"

// fingerprint is the dedup key of a rendered line.
func fingerprint(s string) uint64 {
	return xxhash.Sum64String(s)
}

// runePrefix returns the first n runes of s.
func runePrefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// clip shortens s to at most limit runes, marking the cut with an ellipsis.
func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return runePrefix(s, limit-1) + ellipsis
}

// splitChunk cuts the head of s into a chunk of at most limit runes. It
// prefers breaking after a paragraph break, then a newline, then a space,
// as long as the break lies in the second half of the window; otherwise it
// cuts hard at the rune limit. Concatenating chunk and rest yields s.
func splitChunk(s string, limit int) (chunk, rest string) {
	if utf8.RuneCountInString(s) <= limit {
		return s, ""
	}
	window := runePrefix(s, limit)
	half := len(runePrefix(window, limit/2))

	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := strings.LastIndex(window, sep); i >= half && i > 0 {
			cut := i + len(sep)
			return s[:cut], s[cut:]
		}
	}
	return window, s[len(window):]
}
