package transform

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxLength is the Bluesky post length limit.
const DefaultMaxLength = 300

// Split breaks text into chunks of at most maxLength characters, preferring
// sentence boundaries and then word boundaries in the back half of each
// window. Surrounding whitespace is dropped. It always returns at least
// one chunk.
func Split(text string, maxLength int) []string {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= maxLength {
		return []string{text}
	}

	var chunks []string
	remaining := []rune(text)
	midpoint := float64(maxLength) * 0.5

	for len(remaining) > 0 {
		if len(remaining) <= maxLength {
			chunks = append(chunks, strings.TrimSpace(string(remaining)))
			break
		}

		window := remaining[:maxLength]
		splitAt := maxLength

		if i := lastIndex(window, []rune(". ")); i >= 0 && float64(i) > midpoint {
			// Keep the period with its sentence.
			splitAt = i + 1
		} else if i := lastIndex(window, []rune(" ")); i >= 0 && float64(i) > midpoint {
			splitAt = i
		}

		if chunk := strings.TrimSpace(string(remaining[:splitAt])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = []rune(strings.TrimSpace(string(remaining[splitAt:])))
	}

	if len(chunks) == 0 {
		return []string{""}
	}
	return chunks
}

func lastIndex(s, sep []rune) int {
	for i := len(s) - len(sep); i >= 0; i-- {
		match := true
		for j := range sep {
			if s[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
