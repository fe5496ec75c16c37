package chunker

import (
	"strings"
	"unicode"
)

// Normalize trims text and collapses every run of whitespace to a single space.
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	b.Grow(len(text))
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteByte(' ')
				wasSpace = true
			}
			continue
		}
		b.WriteRune(r)
		wasSpace = false
	}
	return b.String()
}
