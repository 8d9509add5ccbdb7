// Package etl holds text normalization applied to feedback before batch
// ingestion. Interactive ingestion stores text verbatim; the batch path
// normalizes it so bulk imports from heterogeneous sources index uniformly.
package etl

import (
	"strings"
	"unicode"
)

// CleanText lowercases text, strips punctuation, and collapses runs of
// whitespace to single spaces. Letters, digits, and spaces survive.
func CleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimRight(b.String(), " ")
}
