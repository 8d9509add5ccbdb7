package etl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercases", "Great Progress", "great progress"},
		{"strips punctuation", "good, but slow!", "good but slow"},
		{"collapses whitespace", "too   many\t\nspaces", "too many spaces"},
		{"trims edges", "  padded  ", "padded"},
		{"keeps digits", "scored 95 on the quiz", "scored 95 on the quiz"},
		{"empty", "", ""},
		{"punctuation only", "?!...", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanText(tt.input))
		})
	}
}
