package mock

import (
	"context"
	"strings"

	"github.com/poiesic/crossfeed/ai"
)

// MockEnricher is a test double for ai.Enricher.
// It allows custom behavior injection via function fields.
type MockEnricher struct {
	// EnrichFunc is called by Enrich if set.
	// If nil, uses default keyword-based behavior.
	EnrichFunc func(ctx context.Context, text string) (*ai.Enrichment, error)

	callCount int
}

// NewMockEnricher creates a mock enricher with default deterministic behavior.
// Note: Returns concrete type to allow test assertions via GetMockEnricher().
func NewMockEnricher() *MockEnricher {
	return &MockEnricher{}
}

var positiveWords = []string{"great", "good", "excellent", "progress", "improved", "love"}
var negativeWords = []string{"bad", "poor", "struggle", "frustrated", "difficult", "behind"}

// Enrich returns a deterministic keyword-based enrichment.
func (m *MockEnricher) Enrich(ctx context.Context, text string) (*ai.Enrichment, error) {
	m.callCount++

	if m.EnrichFunc != nil {
		return m.EnrichFunc(ctx, text)
	}

	lower := strings.ToLower(text)
	sentiment := "neutral"
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			sentiment = "positive"
			break
		}
	}
	if sentiment == "neutral" {
		for _, w := range negativeWords {
			if strings.Contains(lower, w) {
				sentiment = "negative"
				break
			}
		}
	}

	summary := text
	if len(summary) > 80 {
		summary = summary[:80]
	}

	return &ai.Enrichment{
		Sentiment: sentiment,
		Topics:    []string{"general"},
		Entities:  []string{},
		Summary:   summary,
	}, nil
}

// CallCount returns the number of times Enrich was called.
func (m *MockEnricher) CallCount() int {
	return m.callCount
}

// Reset clears the call count and injected behavior.
func (m *MockEnricher) Reset() {
	m.callCount = 0
	m.EnrichFunc = nil
}
