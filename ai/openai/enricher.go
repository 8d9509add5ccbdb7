// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package openai

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/poiesic/crossfeed/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Enricher implements ai.Enricher using OpenAI-compatible chat APIs.
type Enricher struct {
	client llms.Model
	logger *slog.Logger
}

// enrichment is an internal type used for JSON unmarshaling.
// It matches the structure expected from the LLM.
type enrichment struct {
	Sentiment string   `json:"sentiment"`
	Topics    []string `json:"topics"`
	Entities  []string `json:"entities"`
	Summary   string   `json:"summary"`
}

// newEnricher is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newEnricher(config *ai.Config) (*Enricher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Create OpenAI client configured for chat/analysis
	// Use "none" as token for local OpenAI-compatible services that don't require authentication
	client, err := openai.New(
		openai.WithBaseURL(config.EnricherHost),
		openai.WithToken("none"),
		openai.WithModel(config.EnricherModel),
	)
	if err != nil {
		return nil, err
	}

	return &Enricher{
		client: client,
		logger: slog.Default().With("component", "openai-enricher"),
	}, nil
}

// NewEnricher creates a new enricher using the provided configuration.
//
// Returns ai.Enricher interface to enforce abstraction.
func NewEnricher(config *ai.Config) (ai.Enricher, error) {
	return newEnricher(config)
}

// Enrich derives sentiment, topics, entities, and a summary from free text
// using an LLM. Malformed JSON responses are retried up to 3 times.
func (e *Enricher) Enrich(ctx context.Context, text string) (*ai.Enrichment, error) {
	// Scrub input text
	text = scrubString(text)

	// Build the system and user prompts
	systemPrompt := buildSystemPrompt()
	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{
				llms.TextPart(systemPrompt),
			},
		},
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(text),
			},
		},
	}

	// Try up to 3 times in case of malformed JSON
	var result enrichment
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		response, err := e.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			e.logger.Error("failed to generate content", "attempt", attempt+1, "err", err)
			return nil, err
		}

		if len(response.Choices) < 1 {
			e.logger.Debug("no choices returned from model")
			return &ai.Enrichment{Sentiment: "neutral"}, nil
		}

		choice := response.Choices[0]

		// Strip markdown code fences if present
		responseText := strings.TrimSpace(choice.Content)
		responseText = strings.TrimPrefix(responseText, "```json")
		responseText = strings.TrimPrefix(responseText, "```")
		responseText = strings.TrimSuffix(responseText, "```")
		responseText = strings.TrimSpace(responseText)

		// Try to repair common JSON issues
		responseText = repairJSON(responseText)

		if err := json.Unmarshal([]byte(responseText), &result); err != nil {
			lastErr = err
			e.logger.Warn("error parsing enricher response",
				"attempt", attempt+1,
				"response", responseText,
				"err", err)
			continue
		}

		// Success
		lastErr = nil
		break
	}

	if lastErr != nil {
		e.logger.Error("failed to parse enricher response after retries", "err", lastErr)
		return nil, lastErr
	}

	// Sentiment outside the known vocabulary maps to neutral
	sentiment := strings.ToLower(strings.TrimSpace(result.Sentiment))
	if !ai.ValidSentiment(sentiment) {
		e.logger.Warn("unknown sentiment from model, defaulting to neutral", "sentiment", result.Sentiment)
		sentiment = "neutral"
	}

	topics := normalizeTerms(result.Topics)
	entities := normalizeTerms(result.Entities)

	e.logger.Debug("enriched feedback text",
		"sentiment", sentiment,
		"topics", len(topics),
		"entities", len(entities))

	return &ai.Enrichment{
		Sentiment: sentiment,
		Topics:    topics,
		Entities:  entities,
		Summary:   strings.TrimSpace(result.Summary),
	}, nil
}

// normalizeTerms lowercases, trims, and deduplicates model-emitted terms.
func normalizeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, strings.ReplaceAll(t, " ", "_"))
	}
	return out
}
