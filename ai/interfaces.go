package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// The returned vector represents the semantic meaning of the text.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// Batch processing is more efficient than calling EmbedText multiple times.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Enricher derives analytical facts from free-form feedback text.
// Implementations must be thread-safe for concurrent use.
type Enricher interface {
	// Enrich analyzes text and returns a sentiment label, topic tags,
	// mentioned entities and a short summary. Returns an error if the
	// analysis fails; callers treat enrichment as best-effort.
	Enrich(ctx context.Context, text string) (*Enrichment, error)
}

// Enrichment is the typed result of analyzing one piece of feedback text.
type Enrichment struct {
	// Sentiment is one of the labels in Sentiments.
	Sentiment string

	// Topics are lowercase topic tags, most relevant first.
	Topics []string

	// Entities are names mentioned in the text (people, tools, subjects).
	Entities []string

	// Summary is a one-sentence summary of the text.
	Summary string
}

// AIProvider aggregates AI services for convenient initialization and lifecycle
// management. A provider creates and manages Embedder and Enricher instances,
// ensuring they share configuration and resources appropriately.
type AIProvider interface {
	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// Enricher returns the feedback analysis service.
	// The returned Enricher is safe for concurrent use.
	Enricher() Enricher

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
