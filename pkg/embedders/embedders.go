// Package embedders turns text into dense vectors for the retrieval layer.
//
// Providers are tried in configured order at startup; the first one that
// initializes wins. The deterministic fallback provider always initializes,
// so the system never fails to boot for lack of an embedding backend -- it
// degrades search quality and logs a warning instead.
package embedders

import (
	"context"
	"strings"
)

// maxInputChars hard-caps embedding input. Most embedding models reject or
// silently truncate longer inputs; capping here keeps behavior uniform
// across providers.
const maxInputChars = 8000

// Embedder is the embedding capability.
type Embedder interface {
	// EmbedDocuments embeds a batch of document chunks.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the vector width this provider produces.
	Dimension() int

	// Name identifies the provider ("openai", "ollama", "fallback").
	Name() string

	// Model returns the underlying model name.
	Model() string

	Close() error
}

// Preprocess normalizes text before embedding: trims surrounding whitespace
// and hard-caps length at 8000 characters.
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > maxInputChars {
		text = text[:maxInputChars] + "..."
	}
	return text
}
