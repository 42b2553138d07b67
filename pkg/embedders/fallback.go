package embedders

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
)

// FallbackEmbedder produces deterministic pseudo-random unit vectors seeded
// from the input text. Search quality is poor but stable: the same text
// always maps to the same vector, which keeps re-ingestion idempotent, and
// the system boots even with no embedding backend available.
type FallbackEmbedder struct {
	dimension int
}

func NewFallbackEmbedder(dimension int) *FallbackEmbedder {
	return &FallbackEmbedder{dimension: dimension}
}

func (e *FallbackEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.vectorFor(text)
	}
	return vectors, nil
}

func (e *FallbackEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.vectorFor(text), nil
}

func (e *FallbackEmbedder) vectorFor(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vector := make([]float32, e.dimension)
	var norm float64
	for i := range vector {
		v := rng.NormFloat64()
		vector[i] = float32(v)
		norm += v * v
	}

	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vector {
			vector[i] = float32(float64(vector[i]) / norm)
		}
	}

	return vector
}

func (e *FallbackEmbedder) Dimension() int {
	return e.dimension
}

func (e *FallbackEmbedder) Name() string {
	return "fallback"
}

func (e *FallbackEmbedder) Model() string {
	return "deterministic-random"
}

func (e *FallbackEmbedder) Close() error {
	return nil
}
