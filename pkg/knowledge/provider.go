// Package knowledge is the retrieval layer: per-tenant vector collections
// with embedding abstraction and deterministic record identifiers.
//
// Tenant isolation is structural. Every (application, tenant) pair owns its
// own collection and no cross-collection query path exists, so a query for
// tenant A can never surface tenant B's records.
package knowledge

import (
	"context"
)

// Document is a vector-store entry with its pre-computed embedding.
type Document struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]string
}

// Result is a similarity search hit. Similarity is in [0,1], 1 meaning an
// exact match.
type Result struct {
	ID         string
	Content    string
	Metadata   map[string]string
	Similarity float32
}

// Provider abstracts the vector database.
type Provider interface {
	Name() string

	// Upsert writes documents into a collection, creating it on first use.
	// Idempotent by document ID.
	Upsert(ctx context.Context, collection string, docs []Document) error

	// Query returns the topK most similar documents. A non-nil filter
	// restricts hits to exact metadata matches.
	Query(ctx context.Context, collection string, vector []float32, topK int, filter map[string]string) ([]Result, error)

	// Count returns the number of documents in a collection.
	Count(ctx context.Context, collection string) (int, error)

	Close() error
}
