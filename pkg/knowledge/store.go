package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atlaspay/concierge/pkg/embedders"
)

// Store is the tenant-facing retrieval API for one application. Every call
// names a tenant, and the tenant maps to exactly one collection.
type Store struct {
	application string
	provider    Provider
	embedder    *embedders.Manager
	chunker     *Chunker
}

// Hit is a retrieval result scored by relevance, where 1 is an exact match
// and 0 is unrelated.
type Hit struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Relevance float32           `json:"relevance"`
	Metadata  map[string]string `json:"metadata"`
}

// Stats describes a tenant's collection for health and admin endpoints.
type Stats struct {
	Collection string                 `json:"collection"`
	Documents  int                    `json:"documents"`
	Embedder   embedders.ProviderInfo `json:"embedder"`
}

func NewStore(application string, provider Provider, embedder *embedders.Manager) *Store {
	return &Store{
		application: application,
		provider:    provider,
		embedder:    embedder,
		chunker:     NewChunker(),
	}
}

// CollectionName maps an (application, tenant) pair to its collection.
func (s *Store) CollectionName(tenantID string) string {
	return fmt.Sprintf("%s_%s", s.application, tenantID)
}

// Ingest chunks a document, embeds it, and upserts it into the tenant's
// collection. Record IDs are content-derived, so re-ingesting the same
// source replaces records instead of duplicating them. Returns the number
// of chunks written.
func (s *Store) Ingest(ctx context.Context, tenantID, source, category, content string) (int, error) {
	chunks := s.chunker.Split(content)
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed document %q: %w", source, err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	ingestedAt := time.Now().UTC().Format(time.RFC3339)
	docs := make([]Document, 0, len(chunks))
	for i, chunk := range chunks {
		metadata := s.chunker.Analyze(chunk)
		metadata["source"] = source
		metadata["category"] = category
		metadata["chunk_index"] = fmt.Sprintf("%d", i)
		metadata["application"] = s.application
		metadata["tenant_id"] = tenantID
		metadata["ingested_at"] = ingestedAt

		docs = append(docs, Document{
			ID:       RecordID(source, i, chunk),
			Content:  chunk,
			Vector:   vectors[i],
			Metadata: metadata,
		})
	}

	collection := s.CollectionName(tenantID)
	if err := s.provider.Upsert(ctx, collection, docs); err != nil {
		return 0, fmt.Errorf("failed to upsert into %q: %w", collection, err)
	}

	slog.Info("Ingested document",
		"collection", collection,
		"source", source,
		"chunks", len(docs))

	return len(docs), nil
}

// Search embeds the query and returns the most relevant records from the
// tenant's collection. A non-empty category keeps only matching records.
func (s *Store) Search(ctx context.Context, tenantID, query string, topK int, category string) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// Over-fetch when a category filter applies, then trim after filtering.
	fetch := topK
	if category != "" {
		fetch = topK * 3
	}

	results, err := s.provider.Query(ctx, s.CollectionName(tenantID), vector, fetch, nil)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, topK)
	for _, r := range results {
		if category != "" && r.Metadata["category"] != category {
			continue
		}
		hits = append(hits, Hit{
			ID:        r.ID,
			Content:   r.Content,
			Relevance: r.Similarity,
			Metadata:  r.Metadata,
		})
		if len(hits) == topK {
			break
		}
	}

	return hits, nil
}

// CollectionStats reports the size of a tenant's collection.
func (s *Store) CollectionStats(ctx context.Context, tenantID string) (Stats, error) {
	collection := s.CollectionName(tenantID)
	count, err := s.provider.Count(ctx, collection)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Collection: collection,
		Documents:  count,
		Embedder:   s.embedder.Info(),
	}, nil
}

// Close releases the underlying backend.
func (s *Store) Close() error {
	return s.provider.Close()
}
