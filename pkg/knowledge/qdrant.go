package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"github.com/atlaspay/concierge/pkg/config"
)

// QdrantProvider talks to a Qdrant server over gRPC. Collections are created
// on first upsert with cosine distance, matching the similarity contract of
// the in-process backend.
type QdrantProvider struct {
	client *qdrant.Client

	mu    sync.Mutex
	known map[string]bool
}

func NewQdrantProvider(cfg config.VectorStoreConfig) (*QdrantProvider, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.EnableTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	slog.Info("Connected to Qdrant", "host", cfg.Host, "port", cfg.Port)

	return &QdrantProvider{
		client: client,
		known:  make(map[string]bool),
	}, nil
}

func (p *QdrantProvider) Name() string {
	return "qdrant"
}

// ensureCollection creates the collection if it does not exist yet. The
// vector width is taken from the first document batch, so the embedding
// dimension never needs to be configured twice.
func (p *QdrantProvider) ensureCollection(ctx context.Context, name string, dimension int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.known[name] {
		return nil
	}

	exists, err := p.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection %q: %w", name, err)
	}

	if !exists {
		err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection %q: %w", name, err)
		}
		slog.Info("Created Qdrant collection", "collection", name, "dimension", dimension)
	}

	p.known[name] = true
	return nil
}

func (p *QdrantProvider) Upsert(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	if err := p.ensureCollection(ctx, collection, len(docs[0].Vector)); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, doc := range docs {
		payload := map[string]*qdrant.Value{
			"content": qdrant.NewValueString(doc.Content),
		}
		for k, v := range doc.Metadata {
			payload[k] = qdrant.NewValueString(v)
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(doc.ID),
			Vectors: qdrant.NewVectors(doc.Vector...),
			Payload: payload,
		})
	}

	_, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	return nil
}

func (p *QdrantProvider) Query(ctx context.Context, collection string, vector []float32, topK int, filter map[string]string) ([]Result, error) {
	limit := uint64(topK)
	points, err := p.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]Result, 0, len(points))
	for _, point := range points {
		result := Result{
			ID:         pointID(point.Id),
			Similarity: point.Score,
			Metadata:   make(map[string]string),
		}
		for key, value := range point.Payload {
			if key == "content" {
				result.Content = value.GetStringValue()
				continue
			}
			result.Metadata[key] = value.GetStringValue()
		}
		out = append(out, result)
	}

	return out, nil
}

func (p *QdrantProvider) Count(ctx context.Context, collection string) (int, error) {
	exact := true
	count, err := p.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(count), nil
}

func (p *QdrantProvider) Close() error {
	return p.client.Close()
}

func buildFilter(filter map[string]string) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}

	conditions := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		conditions = append(conditions, qdrant.NewMatch(key, value))
	}

	return &qdrant.Filter{Must: conditions}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}
