package embedders

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atlaspay/concierge/pkg/config"
)

// Manager wraps the selected provider and applies the preprocessing
// contract on every call.
type Manager struct {
	provider Embedder
}

// ProviderInfo describes the active provider for health and diagnostics.
type ProviderInfo struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// NewManager walks the configured provider chain and selects the first one
// that initializes. An empty chain, or a chain where everything fails,
// selects the deterministic fallback.
func NewManager(chain []config.EmbedderProviderConfig) *Manager {
	for i := range chain {
		cfg := chain[i]
		provider, err := newProvider(&cfg)
		if err != nil {
			slog.Warn("Embedding provider failed to initialize, trying next",
				"type", cfg.Type,
				"error", err)
			continue
		}

		if provider.Name() == "fallback" {
			slog.Warn("Using fallback embeddings, search quality will be limited")
		} else {
			slog.Info("Embedding provider initialized",
				"provider", provider.Name(),
				"model", provider.Model(),
				"dimension", provider.Dimension())
		}
		return &Manager{provider: provider}
	}

	slog.Warn("No embedding provider available, using fallback embeddings")
	fallback := config.EmbedderProviderConfig{Type: "fallback"}
	fallback.SetDefaults()
	return &Manager{provider: NewFallbackEmbedder(fallback.Dimension)}
}

func newProvider(cfg *config.EmbedderProviderConfig) (Embedder, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIEmbedderFromConfig(cfg)
	case "ollama":
		return NewOllamaEmbedderFromConfig(cfg)
	case "fallback":
		return NewFallbackEmbedder(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedder type: %s", cfg.Type)
	}
}

// EmbedDocuments preprocesses and embeds a batch of documents.
func (m *Manager) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	processed := make([]string, len(texts))
	for i, text := range texts {
		processed[i] = Preprocess(text)
	}

	return m.provider.EmbedDocuments(ctx, processed)
}

// EmbedQuery preprocesses and embeds a search query.
func (m *Manager) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	processed := Preprocess(query)
	if processed == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	return m.provider.EmbedQuery(ctx, processed)
}

// Dimension returns the active provider's vector width.
func (m *Manager) Dimension() int {
	return m.provider.Dimension()
}

// Info returns details about the active provider.
func (m *Manager) Info() ProviderInfo {
	return ProviderInfo{
		Provider:  m.provider.Name(),
		Model:     m.provider.Model(),
		Dimension: m.provider.Dimension(),
	}
}

// Close releases provider resources.
func (m *Manager) Close() error {
	return m.provider.Close()
}
