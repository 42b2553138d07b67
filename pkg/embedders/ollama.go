package embedders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/atlaspay/concierge/pkg/config"
	"github.com/atlaspay/concierge/pkg/httpclient"
)

// Ollama's llama runner crashes when receiving concurrent embedding
// requests, so all calls through this provider are serialized.
var ollamaEmbedMu sync.Mutex

type OllamaEmbedder struct {
	config *config.EmbedderProviderConfig
	client *httpclient.Client
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func NewOllamaEmbedderFromConfig(cfg *config.EmbedderProviderConfig) (*OllamaEmbedder, error) {
	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Second),
	)

	e := &OllamaEmbedder{
		config: cfg,
		client: client,
	}

	// Probe the host so provider selection can fall through when no local
	// model is running.
	probeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.probe(probeCtx); err != nil {
		return nil, fmt.Errorf("ollama host %s unreachable: %w", cfg.Host, err)
	}

	return e, nil
}

func (e *OllamaEmbedder) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (e *OllamaEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vector, err := e.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vector)
	}
	return vectors, nil
}

func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	request := ollamaEmbedRequest{
		Model:  e.config.Model,
		Prompt: text,
	}

	resp, err := e.client.PostJSON(ctx, e.config.Host+"/api/embeddings", request, nil)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API returned status %d: %s", resp.StatusCode, string(body))
	}

	var response ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}

	if len(response.Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding from ollama")
	}

	return response.Embedding, nil
}

func (e *OllamaEmbedder) Dimension() int {
	return e.config.Dimension
}

func (e *OllamaEmbedder) Name() string {
	return "ollama"
}

func (e *OllamaEmbedder) Model() string {
	return e.config.Model
}

func (e *OllamaEmbedder) Close() error {
	return nil
}
