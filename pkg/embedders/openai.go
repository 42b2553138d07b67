package embedders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atlaspay/concierge/pkg/config"
	"github.com/atlaspay/concierge/pkg/httpclient"
)

// openaiBatchSize bounds embedding request batches; the API accepts more but
// large batches amplify retry cost.
const openaiBatchSize = 100

type OpenAIEmbedder struct {
	config *config.EmbedderProviderConfig
	client *httpclient.Client
}

type openaiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func NewOpenAIEmbedderFromConfig(cfg *config.EmbedderProviderConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai embedder requires an API key")
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
	)

	return &OpenAIEmbedder{
		config: cfg,
		client: client,
	}, nil
}

func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += openaiBatchSize {
		end := start + openaiBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}

	return all, nil
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	request := openaiEmbedRequest{
		Model: e.config.Model,
		Input: texts,
	}

	resp, err := e.client.PostJSON(ctx, e.config.Host+"/embeddings", request, map[string]string{
		"Authorization": "Bearer " + e.config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai API returned status %d: %s", resp.StatusCode, string(body))
	}

	var response openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}

	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(response.Data), len(texts))
	}

	// The API documents order preservation but also returns indices.
	vectors := make([][]float32, len(texts))
	for _, item := range response.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("openai returned out-of-range embedding index %d", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}

	return vectors, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.config.Dimension
}

func (e *OpenAIEmbedder) Name() string {
	return "openai"
}

func (e *OpenAIEmbedder) Model() string {
	return e.config.Model
}

func (e *OpenAIEmbedder) Close() error {
	return nil
}
