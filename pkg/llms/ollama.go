package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/atlaspay/concierge/pkg/config"
	"github.com/atlaspay/concierge/pkg/httpclient"
)

const defaultOllamaHost = "http://localhost:11434"

// OllamaProvider talks to a local Ollama server.
type OllamaProvider struct {
	cfg    *config.LLMProviderConfig
	client *httpclient.Client
	host   string
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

func NewOllamaProviderFromConfig(cfg *config.LLMProviderConfig) (*OllamaProvider, error) {
	host := strings.TrimSuffix(cfg.Host, "/")
	if host == "" {
		host = defaultOllamaHost
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
	)

	return &OllamaProvider{cfg: cfg, client: client, host: host}, nil
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

func (p *OllamaProvider) Model() string {
	return p.cfg.Model
}

func (p *OllamaProvider) Generate(ctx context.Context, messages []Message) (*Result, error) {
	request := ollamaChatRequest{
		Model:    p.cfg.Model,
		Messages: messages,
		Stream:   false,
		Options: map[string]any{
			"temperature": p.cfg.Temperature,
			"num_predict": p.cfg.MaxTokens,
		},
	}

	resp, err := p.client.PostJSON(ctx, p.host+"/api/chat", request, nil)
	if resp == nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed ollamaChatResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&parsed); decodeErr != nil {
		if err != nil {
			return nil, fmt.Errorf("ollama request failed: %w", err)
		}
		return nil, fmt.Errorf("failed to decode ollama response: %w", decodeErr)
	}

	if parsed.Error != "" {
		return nil, fmt.Errorf("ollama API error: %s", parsed.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	return &Result{
		Text:       parsed.Message.Content,
		TokensUsed: parsed.PromptEvalCount + parsed.EvalCount,
	}, nil
}

func (p *OllamaProvider) Close() error {
	return nil
}
