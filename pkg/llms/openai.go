package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/atlaspay/concierge/pkg/config"
	"github.com/atlaspay/concierge/pkg/httpclient"
)

const defaultOpenAIHost = "https://api.openai.com/v1"

// OpenAIProvider talks to the OpenAI chat completions API.
type OpenAIProvider struct {
	cfg    *config.LLMProviderConfig
	client *httpclient.Client
	host   string
}

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func NewOpenAIProviderFromConfig(cfg *config.LLMProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai requires an API key")
	}

	host := cfg.Host
	if host == "" {
		host = defaultOpenAIHost
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
	)

	return &OpenAIProvider{cfg: cfg, client: client, host: host}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Model() string {
	return p.cfg.Model
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message) (*Result, error) {
	request := openAIChatRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	}

	headers := map[string]string{
		"Authorization": "Bearer " + p.cfg.APIKey,
	}

	resp, err := p.client.PostJSON(ctx, p.host+"/chat/completions", request, headers)
	if resp == nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	// Error responses still carry a JSON body worth surfacing.
	var parsed openAIChatResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&parsed); decodeErr != nil {
		if err != nil {
			return nil, fmt.Errorf("openai request failed: %w", err)
		}
		return nil, fmt.Errorf("failed to decode openai response: %w", decodeErr)
	}

	if parsed.Error != nil {
		return nil, fmt.Errorf("openai API error: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	return &Result{
		Text:       parsed.Choices[0].Message.Content,
		TokensUsed: parsed.Usage.TotalTokens,
	}, nil
}

func (p *OpenAIProvider) Close() error {
	return nil
}
