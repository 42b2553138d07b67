package config

import "fmt"

// LLMProviderConfig configures a language-model provider.
type LLMProviderConfig struct {
	// Type is "openai" or "ollama".
	Type string `yaml:"type"`

	// Model name, e.g. "gpt-4o-mini" or "llama3".
	Model string `yaml:"model"`

	// APIKey for remote providers.
	APIKey string `yaml:"api_key,omitempty"`

	// Host overrides the provider base URL.
	Host string `yaml:"host,omitempty"`

	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`

	// Timeout in seconds for a single completion call.
	Timeout int `yaml:"timeout,omitempty"`

	// MaxRetries for transient upstream failures.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	switch c.Type {
	case "openai":
		if c.Model == "" {
			c.Model = "gpt-4o-mini"
		}
		if c.Host == "" {
			c.Host = "https://api.openai.com/v1"
		}
	case "ollama":
		if c.Model == "" {
			c.Model = "llama3"
		}
		if c.Host == "" {
			c.Host = "http://localhost:11434"
		}
	}
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
}

func (c *LLMProviderConfig) Validate() error {
	switch c.Type {
	case "openai":
		if c.APIKey == "" {
			return fmt.Errorf("openai requires an api_key")
		}
	case "ollama":
	default:
		return fmt.Errorf("unsupported LLM type: %s (supported: openai, ollama)", c.Type)
	}
	return nil
}

// EmbedderProviderConfig configures an embedding provider.
type EmbedderProviderConfig struct {
	// Type is "openai", "ollama" or "fallback".
	Type string `yaml:"type"`

	Model  string `yaml:"model,omitempty"`
	APIKey string `yaml:"api_key,omitempty"`
	Host   string `yaml:"host,omitempty"`

	// Dimension of produced vectors.
	Dimension int `yaml:"dimension,omitempty"`

	// Timeout in seconds per embedding call.
	Timeout int `yaml:"timeout,omitempty"`

	MaxRetries int `yaml:"max_retries,omitempty"`
}

func (c *EmbedderProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "fallback"
	}
	switch c.Type {
	case "openai":
		if c.Model == "" {
			c.Model = "text-embedding-3-small"
		}
		if c.Host == "" {
			c.Host = "https://api.openai.com/v1"
		}
		if c.Dimension == 0 {
			c.Dimension = 1536
		}
	case "ollama":
		if c.Model == "" {
			c.Model = "nomic-embed-text"
		}
		if c.Host == "" {
			c.Host = "http://localhost:11434"
		}
		if c.Dimension == 0 {
			c.Dimension = 768
		}
	case "fallback":
		if c.Dimension == 0 {
			c.Dimension = 384
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

func (c *EmbedderProviderConfig) Validate() error {
	switch c.Type {
	case "openai", "ollama", "fallback":
	default:
		return fmt.Errorf("unsupported embedder type: %s (supported: openai, ollama, fallback)", c.Type)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	return nil
}
