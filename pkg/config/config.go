// Package config defines the YAML configuration schema for the assistant and
// the loading pipeline: parse, env-var expansion, decode, defaults,
// validation.
package config

import (
	"fmt"
)

// Config is the root configuration for the assistant.
type Config struct {
	// Application is the product identity packs and collections are scoped
	// to.
	Application string `yaml:"application"`

	// Server configures the HTTP surface.
	Server ServerConfig `yaml:"server"`

	// Auth configures API key and JWT verification.
	Auth AuthConfig `yaml:"auth"`

	// Logging configures the process-wide logger.
	Logging LoggingConfig `yaml:"logging"`

	// Database is the relational store holding conversations, messages,
	// escalations and the human-agent pool.
	Database DatabaseConfig `yaml:"database"`

	// VectorStore configures the per-tenant knowledge collections.
	VectorStore VectorStoreConfig `yaml:"vector_store"`

	// Embedders is the embedding provider chain, in order of preference.
	// The first provider that initializes wins.
	Embedders []EmbedderProviderConfig `yaml:"embedders"`

	// LLMs maps provider names to their configuration.
	LLMs map[string]*LLMProviderConfig `yaml:"llms"`

	// DefaultLLM names the provider the orchestrator uses.
	DefaultLLM string `yaml:"default_llm"`

	// Packs points at the pack and tenant definition files.
	Packs PacksConfig `yaml:"packs"`

	// Agents points at the agent and task definition files.
	Agents AgentsConfig `yaml:"agents"`

	// Escalation holds the detector rule set.
	Escalation EscalationRulesConfig `yaml:"escalation"`

	// Conversation tunes session lifecycle and caching.
	Conversation ConversationConfig `yaml:"conversation"`
}

// LoggingConfig configures the slog logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Auth.SetDefaults()
	c.Database.SetDefaults()
	c.VectorStore.SetDefaults()
	for i := range c.Embedders {
		c.Embedders[i].SetDefaults()
	}
	for _, llm := range c.LLMs {
		llm.SetDefaults()
	}
	c.Packs.SetDefaults()
	c.Agents.SetDefaults()
	c.Escalation.SetDefaults()
	c.Conversation.SetDefaults()

	if c.Application == "" {
		c.Application = "atlas_money"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.DefaultLLM == "" && len(c.LLMs) == 1 {
		for name := range c.LLMs {
			c.DefaultLLM = name
		}
	}
}

// Validate checks cross-section invariants. Startup fails fast on violations.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.VectorStore.Validate(); err != nil {
		return fmt.Errorf("vector_store: %w", err)
	}
	for i, e := range c.Embedders {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("embedders[%d]: %w", i, err)
		}
	}
	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llm %q: %w", name, err)
		}
	}
	if c.DefaultLLM != "" {
		if _, ok := c.LLMs[c.DefaultLLM]; !ok {
			return fmt.Errorf("default_llm %q is not defined in llms", c.DefaultLLM)
		}
	}
	if err := c.Packs.Validate(); err != nil {
		return fmt.Errorf("packs: %w", err)
	}
	if err := c.Escalation.Validate(); err != nil {
		return fmt.Errorf("escalation: %w", err)
	}
	return nil
}
