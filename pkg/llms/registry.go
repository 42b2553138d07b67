package llms

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/atlaspay/concierge/pkg/config"
	"github.com/atlaspay/concierge/pkg/registry"
)

// Registry holds named LLM providers and the configured default.
type Registry struct {
	*registry.BaseRegistry[LLM]
	defaultName string
}

// NewRegistryFromConfig instantiates every configured provider. Providers
// that fail to initialize are skipped with a warning; the registry fails
// only when the default is unusable.
func NewRegistryFromConfig(providers map[string]*config.LLMProviderConfig, defaultName string) (*Registry, error) {
	r := &Registry{
		BaseRegistry: registry.NewBaseRegistry[LLM](),
		defaultName:  defaultName,
	}

	for name, cfg := range providers {
		provider, err := newProvider(cfg)
		if err != nil {
			slog.Warn("LLM provider failed to initialize, skipping",
				"name", name,
				"type", cfg.Type,
				"error", err)
			continue
		}
		if err := r.Register(name, provider); err != nil {
			return nil, err
		}
		slog.Info("LLM provider registered", "name", name, "type", cfg.Type, "model", cfg.Model)
	}

	if defaultName != "" {
		if _, ok := r.Get(defaultName); !ok {
			return nil, fmt.Errorf("default LLM %q is not available (registered: %s)",
				defaultName, strings.Join(r.Names(), ", "))
		}
	}

	return r, nil
}

func newProvider(cfg *config.LLMProviderConfig) (LLM, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIProviderFromConfig(cfg)
	case "ollama":
		return NewOllamaProviderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM type: %s", cfg.Type)
	}
}

// Default returns the configured default provider.
func (r *Registry) Default() (LLM, error) {
	if r.defaultName == "" {
		return nil, fmt.Errorf("no default LLM configured")
	}
	provider, ok := r.Get(r.defaultName)
	if !ok {
		return nil, fmt.Errorf("default LLM %q is not registered", r.defaultName)
	}
	return provider, nil
}
