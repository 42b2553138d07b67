package knowledge

import (
	"fmt"

	"github.com/atlaspay/concierge/pkg/config"
)

// NewProvider builds the vector store backend selected in configuration.
func NewProvider(cfg config.VectorStoreConfig) (Provider, error) {
	switch cfg.Type {
	case "chromem", "":
		return NewChromemProvider(cfg)
	case "qdrant":
		return NewQdrantProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
	}
}
