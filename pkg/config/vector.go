package config

import "fmt"

// VectorStoreConfig configures the vector database backing the per-tenant
// knowledge collections.
//
// Example YAML:
//
//	vector_store:
//	  type: chromem
//	  persist_path: ./data/vectors
//	# or:
//	vector_store:
//	  type: qdrant
//	  host: qdrant.internal
//	  port: 6334
//	  api_key: ${QDRANT_API_KEY}
type VectorStoreConfig struct {
	// Type is "chromem" (embedded, disk-persisted) or "qdrant".
	Type string `yaml:"type"`

	// PersistPath for chromem file persistence. Empty means memory only.
	PersistPath string `yaml:"persist_path,omitempty"`

	// Compress enables gzip compression for chromem persistence.
	Compress bool `yaml:"compress,omitempty"`

	// Host and Port for qdrant.
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// APIKey for authenticated qdrant access.
	APIKey string `yaml:"api_key,omitempty"`

	// EnableTLS enables TLS for qdrant connections.
	EnableTLS bool `yaml:"enable_tls,omitempty"`
}

func (c *VectorStoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Type == "qdrant" && c.Port == 0 {
		c.Port = 6334
	}
}

func (c *VectorStoreConfig) Validate() error {
	switch c.Type {
	case "chromem":
		return nil
	case "qdrant":
		if c.Host == "" {
			return fmt.Errorf("qdrant requires a host")
		}
		return nil
	default:
		return fmt.Errorf("unsupported vector store type: %s (supported: chromem, qdrant)", c.Type)
	}
}
