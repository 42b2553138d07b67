package config

import "fmt"

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ReadTimeout and WriteTimeout in seconds.
	ReadTimeout  int `yaml:"read_timeout"`
	WriteTimeout int `yaml:"write_timeout"`

	// ShutdownGrace in seconds for graceful shutdown.
	ShutdownGrace int `yaml:"shutdown_grace"`

	// CORSAllowedOrigins for the mobile/web channels.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 90
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = 15
	}
	if len(c.CORSAllowedOrigins) == 0 {
		c.CORSAllowedOrigins = []string{"*"}
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// AuthConfig configures API key verification for the HTTP surface.
type AuthConfig struct {
	// APIKeys maps key -> role, parsed from "key:role,key:role" when the
	// API_KEYS environment variable feeds it as a single string.
	APIKeys map[string]string `yaml:"api_keys"`

	// APIKeysString is the "key:role,key:role" form used via env expansion.
	APIKeysString string `yaml:"api_keys_string"`

	// JWTSecret signs ops-surface access tokens (HS256).
	JWTSecret string `yaml:"jwt_secret"`

	// TokenTTLMinutes is the JWT lifetime.
	TokenTTLMinutes int `yaml:"token_ttl_minutes"`
}

func (c *AuthConfig) SetDefaults() {
	if c.TokenTTLMinutes == 0 {
		c.TokenTTLMinutes = 30
	}
}

// ResolvedAPIKeys merges the map and string forms, map entries winning.
func (c *AuthConfig) ResolvedAPIKeys() map[string]string {
	keys := make(map[string]string)
	if c.APIKeysString != "" {
		for _, pair := range splitAndTrim(c.APIKeysString, ",") {
			if k, role, ok := cutPair(pair, ":"); ok {
				keys[k] = role
			}
		}
	}
	for k, role := range c.APIKeys {
		keys[k] = role
	}
	return keys
}
