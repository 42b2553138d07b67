// Package provider defines the config source abstraction.
//
// Providers load raw configuration bytes and support watching for changes so
// pack definitions and escalation rules can be hot-swapped without a restart.
package provider

import (
	"context"
	"fmt"
)

// Type identifies the config source type.
type Type string

const (
	TypeFile Type = "file"
)

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "file", "":
		return TypeFile, nil
	default:
		return "", fmt.Errorf("unknown provider type: %s", s)
	}
}

// Provider abstracts config sources.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Type returns the provider type for logging/debugging.
	Type() Type

	// Load reads raw config bytes from the source.
	Load(ctx context.Context) ([]byte, error)

	// Watch returns a channel that receives a value whenever the source
	// changes. Returns nil when the source does not support watching.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Close releases resources held by the provider.
	Close() error
}
