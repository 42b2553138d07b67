// Package llms provides chat completion providers behind one interface.
package llms

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result is a completed generation.
type Result struct {
	Text       string
	TokensUsed int
}

// LLM is a chat completion provider.
type LLM interface {
	Name() string
	Model() string
	Generate(ctx context.Context, messages []Message) (*Result, error)
	Close() error
}
