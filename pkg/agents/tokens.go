package agents

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens per model, falling back to a length-based
// estimate when no encoding is available offline.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	encodingMu    sync.Mutex
)

// NewTokenCounter builds a counter for a model. The counter is always
// usable; a nil encoding means Count falls back to estimation.
func NewTokenCounter(model string) *TokenCounter {
	encodingMu.Lock()
	defer encodingMu.Unlock()

	if cached, ok := encodingCache[model]; ok {
		return &TokenCounter{encoding: cached, model: model}
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err == nil {
		encodingCache[model] = encoding
	}

	return &TokenCounter{encoding: encoding, model: model}
}

// Count returns the token count of text, estimating 4 characters per token
// when the encoding could not be loaded.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.encoding == nil {
		return len(text) / 4
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

func (tc *TokenCounter) Model() string {
	if tc == nil {
		return ""
	}
	return tc.model
}
