package embedders

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlaspay/concierge/pkg/config"
)

func TestFallbackEmbedderIsDeterministic(t *testing.T) {
	e := NewFallbackEmbedder(384)

	first, err := e.EmbedQuery(context.Background(), "comment consulter mon solde")
	require.NoError(t, err)
	second, err := e.EmbedQuery(context.Background(), "comment consulter mon solde")
	require.NoError(t, err)

	assert.Equal(t, first, second)

	other, err := e.EmbedQuery(context.Background(), "autre texte")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestFallbackEmbedderProducesUnitVectors(t *testing.T) {
	e := NewFallbackEmbedder(128)

	vectors, err := e.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	for _, vector := range vectors {
		require.Len(t, vector, 128)
		var norm float64
		for _, v := range vector {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	}
}

func TestPreprocessTrimsAndCaps(t *testing.T) {
	assert.Equal(t, "hello", Preprocess("  hello \n"))

	long := strings.Repeat("x", 9000)
	processed := Preprocess(long)
	assert.Len(t, processed, 8003) // 8000 chars plus ellipsis
	assert.True(t, strings.HasSuffix(processed, "..."))
}

func TestManagerSelectsFallbackWhenChainFails(t *testing.T) {
	// openai without a key cannot initialize; the chain falls through.
	chain := []config.EmbedderProviderConfig{
		{Type: "openai"},
		{Type: "fallback", Dimension: 64},
	}
	for i := range chain {
		chain[i].SetDefaults()
	}

	m := NewManager(chain)
	assert.Equal(t, "fallback", m.Info().Provider)
	assert.Equal(t, 64, m.Dimension())
}

func TestManagerRejectsEmptyQuery(t *testing.T) {
	m := NewManager(nil)

	_, err := m.EmbedQuery(context.Background(), "   ")
	assert.Error(t, err)
}
