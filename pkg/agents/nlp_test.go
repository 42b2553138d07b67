package agents

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlaspay/concierge/pkg/llms"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"Bonjour, comment faire un transfert ?", "fr"},
		{"Hello, how do I transfer money?", "en"},
		{"merci hello", "fr"},
		{"xyz 123", "fr"},
		{"", "fr"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectLanguage(tt.message), "message=%q", tt.message)
	}
}

func TestClassifyIntentParsesFencedJSON(t *testing.T) {
	llm := &mockLLM{fn: func(int, []llms.Message) (*llms.Result, error) {
		return &llms.Result{Text: "```json\n{\"intention\": \"solde\", \"confiance\": 92, \"entites\": {\"compte\": \"courant\"}, \"sentiment\": \"neutre\"}\n```"}, nil
	}}

	got := ClassifyIntent(context.Background(), llm, "Quel est mon solde ?", []string{"solde", "transfert"})
	assert.Equal(t, "solde", got.Intent)
	assert.Equal(t, 92, got.Confidence)
	assert.Equal(t, "courant", got.Entities["compte"])
	assert.Equal(t, SentimentNeutral, got.Sentiment)

	// The available intents are advertised to the model.
	require.Len(t, llm.calls, 1)
	assert.Contains(t, llm.calls[0][0].Content, "solde, transfert")
}

func TestClassifyIntentFallsBackOnFailure(t *testing.T) {
	broken := &mockLLM{fn: func(int, []llms.Message) (*llms.Result, error) {
		return nil, errors.New("timeout")
	}}
	got := ClassifyIntent(context.Background(), broken, "Quel est mon solde ?", nil)
	assert.Equal(t, "unknown", got.Intent)
	assert.Equal(t, 0, got.Confidence)
	assert.Equal(t, SentimentNeutral, got.Sentiment)
	assert.NotNil(t, got.Entities)

	garbled := &mockLLM{fn: func(int, []llms.Message) (*llms.Result, error) {
		return &llms.Result{Text: "je ne peux pas répondre en JSON"}, nil
	}}
	got = ClassifyIntent(context.Background(), garbled, "Quel est mon solde ?", nil)
	assert.Equal(t, "unknown", got.Intent)
}

func TestAnalyzeSentimentNormalizesVocabulary(t *testing.T) {
	// The model answers in French; callers see the canonical forms the
	// escalation rules match on.
	llm := &mockLLM{fn: func(int, []llms.Message) (*llms.Result, error) {
		return &llms.Result{Text: `{"sentiment": "négatif", "urgence": "haute", "emotions": ["frustration"]}`}, nil
	}}
	got := AnalyzeSentiment(context.Background(), llm, "C'est inadmissible, mon compte est bloqué !")
	assert.Equal(t, SentimentNegative, got.Sentiment)
	assert.Equal(t, UrgencyUrgent, got.Urgency)
	assert.Equal(t, []string{"frustration"}, got.Emotions)

	urgent := &mockLLM{fn: func(int, []llms.Message) (*llms.Result, error) {
		return &llms.Result{Text: `{"sentiment": "urgent", "urgence": "urgente"}`}, nil
	}}
	got = AnalyzeSentiment(context.Background(), urgent, "C'est urgent !")
	assert.Equal(t, SentimentUrgent, got.Sentiment)
	assert.Equal(t, UrgencyUrgent, got.Urgency)

	broken := &mockLLM{fn: func(int, []llms.Message) (*llms.Result, error) {
		return nil, errors.New("timeout")
	}}
	got = AnalyzeSentiment(context.Background(), broken, "bonjour")
	assert.Equal(t, SentimentNeutral, got.Sentiment)
	assert.Equal(t, UrgencyNormal, got.Urgency)
}
