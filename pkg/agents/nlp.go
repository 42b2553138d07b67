package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atlaspay/concierge/pkg/llms"
)

// IntentResult is the structured output of intent classification.
type IntentResult struct {
	Intent     string            `json:"intention"`
	Confidence int               `json:"confiance"`
	Entities   map[string]string `json:"entites"`
	Sentiment  string            `json:"sentiment"`
}

// SentimentResult is the structured output of sentiment analysis.
type SentimentResult struct {
	Sentiment string   `json:"sentiment"`
	Urgency   string   `json:"urgence"`
	Emotions  []string `json:"emotions"`
}

var (
	frenchKeywords  = []string{"bonjour", "salut", "merci", "comment", "pourquoi", "transfert", "argent"}
	englishKeywords = []string{"hello", "hi", "thank", "how", "why", "transfer", "money"}
)

// DetectLanguage guesses fr or en from common keywords. French is the
// default for the product's markets.
func DetectLanguage(message string) string {
	lower := strings.ToLower(message)

	var french, english int
	for _, kw := range frenchKeywords {
		if strings.Contains(lower, kw) {
			french++
		}
	}
	for _, kw := range englishKeywords {
		if strings.Contains(lower, kw) {
			english++
		}
	}

	// Ties fall through to the French default.
	if english > french {
		return "en"
	}
	return "fr"
}

// Canonical sentiment and urgency values. The model answers in French; the
// escalation rules match on these normalized forms.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
	SentimentUrgent   = "urgent"

	UrgencyNormal = "normal"
	UrgencyUrgent = "urgent"
)

func normalizeSentiment(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positif", "positive":
		return SentimentPositive
	case "négatif", "negatif", "negative":
		return SentimentNegative
	case "urgent", "urgente":
		return SentimentUrgent
	default:
		return SentimentNeutral
	}
}

func normalizeUrgency(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "urgent", "urgente", "haute", "élevée", "elevee", "high":
		return UrgencyUrgent
	default:
		return UrgencyNormal
	}
}

// ClassifyIntent asks the model to classify a message into one of the
// available intents, returning a neutral unknown on any failure so the
// pipeline never blocks on classification.
func ClassifyIntent(ctx context.Context, llm llms.LLM, message string, availableIntents []string) IntentResult {
	fallback := IntentResult{Intent: "unknown", Entities: map[string]string{}, Sentiment: SentimentNeutral}

	system := fmt.Sprintf(`Tu es un classificateur d'intentions pour un assistant bancaire.

Intentions disponibles: %s

Analyse le message utilisateur et retourne au format JSON uniquement:
{"intention": "...", "confiance": 0-100, "entites": {}, "sentiment": "positif|neutre|négatif"}`,
		strings.Join(availableIntents, ", "))

	result, err := llm.Generate(ctx, []llms.Message{
		{Role: llms.RoleSystem, Content: system},
		{Role: llms.RoleUser, Content: message},
	})
	if err != nil {
		slog.Warn("Intent classification failed", "error", err)
		return fallback
	}

	var parsed IntentResult
	if err := json.Unmarshal(extractJSON(result.Text), &parsed); err != nil {
		slog.Warn("Intent classification returned malformed JSON", "error", err)
		return fallback
	}
	if parsed.Intent == "" {
		parsed.Intent = "unknown"
	}
	parsed.Sentiment = normalizeSentiment(parsed.Sentiment)
	if parsed.Entities == nil {
		parsed.Entities = map[string]string{}
	}

	return parsed
}

// AnalyzeSentiment asks the model for sentiment and urgency, defaulting to
// neutral on failure.
func AnalyzeSentiment(ctx context.Context, llm llms.LLM, message string) SentimentResult {
	fallback := SentimentResult{Sentiment: SentimentNeutral, Urgency: UrgencyNormal, Emotions: []string{}}

	result, err := llm.Generate(ctx, []llms.Message{
		{Role: llms.RoleSystem, Content: `Analyse le sentiment de ce message. Réponds avec: positif, neutre, négatif, urgent. Format JSON: {"sentiment": "...", "urgence": "...", "emotions": []}`},
		{Role: llms.RoleUser, Content: message},
	})
	if err != nil {
		slog.Warn("Sentiment analysis failed", "error", err)
		return fallback
	}

	var parsed SentimentResult
	if err := json.Unmarshal(extractJSON(result.Text), &parsed); err != nil {
		slog.Warn("Sentiment analysis returned malformed JSON", "error", err)
		return fallback
	}
	parsed.Sentiment = normalizeSentiment(parsed.Sentiment)
	parsed.Urgency = normalizeUrgency(parsed.Urgency)
	if parsed.Emotions == nil {
		parsed.Emotions = []string{}
	}

	return parsed
}

// extractJSON pulls the first JSON object out of a model reply, tolerating
// markdown fences and surrounding prose.
func extractJSON(text string) []byte {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return []byte(text)
	}
	return []byte(text[start : end+1])
}
