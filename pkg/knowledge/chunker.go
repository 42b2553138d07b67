package knowledge

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// Chunker segments documents into overlapping windows, cutting at natural
// boundaries when possible, and annotates each chunk with lightweight
// content analysis used for metadata filtering at query time.
type Chunker struct {
	Size    int
	Overlap int
}

func NewChunker() *Chunker {
	return &Chunker{Size: defaultChunkSize, Overlap: defaultChunkOverlap}
}

// chunk boundary delimiters, tried in order of preference.
var chunkDelimiters = []string{"\n\n", "\n", ". ", "? ", "! ", " "}

// Split cuts text into overlapping chunks. Each chunk ends at the last
// natural delimiter inside the window when one exists.
func (c *Chunker) Split(text string) []string {
	if len(text) <= c.Size {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}

	var chunks []string
	start := 0

	for start < len(text) {
		end := start + c.Size
		if end > len(text) {
			end = len(text)
		} else {
			for _, delimiter := range chunkDelimiters {
				if idx := strings.LastIndex(text[start:end], delimiter); idx > 0 {
					end = start + idx + len(delimiter)
					break
				}
			}
		}

		if chunk := strings.TrimSpace(text[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := end - c.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}

var (
	faqQuestionPattern = regexp.MustCompile(`(?m)^(?:Q|Question)\s*:?\s*(.+)$`)
	procedurePattern   = regexp.MustCompile(`(?mi)(?:étape|step)\s*\d+|^\d+\.\s+`)
	amountPattern      = regexp.MustCompile(`\b\d{1,3}(?:\s?\d{3})*(?:[.,]\d{2})?\s?(?:XOF|FCFA|€|USD|\$)`)
	phonePattern       = regexp.MustCompile(`\+225\d{8}|\d{2}\s?\d{2}\s?\d{2}\s?\d{2}`)
)

var (
	frenchIndicators  = []string{"le", "la", "les", "de", "du", "des", "et", "est", "dans", "pour", "avec", "vous", "votre"}
	englishIndicators = []string{"the", "and", "is", "in", "for", "with", "you", "your", "this", "that"}
)

// Analyze classifies a chunk and returns string metadata suitable for the
// vector store payload.
func (c *Chunker) Analyze(chunk string) map[string]string {
	lower := strings.ToLower(chunk)

	isFAQ := faqQuestionPattern.MatchString(chunk)
	hasProcedure := procedurePattern.MatchString(chunk)
	hasAmount := amountPattern.MatchString(chunk)
	hasPhone := phonePattern.MatchString(chunk)
	wordCount := len(strings.Fields(chunk))

	contentType := "general"
	switch {
	case isFAQ:
		contentType = "faq"
	case hasProcedure:
		contentType = "procedure"
	case hasAmount && wordCount < 50:
		contentType = "tarif"
	case strings.Contains(lower, "contact") && hasPhone:
		contentType = "contact_info"
	case containsAny(lower, "erreur", "problème", "bug", "dysfonctionnement"):
		contentType = "troubleshooting"
	case containsAny(lower, "règlement", "condition", "juridique", "légal"):
		contentType = "regulation"
	}

	return map[string]string{
		"content_type": contentType,
		"language":     detectChunkLanguage(lower),
		"word_count":   strconv.Itoa(wordCount),
	}
}

func containsAny(text string, words ...string) bool {
	for _, word := range words {
		if strings.Contains(text, word) {
			return true
		}
	}
	return false
}

func detectChunkLanguage(lower string) string {
	var french, english int
	for _, word := range frenchIndicators {
		if strings.Contains(lower, word) {
			french++
		}
	}
	for _, word := range englishIndicators {
		if strings.Contains(lower, word) {
			english++
		}
	}

	switch {
	case french > english:
		return "fr"
	case english > french:
		return "en"
	default:
		return "unknown"
	}
}
