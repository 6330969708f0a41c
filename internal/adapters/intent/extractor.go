// Package intent provides language-model backed query understanding:
// positive/negative intent extraction, clause classification, and
// context resolution. Every component here degrades to a conservative
// default on malformed model output instead of failing the request.
package intent

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/safebites/menuquery/internal/domain/entities"
	"github.com/safebites/menuquery/internal/domain/ports"
)

// Extractor implements ports.IntentExtractor with a language model.
type Extractor struct {
	llm    ports.LanguageModel
	logger *zap.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(llm ports.LanguageModel, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{llm: llm, logger: logger}
}

// Extract splits a clause into broadened inclusion terms and narrow
// exclusion terms. Provider failures propagate so the caller can retry
// or degrade; malformed output never does - the fallback is the clause
// itself with no exclusions, deterministically.
func (e *Extractor) Extract(ctx context.Context, clause string) (entities.IntentSet, error) {
	fallback := entities.IntentSet{Positive: []string{clause}}

	resp, err := e.llm.Complete(ctx, extractionPrompt(clause))
	if err != nil {
		return entities.IntentSet{}, err
	}

	var parsed struct {
		Positive []string `json:"positive"`
		Negative []string `json:"negative"`
	}
	if err := json.Unmarshal([]byte(stripFences(resp)), &parsed); err != nil {
		e.logger.Warn("unparseable intent output, using fallback",
			zap.String("clause", clause), zap.Error(err))
		return fallback, nil
	}
	if len(parsed.Positive) == 0 {
		return fallback, nil
	}

	return entities.IntentSet{Positive: parsed.Positive, Negative: parsed.Negative}, nil
}

func extractionPrompt(clause string) string {
	var sb strings.Builder
	sb.WriteString(`You are an intent extraction expert for food-related natural language queries.

Your job is to split the query into two lists:
1. Positive intents - what the user explicitly wants or is open to.
   - Expand this list semantically (include closely related dishes, cuisines, or styles).
2. Negative intents - what the user explicitly wants to exclude or avoid.
   - DO NOT over-expand. Keep this list narrowly focused on the specific items, ingredients, or categories mentioned.
   - Avoid including loosely related or parent-category terms.
   - Only include synonyms or direct variants (e.g., "meatballs" -> ["meatball", "meat balls", "polpette"], not "beef" or "meat").

Return the result as valid JSON:
{"positive": [...], "negative": [...]}

Example 1:
Query: "Gluten-free dishes without cheese"
Output: {"positive": ["anything", "gluten-free"], "negative": ["cheese", "dairy cheese", "cheddar", "mozzarella"]}

Example 2:
Query: "Pasta dishes without meatballs"
Output: {"positive": ["pasta dishes", "pasta", "spaghetti", "penne", "fettuccine"], "negative": ["meatballs", "meatball", "meat balls", "polpette"]}

Example 3:
Query: "Anything but seafood"
Output: {"positive": ["anything", "non-seafood", "meat and poultry", "vegetarian", "vegan"], "negative": ["seafood", "fish", "shellfish", "prawns", "crab"]}

Query: `)
	sb.WriteString(clause)
	return sb.String()
}

// stripFences removes a markdown code fence if the model wrapped its
// JSON in one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
