package intent

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/safebites/menuquery/internal/domain/entities"
	"github.com/safebites/menuquery/internal/domain/ports"
)

// Classifier implements ports.Classifier with a language model. It
// both decomposes a query into self-contained clauses and assigns each
// clause to a category.
type Classifier struct {
	llm    ports.LanguageModel
	logger *zap.Logger
}

// NewClassifier creates a Classifier.
func NewClassifier(llm ports.LanguageModel, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{llm: llm, logger: logger}
}

// Classify splits the query into clauses bucketed by category. On
// unparseable output the whole query lands in the irrelevant bucket
// rather than raising. Self-preference clauses take precedence over the
// model's assignment so they are never mis-routed to item_detail.
func (c *Classifier) Classify(ctx context.Context, query string, turns []entities.Turn) (entities.QueryParts, error) {
	// Precedence check first: a query about the user's own stored
	// attributes bypasses generic classification entirely.
	if IsSelfPreference(query) {
		return entities.QueryParts{entities.CategorySelfPreference: {query}}, nil
	}

	rejected := entities.QueryParts{entities.CategoryIrrelevant: {query}}

	resp, err := c.llm.Complete(ctx, classificationPrompt(query))
	if err != nil {
		return nil, err
	}

	var parsed map[string][]string
	if err := json.Unmarshal([]byte(stripFences(resp)), &parsed); err != nil {
		c.logger.Warn("unparseable classifier output, rejecting query",
			zap.String("query", query), zap.Error(err))
		return rejected, nil
	}

	parts := entities.QueryParts{}
	for rawCat, clauses := range parsed {
		cat := entities.Category(rawCat)
		if !cat.Valid() {
			c.logger.Warn("classifier produced unknown category", zap.String("category", rawCat))
			continue
		}
		for _, clause := range clauses {
			clause = strings.TrimSpace(clause)
			if clause == "" {
				continue
			}
			// Precedence rule: self-referential clauses always win.
			if cat != entities.CategorySelfPreference && IsSelfPreference(clause) {
				parts[entities.CategorySelfPreference] = append(parts[entities.CategorySelfPreference], clause)
				continue
			}
			parts[cat] = append(parts[cat], clause)
		}
	}

	if len(parts) == 0 {
		return rejected, nil
	}
	return parts, nil
}

// selfPreferenceMarkers are literal phrasings of questions about the
// user's own stored attributes. Matching is deliberately literal: the
// resolver must not rewrite these, and the classifier must not let the
// model re-bucket them.
var selfPreferenceMarkers = []string{
	"am i allergic",
	"what am i allergic",
	"my allergies",
	"my allergens",
	"my preferences",
	"my preference",
	"my account",
	"my profile",
	"my dietary",
}

// IsSelfPreference reports whether the clause asks about the user's own
// stored attributes.
func IsSelfPreference(clause string) bool {
	lower := strings.ToLower(clause)
	for _, m := range selfPreferenceMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func classificationPrompt(query string) string {
	var sb strings.Builder
	sb.WriteString(`You are an expert at splitting complex food-related user queries into independent, actionable components.

Take the user query and produce a JSON object with four keys:

1. "item_search" -> a list of self-contained queries that ask for dishes, meals, or items.
2. "item_detail" -> a list of self-contained queries that ask for information about dishes (ingredients, calories, allergens, price, etc.)
3. "self_preference" -> a list of queries about the user's OWN preferences, allergens, or account information.
4. "irrelevant" -> a list of queries or parts unrelated to food or restaurant services.

Important rules:
- Each query part must be self-contained: if a part depends on previous results, include that dependency explicitly.
- Preserve order of dependency: parts that must be processed sequentially should include phrases like "from the dishes above".
- Split all queries clearly and avoid ambiguity.
- Respond only in valid JSON, nothing else.

Example 1:

User Query: "Provide me a list of five chocolate dishes less than $20. Also, are there any dishes less than $5? If yes, how much calories does each one of them contain?"

Output:
{"item_search": ["List five chocolate dishes under $20", "List dishes under $5"], "item_detail": ["Provide the calories of the dishes under $5"], "self_preference": [], "irrelevant": []}

Example 2:

User Query: "What am I allergic to? Also show me desserts."

Output:
{"item_search": ["Show me desserts"], "item_detail": [], "self_preference": ["What am I allergic to?"], "irrelevant": []}

Example 3:

User Query: "I want a chocolate cake. By the way, tell me a joke."

Output:
{"item_search": ["List chocolate cakes"], "item_detail": [], "self_preference": [], "irrelevant": ["Tell me a joke"]}

Now analyze this user query and split it into independent parts:

`)
	sb.WriteString(query)
	return sb.String()
}
