// Package entities contains core business entities.
// These are the enterprise business rules - pure domain objects with no external dependencies.
package entities

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Category classifies one clause of a user query. The set is closed:
// every clause lands in exactly one of these buckets.
type Category string

const (
	CategoryItemSearch     Category = "item_search"
	CategoryItemDetail     Category = "item_detail"
	CategorySelfPreference Category = "self_preference"
	CategoryIrrelevant     Category = "irrelevant"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryItemSearch, CategoryItemDetail, CategorySelfPreference, CategoryIrrelevant:
		return true
	}
	return false
}

// Query is one incoming question. Immutable once received.
type Query struct {
	Raw       string
	SessionID string
	ScopeID   string // catalog partition, e.g. one restaurant
	UserID    string
}

// Turn is one completed exchange in a conversation, kept so later
// queries can be resolved against what came before.
type Turn struct {
	Query     string
	Category  Category
	Summary   string // short description of what was returned
	Timestamp time.Time
}

// SessionFacts are out-of-band facts attached to a session, such as the
// user's standing allergen list. They ride along with the turn history.
type SessionFacts struct {
	UserAllergens []string
}

// IntentSet holds the expanded inclusion and exclusion terms for one
// clause. Positive terms are broadened for recall; negative terms stay
// narrow so exclusion does not over-filter. Derived per request, never
// persisted.
type IntentSet struct {
	Positive []string
	Negative []string
}

// CatalogItem is one menu item with everything needed to embed it.
type CatalogItem struct {
	ID          string            `json:"_id"`
	ScopeID     string            `json:"restaurant_id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Price       float64           `json:"price"`
	Ingredients []string          `json:"ingredients"`
	ServingSize string            `json:"serving_size"`
	Available   bool              `json:"availability"`
	Allergens   []string          `json:"allergens"`
	Nutrition   map[string]string `json:"nutrition_facts"`
}

// CanonicalText renders the item as the text that gets embedded. The
// index and the catalog must agree on this representation, so it lives
// on the entity rather than in an adapter.
func (it CatalogItem) CanonicalText() string {
	var sb strings.Builder
	sb.WriteString("Dish Name: " + it.Name + "\n")
	sb.WriteString("Description: " + it.Description + "\n")
	fmt.Fprintf(&sb, "Price: %.2f\n", it.Price)
	sb.WriteString("Ingredients: " + strings.Join(it.Ingredients, ", ") + "\n")
	sb.WriteString("Serving Size: " + it.ServingSize + "\n")
	fmt.Fprintf(&sb, "Availability: %t\n", it.Available)
	sb.WriteString("Allergens: " + strings.Join(it.Allergens, ", ") + "\n")
	if len(it.Nutrition) > 0 {
		keys := make([]string, 0, len(it.Nutrition))
		for k := range it.Nutrition {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("Nutrition:")
		for _, k := range keys {
			sb.WriteString(" " + k + "=" + it.Nutrition[k])
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Hit is a single index query result before filtering.
type Hit struct {
	Item      CatalogItem
	Score     float64
	Embedding []float32
}

// RankedHit is a hit that survived negative filtering and centroid
// refinement. CentroidSimilarity is the final ordering key; the raw
// per-term score is kept only for display.
type RankedHit struct {
	Hit
	CentroidSimilarity float64
}

// QueryParts maps each category to the ordered clauses assigned to it.
// Produced by the classifier, consumed by the dispatcher, discarded
// after one pipeline invocation.
type QueryParts map[Category][]string

// ClauseResult is the outcome of one category handler for one clause.
type ClauseResult struct {
	Clause   string
	Category Category
	Items    []RankedHit
	Answer   string
	Err      error
}

// Pipeline status values returned at the API boundary.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
)

// ChatResult is the merged output of one pipeline invocation.
type ChatResult struct {
	SessionID     string
	ScopeID       string
	OriginalQuery string
	Results       []ClauseResult
	Answer        string // synthesized best-effort text
	Status        string
}
