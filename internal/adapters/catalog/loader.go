// Package catalog provides catalog source adapters.
// Clean Architecture: Adapter implementing ports.CatalogSource.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/safebites/menuquery/internal/domain/entities"
)

// FileSource loads the refined menu export produced by the ingestion
// service. Ingestion itself is an external collaborator; this adapter
// only consumes its output file.
type FileSource struct {
	path string
}

// NewFileSource creates a catalog source reading from path.
func NewFileSource(path string) *FileSource {
	if path == "" {
		path = "./seed_data/dishes_refined.json"
	}
	return &FileSource{path: path}
}

// Path returns the catalog file path.
func (s *FileSource) Path() string {
	return s.path
}

// rawDish mirrors the export's JSON shape, which nests allergens under
// inferred_allergens and uses loosely typed nutrition values.
type rawDish struct {
	ID          string   `json:"_id"`
	ScopeID     string   `json:"restaurant_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Ingredients []string `json:"ingredients"`
	ServingSize string   `json:"serving_size"`
	Available   *bool    `json:"availability"`
	Allergens   []struct {
		Allergen string `json:"allergen"`
	} `json:"inferred_allergens"`
	Nutrition map[string]json.RawMessage `json:"nutrition_facts"`
}

// Load reads and normalizes all catalog items.
func (s *FileSource) Load(ctx context.Context) ([]entities.CatalogItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	var raw []rawDish
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding catalog file: %w", err)
	}

	items := make([]entities.CatalogItem, 0, len(raw))
	for i, d := range raw {
		if d.ID == "" {
			return nil, fmt.Errorf("catalog item %d has no id", i)
		}
		items = append(items, toItem(d))
	}
	return items, nil
}

func toItem(d rawDish) entities.CatalogItem {
	item := entities.CatalogItem{
		ID:          d.ID,
		ScopeID:     d.ScopeID,
		Name:        d.Name,
		Description: d.Description,
		Price:       d.Price,
		Ingredients: d.Ingredients,
		ServingSize: d.ServingSize,
		Available:   true,
	}
	if d.Available != nil {
		item.Available = *d.Available
	}
	for _, a := range d.Allergens {
		if a.Allergen != "" {
			item.Allergens = append(item.Allergens, a.Allergen)
		}
	}
	if len(d.Nutrition) > 0 {
		item.Nutrition = make(map[string]string, len(d.Nutrition))
		for k, v := range d.Nutrition {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				s = string(v) // numbers and objects keep their JSON form
			}
			item.Nutrition[k] = s
		}
	}
	return item
}
