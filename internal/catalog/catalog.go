// Package catalog holds the read-only recipe dataset shown to participants.
package catalog

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidRecipe is returned when a recipe lacks a name or category.
	ErrInvalidRecipe = errors.New("invalid recipe")
	// ErrEmptyCatalog is returned when a catalog source yields no recipes.
	ErrEmptyCatalog = errors.New("catalog is empty")
)

// Recipe is one immutable catalog entry. Nutrition values are optional; a
// missing value is absent from the map.
type Recipe struct {
	ID           int                `json:"id"`
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	Ingredients  []string           `json:"ingredients,omitempty"`
	Instructions []string           `json:"instructions,omitempty"`
	Nutrition    map[string]float64 `json:"nutrition,omitempty"`
	Category     string             `json:"category"`
}

// Nutrient returns the named nutritional value and whether it is present.
func (r Recipe) Nutrient(name string) (float64, bool) {
	if r.Nutrition == nil {
		return 0, false
	}
	v, ok := r.Nutrition[name]
	return v, ok
}

// CompareNutrient orders two recipes by a nutrient. Missing values sort before
// present ones; two missing values compare equal.
func CompareNutrient(a, b Recipe, name string) int {
	av, aok := a.Nutrient(name)
	bv, bok := b.Nutrient(name)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	case av < bv:
		return -1
	case av > bv:
		return 1
	}
	return 0
}

// Catalog indexes recipes by ID and category. It is safe for concurrent reads
// and never changes after New returns.
type Catalog struct {
	recipes    []Recipe
	byID       map[int]int
	byCategory map[string][]int
	categories []string
}

// New validates and indexes recipes. The slice is copied.
func New(recipes []Recipe) (*Catalog, error) {
	if len(recipes) == 0 {
		return nil, ErrEmptyCatalog
	}
	c := &Catalog{
		recipes:    make([]Recipe, len(recipes)),
		byID:       make(map[int]int, len(recipes)),
		byCategory: map[string][]int{},
	}
	copy(c.recipes, recipes)
	for i, r := range c.recipes {
		if r.Name == "" {
			return nil, fmt.Errorf("%w: recipe %d has no name", ErrInvalidRecipe, r.ID)
		}
		if r.Category == "" {
			return nil, fmt.Errorf("%w: recipe %d (%s) has no category", ErrInvalidRecipe, r.ID, r.Name)
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate recipe id %d", ErrInvalidRecipe, r.ID)
		}
		c.byID[r.ID] = i
		if _, seen := c.byCategory[r.Category]; !seen {
			c.categories = append(c.categories, r.Category)
		}
		c.byCategory[r.Category] = append(c.byCategory[r.Category], i)
	}
	sort.Strings(c.categories)
	return c, nil
}

// Len reports the number of recipes.
func (c *Catalog) Len() int { return len(c.recipes) }

// Recipes returns a copy of all recipes in source order.
func (c *Catalog) Recipes() []Recipe {
	return append([]Recipe(nil), c.recipes...)
}

// Get looks a recipe up by ID.
func (c *Catalog) Get(id int) (Recipe, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Recipe{}, false
	}
	return c.recipes[i], true
}

// Categories returns the distinct category labels, sorted.
func (c *Catalog) Categories() []string {
	return append([]string(nil), c.categories...)
}

// ByCategory returns the recipes of one category in source order.
func (c *Catalog) ByCategory(category string) []Recipe {
	idx := c.byCategory[category]
	out := make([]Recipe, 0, len(idx))
	for _, i := range idx {
		out = append(out, c.recipes[i])
	}
	return out
}
