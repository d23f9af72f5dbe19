package catalog

import (
	"errors"
	"strings"
	"testing"
)

const sampleCSV = `Recipe Name;Category;Description;Ingredients;Instructions;Calories;Protein (g)
Lentil Soup;Soup;Warm and hearty;lentils|onion|stock;simmer|blend;320;18
Green Salad;Salad;Crisp;lettuce|cucumber;toss;;3
Banana Bread;Baking;Sweet loaf;banana|flour;mix|bake;n/a;6
`

func TestLoadCSV(t *testing.T) {
	cat, err := LoadCSV(strings.NewReader(sampleCSV), LoadOptions{})
	if err != nil {
		t.Fatalf("LoadCSV error: %v", err)
	}
	if cat.Len() != 3 {
		t.Fatalf("len = %d, want 3", cat.Len())
	}
	if got := strings.Join(cat.Categories(), ","); got != "Baking,Salad,Soup" {
		t.Fatalf("categories = %s", got)
	}
	soup, ok := cat.Get(0)
	if !ok || soup.Name != "Lentil Soup" {
		t.Fatalf("recipe 0 = %+v", soup)
	}
	if len(soup.Ingredients) != 3 || soup.Instructions[1] != "blend" {
		t.Fatalf("lists not split: %+v", soup)
	}
	if v, ok := soup.Nutrient("Calories"); !ok || v != 320 {
		t.Fatalf("calories = %v %v", v, ok)
	}
	salad, _ := cat.Get(1)
	if _, ok := salad.Nutrient("Calories"); ok {
		t.Fatalf("blank calories should be missing")
	}
	bread, _ := cat.Get(2)
	if _, ok := bread.Nutrient("Calories"); ok {
		t.Fatalf("unparsable calories should be missing")
	}
}

func TestLoadCSVByteOrderMark(t *testing.T) {
	cat, err := LoadCSV(strings.NewReader("\uFEFF"+sampleCSV), LoadOptions{})
	if err != nil {
		t.Fatalf("LoadCSV with BOM: %v", err)
	}
	if r, ok := cat.Get(0); !ok || r.Name != "Lentil Soup" {
		t.Fatalf("recipe 0 = %+v", r)
	}
}

func TestLoadCSVMissingColumns(t *testing.T) {
	if _, err := LoadCSV(strings.NewReader("Name;Category\nx;y\n"), LoadOptions{}); err == nil {
		t.Fatalf("expected error for missing Recipe Name column")
	}
	if _, err := LoadCSV(strings.NewReader(""), LoadOptions{}); !errors.Is(err, ErrEmptyCatalog) {
		t.Fatalf("expected ErrEmptyCatalog, got %v", err)
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	if _, err := New([]Recipe{{ID: 1, Name: "x"}}); !errors.Is(err, ErrInvalidRecipe) {
		t.Fatalf("expected ErrInvalidRecipe for empty category, got %v", err)
	}
	if _, err := New([]Recipe{{ID: 1, Name: "x", Category: "a"}, {ID: 1, Name: "y", Category: "b"}}); !errors.Is(err, ErrInvalidRecipe) {
		t.Fatalf("expected ErrInvalidRecipe for duplicate id, got %v", err)
	}
}

func TestDuplicateNamesAcrossCategories(t *testing.T) {
	cat, err := New([]Recipe{
		{ID: 0, Name: "Chili", Category: "Soup"},
		{ID: 1, Name: "Chili", Category: "Main"},
	})
	if err != nil {
		t.Fatalf("duplicate names should be accepted: %v", err)
	}
	if len(cat.ByCategory("Soup")) != 1 || len(cat.ByCategory("Main")) != 1 {
		t.Fatalf("category index wrong")
	}
}

func TestCompareNutrient(t *testing.T) {
	a := Recipe{Nutrition: map[string]float64{"Fat": 2}}
	b := Recipe{Nutrition: map[string]float64{"Fat": 5}}
	none := Recipe{}
	cases := []struct {
		x, y Recipe
		want int
	}{
		{a, b, -1},
		{b, a, 1},
		{a, a, 0},
		{none, a, -1},
		{a, none, 1},
		{none, none, 0},
	}
	for i, c := range cases {
		if got := CompareNutrient(c.x, c.y, "Fat"); got != c.want {
			t.Fatalf("case %d: got %d want %d", i, got, c.want)
		}
	}
}
