package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	colName         = "Recipe Name"
	colCategory     = "Category"
	colDescription  = "Description"
	colIngredients  = "Ingredients"
	colInstructions = "Instructions"
)

// LoadOptions controls how a recipe dataset is parsed.
type LoadOptions struct {
	// Delimiter separates fields. The survey dataset uses ';'.
	Delimiter rune
}

func (o LoadOptions) delimiter() rune {
	if o.Delimiter == 0 {
		return ';'
	}
	return o.Delimiter
}

// LoadFile opens path and parses it with LoadCSV.
func LoadFile(path string, opts LoadOptions) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return LoadCSV(f, opts)
}

// LoadCSV parses a delimited recipe table. The row index (zero-based, header
// excluded) becomes the recipe ID. Columns other than the named text columns
// are treated as nutrients; blank or non-numeric cells are left missing.
func LoadCSV(r io.Reader, opts LoadOptions) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.Comma = opts.delimiter()
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyCatalog
		}
		return nil, fmt.Errorf("read catalog header: %w", err)
	}
	index := map[string]int{}
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))] = i
	}
	if _, ok := index[colName]; !ok {
		return nil, fmt.Errorf("catalog header missing %q column", colName)
	}
	if _, ok := index[colCategory]; !ok {
		return nil, fmt.Errorf("catalog header missing %q column", colCategory)
	}

	var recipes []Recipe
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read catalog row %d: %w", row, err)
		}
		cell := func(name string) string {
			i, ok := index[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		r := Recipe{
			ID:           row,
			Name:         cell(colName),
			Category:     cell(colCategory),
			Description:  cell(colDescription),
			Ingredients:  splitList(cell(colIngredients)),
			Instructions: splitList(cell(colInstructions)),
		}
		for name, i := range index {
			if isTextColumn(name) || i >= len(rec) {
				continue
			}
			if v, ok := parseNumber(rec[i]); ok {
				if r.Nutrition == nil {
					r.Nutrition = map[string]float64{}
				}
				r.Nutrition[name] = v
			}
		}
		recipes = append(recipes, r)
	}
	return New(recipes)
}

func isTextColumn(name string) bool {
	switch name {
	case colName, colCategory, colDescription, colIngredients, colInstructions, "":
		return true
	}
	return false
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	sep := "\n"
	if !strings.Contains(s, "\n") && strings.Contains(s, "|") {
		sep = "|"
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
