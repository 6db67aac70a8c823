package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"Pantry/internal/foodapi"
)

type SortKey string

const (
	SortRelevance SortKey = "relevance"
	SortNameAsc   SortKey = "name_asc"
	SortNameDesc  SortKey = "name_desc"
	SortGrade     SortKey = "grade"
)

var ErrUnknownSortKey = errors.New("unknown sort key")

// missingGrade sorts products without a Nutri-Score after every letter.
const missingGrade = "z"

func ParseSortKey(s string) (SortKey, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "relevance", "popularity":
		return SortRelevance, nil
	case "name_asc":
		return SortNameAsc, nil
	case "name_desc":
		return SortNameDesc, nil
	case "grade", "grade_asc":
		return SortGrade, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSortKey, s)
}

// SortProducts returns a sorted copy of items. The sort is stable, so equal
// keys keep their fetched order; relevance is the fetched order itself.
func SortProducts(items []foodapi.Product, key SortKey) []foodapi.Product {
	out := slices.Clone(items)
	if out == nil {
		out = []foodapi.Product{}
	}

	switch key {
	case SortNameAsc, SortNameDesc:
		// collators keep internal buffers and must not be shared
		col := collate.New(language.English)
		sign := 1
		if key == SortNameDesc {
			sign = -1
		}
		slices.SortStableFunc(out, func(a, b foodapi.Product) int {
			return sign * col.CompareString(a.Name, b.Name)
		})

	case SortGrade:
		slices.SortStableFunc(out, func(a, b foodapi.Product) int {
			return strings.Compare(gradeKey(a), gradeKey(b))
		})
	}

	return out
}

func gradeKey(p foodapi.Product) string {
	g := strings.ToLower(strings.TrimSpace(p.NutritionGrade))
	if g == "" {
		return missingGrade
	}
	return g
}
