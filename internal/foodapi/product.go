package foodapi

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/spf13/cast"
)

// PageSize is the number of products requested per page; a shorter page
// means the listing is exhausted.
const PageSize = 24

// Product is the subset of an Open Food Facts record the pantry reads. The
// upstream record is passed through as-is; absent fields stay zero.
type Product struct {
	Code               string     `json:"code" validate:"required"`
	Name               string     `json:"product_name,omitempty"`
	Brands             string     `json:"brands,omitempty"`
	ImageURL           string     `json:"image_url,omitempty"`
	ImageSmallURL      string     `json:"image_small_url,omitempty"`
	ImageFrontSmallURL string     `json:"image_front_small_url,omitempty"`
	NutritionGrade     string     `json:"nutrition_grades,omitempty"`
	CategoryTags       []string   `json:"categories_tags,omitempty"`
	Nutriments         Nutriments `json:"nutriments,omitempty"`
	IngredientsText    string     `json:"ingredients_text,omitempty"`
	IngredientsCount   Count      `json:"ingredients_n,omitempty"`
}

// Grade returns the lowercase Nutri-Score letter, or "unknown".
func (p Product) Grade() string {
	g := strings.ToLower(strings.TrimSpace(p.NutritionGrade))
	if g == "" {
		return "unknown"
	}
	return g
}

// PrimaryBrand returns the first brand of the comma separated list.
func (p Product) PrimaryBrand() string {
	first, _, _ := strings.Cut(p.Brands, ",")
	if first = strings.TrimSpace(first); first != "" {
		return first
	}
	return "Generic"
}

// Thumbnail picks the smallest image available.
func (p Product) Thumbnail() string {
	for _, u := range []string{p.ImageFrontSmallURL, p.ImageSmallURL, p.ImageURL} {
		if u != "" {
			return u
		}
	}
	return ""
}

// Nutrient returns the value for key (e.g. "fat_100g"), 0 when absent.
func (p Product) Nutrient(key string) float64 {
	return p.Nutriments[key]
}

// Nutriments maps nutrient keys to numeric values. Upstream mixes numbers,
// numeric strings and unit strings in the same object; only values that
// coerce to a number are kept.
type Nutriments map[string]float64

func (n *Nutriments) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		// arrays, strings and other shapes mean "no data", not a failure
		*n = nil
		return nil
	}

	out := make(Nutriments, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case nil, bool:
			continue
		}
		f, err := cast.ToFloat64E(v)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			// "NaN" and "Infinity" strings coerce but cannot be re-encoded
			continue
		}
		out[k] = f
	}
	*n = out
	return nil
}

// Count is an integer that upstream sometimes sends as a string.
type Count int

func (c *Count) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		*c = 0
		return nil
	}
	i, err := cast.ToIntE(raw)
	if err != nil {
		*c = 0
		return nil
	}
	*c = Count(i)
	return nil
}

type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Products Count  `json:"products,omitempty"`
}

type pageResponse struct {
	Products []Product `json:"products"`
}

type productResponse struct {
	Status  Count    `json:"status"`
	Product *Product `json:"product"`
}

type categoriesResponse struct {
	Tags []Category `json:"tags"`
}
