package catalog

import (
	"strconv"

	"Pantry/internal/foodapi"
)

// RadarFullMark is the outer ring of the radar chart, in grams per 100g.
const RadarFullMark = 100

type RadarPoint struct {
	Subject  string  `json:"subject"`
	Value    float64 `json:"value"`
	FullMark float64 `json:"full_mark"`
}

type nutrient struct {
	label string
	key   string
	unit  string
}

var radarAxes = []nutrient{
	{label: "Fat", key: "fat_100g"},
	{label: "Saturated Fat", key: "saturated-fat_100g"},
	{label: "Sugars", key: "sugars_100g"},
	{label: "Salt", key: "salt_100g"},
	{label: "Proteins", key: "proteins_100g"},
	{label: "Carbs", key: "carbohydrates_100g"},
}

// Radar returns the six macro axes of p; absent nutrients plot as 0.
func Radar(p foodapi.Product) []RadarPoint {
	out := make([]RadarPoint, 0, len(radarAxes))
	for _, a := range radarAxes {
		out = append(out, RadarPoint{Subject: a.label, Value: p.Nutrient(a.key), FullMark: RadarFullMark})
	}
	return out
}

type Highlight struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

var highlightTiles = []nutrient{
	{label: "Energy", key: "energy-kcal_100g", unit: "kcal"},
	{label: "Fat", key: "fat_100g", unit: "g"},
	{label: "Sugar", key: "sugars_100g", unit: "g"},
	{label: "Protein", key: "proteins_100g", unit: "g"},
}

func Highlights(p foodapi.Product) []Highlight {
	out := make([]Highlight, 0, len(highlightTiles))
	for _, h := range highlightTiles {
		out = append(out, Highlight{Label: h.label, Value: p.Nutrient(h.key), Unit: h.unit})
	}
	return out
}

type CompareColumn struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// CompareRow holds one attribute across every compared product. A value is
// empty when the product lacks that attribute.
type CompareRow struct {
	Label  string   `json:"label"`
	Values []string `json:"values"`
}

type CompareTable struct {
	Columns    []CompareColumn `json:"columns"`
	Rows       []CompareRow    `json:"rows"`
	EmptySlots int             `json:"empty_slots"`
}

var compareRows = []nutrient{
	{label: "Energy", key: "energy-kcal_100g", unit: "kcal"},
	{label: "Fat", key: "fat_100g", unit: "g"},
	{label: "Carbs", key: "carbohydrates_100g", unit: "g"},
	{label: "Sugars", key: "sugars_100g", unit: "g"},
	{label: "Proteins", key: "proteins_100g", unit: "g"},
	{label: "Salt", key: "salt_100g", unit: "g"},
}

// BuildCompareTable lays products out side by side for capacity slots.
func BuildCompareTable(products []foodapi.Product, capacity int) CompareTable {
	t := CompareTable{
		Columns:    make([]CompareColumn, 0, len(products)),
		Rows:       make([]CompareRow, 0, len(compareRows)+1),
		EmptySlots: max(capacity-len(products), 0),
	}

	grades := CompareRow{Label: "Grade", Values: make([]string, 0, len(products))}
	for _, p := range products {
		t.Columns = append(t.Columns, CompareColumn{Code: p.Code, Name: p.Name, Image: p.Thumbnail()})

		g := p.NutritionGrade
		if g == "" {
			g = "?"
		}
		grades.Values = append(grades.Values, g)
	}
	t.Rows = append(t.Rows, grades)

	for _, n := range compareRows {
		row := CompareRow{Label: n.label, Values: make([]string, 0, len(products))}
		for _, p := range products {
			row.Values = append(row.Values, formatNutrient(p, n))
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func formatNutrient(p foodapi.Product, n nutrient) string {
	v, ok := p.Nutriments[n.key]
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + n.unit
}

// TopCategories returns at most n categories in upstream order.
func TopCategories(cats []foodapi.Category, n int) []foodapi.Category {
	if n < 0 {
		n = 0
	}
	if len(cats) > n {
		cats = cats[:n]
	}
	out := make([]foodapi.Category, len(cats))
	copy(out, cats)
	return out
}
