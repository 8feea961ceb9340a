// Package deduction aggregates itemized deduction lines into per-category
// totals, a grand total and over-cap warnings. Every function here is pure:
// the summary is recomputed from the full entry list on each call.
package deduction

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Entry struct {
	Category string `json:"category" yaml:"category"`
	Label    string `json:"label,omitempty" yaml:"label,omitempty"`
	Amount   string `json:"amount" yaml:"amount"`
}

// Caps maps a category to its limit. Categories without a cap are unlimited.
type Caps map[string]decimal.Decimal

type CategoryTotal struct {
	Category  string           `json:"category"`
	Total     decimal.Decimal  `json:"total"`
	Cap       *decimal.Decimal `json:"cap,omitempty"`
	OverLimit bool             `json:"over_limit"`
}

type Summary struct {
	Categories          []CategoryTotal            `json:"categories"`
	TotalsByCategory    map[string]decimal.Decimal `json:"totals_by_category"`
	GrandTotal          decimal.Decimal            `json:"grand_total"`
	OverLimitCategories []string                   `json:"over_limit_categories"`
	InvalidEntries      []int                      `json:"invalid_entries"`
}

// ParseAmount accepts a non-negative decimal string. Anything else yields
// zero with ok=false so callers can tell malformed input from a real zero.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	return d, true
}

func ComputeSummary(entries []Entry, caps Caps) Summary {
	out := Summary{
		Categories:          make([]CategoryTotal, 0),
		TotalsByCategory:    make(map[string]decimal.Decimal),
		GrandTotal:          decimal.Zero,
		OverLimitCategories: make([]string, 0),
		InvalidEntries:      make([]int, 0),
	}

	pos := make(map[string]int)
	for i, e := range entries {
		amount, ok := ParseAmount(e.Amount)
		if !ok {
			out.InvalidEntries = append(out.InvalidEntries, i)
		}

		cat := strings.TrimSpace(e.Category)
		j, seen := pos[cat]
		if !seen {
			j = len(out.Categories)
			pos[cat] = j
			out.Categories = append(out.Categories, CategoryTotal{Category: cat, Total: decimal.Zero})
		}
		out.Categories[j].Total = out.Categories[j].Total.Add(amount)
	}

	for i := range out.Categories {
		ct := &out.Categories[i]
		if limit, ok := caps[ct.Category]; ok {
			l := limit
			ct.Cap = &l
			ct.OverLimit = ct.Total.GreaterThan(limit)
		}
		if ct.OverLimit {
			out.OverLimitCategories = append(out.OverLimitCategories, ct.Category)
		}
		out.TotalsByCategory[ct.Category] = ct.Total
		out.GrandTotal = out.GrandTotal.Add(ct.Total)
	}
	return out
}

func (s Summary) IsOverLimit(category string) bool {
	for _, c := range s.OverLimitCategories {
		if c == category {
			return true
		}
	}
	return false
}

// CappedTotal is the grand total with each category limited to its cap. It
// is what a tax computation may claim; GrandTotal stays unclamped.
func (s Summary) CappedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, c := range s.Categories {
		v := c.Total
		if c.Cap != nil && v.GreaterThan(*c.Cap) {
			v = *c.Cap
		}
		total = total.Add(v)
	}
	return total
}
