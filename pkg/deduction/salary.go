package deduction

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type ComponentKind string

const (
	ComponentEarning   ComponentKind = "earning"
	ComponentDeduction ComponentKind = "deduction"
)

// Component is one line of a salary structure, expressed as a percentage
// of the base (CTC) amount.
type Component struct {
	Type       string        `json:"type" yaml:"type"`
	Name       string        `json:"name" yaml:"name"`
	Kind       ComponentKind `json:"kind" yaml:"kind"`
	Percentage string        `json:"percentage" yaml:"percentage"`
}

type ComponentAmount struct {
	Component
	Amount decimal.Decimal `json:"amount"`
}

type StructureBreakdown struct {
	Base            decimal.Decimal   `json:"base"`
	Lines           []ComponentAmount `json:"lines"`
	TotalEarnings   decimal.Decimal   `json:"total_earnings"`
	TotalDeductions decimal.Decimal   `json:"total_deductions"`
	Net             decimal.Decimal   `json:"net"`
}

func Breakdown(base decimal.Decimal, components []Component, places int32) (StructureBreakdown, error) {
	if base.IsNegative() {
		return StructureBreakdown{}, fmt.Errorf("salary: base must be non-negative")
	}
	if len(components) == 0 {
		return StructureBreakdown{}, fmt.Errorf("salary: at least one component is required")
	}

	out := StructureBreakdown{
		Base:            base,
		Lines:           make([]ComponentAmount, 0, len(components)),
		TotalEarnings:   decimal.Zero,
		TotalDeductions: decimal.Zero,
	}
	earningPct := decimal.Zero
	for i, c := range components {
		if len(strings.TrimSpace(c.Name)) < 2 {
			return StructureBreakdown{}, fmt.Errorf("salary: component %d name required", i)
		}
		pct, ok := ParseAmount(c.Percentage)
		if !ok || pct.GreaterThan(hundred) {
			return StructureBreakdown{}, fmt.Errorf("salary: component %q percentage must be between 0 and 100", c.Name)
		}
		amount := RoundMoney(base.Mul(pct).Div(hundred), places)

		switch c.Kind {
		case ComponentEarning, "":
			c.Kind = ComponentEarning
			earningPct = earningPct.Add(pct)
			out.TotalEarnings = out.TotalEarnings.Add(amount)
		case ComponentDeduction:
			out.TotalDeductions = out.TotalDeductions.Add(amount)
		default:
			return StructureBreakdown{}, fmt.Errorf("salary: component %q has unknown kind %q", c.Name, c.Kind)
		}
		out.Lines = append(out.Lines, ComponentAmount{Component: c, Amount: amount})
	}
	if earningPct.GreaterThan(hundred) {
		return StructureBreakdown{}, fmt.Errorf("salary: earning components exceed 100%% (%s%%)", earningPct.String())
	}
	out.Net = out.TotalEarnings.Sub(out.TotalDeductions)
	return out, nil
}
