package tds

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	StandardDeduction = decimal.NewFromInt(50_000)

	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

type Regime string

const (
	RegimeOld Regime = "old"
	RegimeNew Regime = "new"
)

// AnnualInput carries whole-year figures. ClaimedDeductions must already be
// limited to each section's cap.
type AnnualInput struct {
	Regime            Regime
	GrossSalary       decimal.Decimal
	ClaimedDeductions decimal.Decimal
	Exemptions        decimal.Decimal
	TDSDeducted       decimal.Decimal
}

type AnnualResult struct {
	Regime          Regime          `json:"regime"`
	GrossSalary     decimal.Decimal `json:"gross_salary"`
	TotalDeductions decimal.Decimal `json:"total_deductions"`
	TaxableIncome   decimal.Decimal `json:"taxable_income"`
	TotalTax        decimal.Decimal `json:"total_tax"`
	TDSDeducted     decimal.Decimal `json:"tds_deducted"`
	TaxPayable      decimal.Decimal `json:"tax_payable"`
	MarginalRate    int64           `json:"marginal_rate_percent"`
}

func ComputeAnnual(in AnnualInput) (AnnualResult, error) {
	if in.GrossSalary.IsNegative() ||
		in.ClaimedDeductions.IsNegative() ||
		in.Exemptions.IsNegative() ||
		in.TDSDeducted.IsNegative() {
		return AnnualResult{}, fmt.Errorf("all inputs must be non-negative")
	}

	regime := in.Regime
	if regime == "" {
		regime = RegimeOld
	}

	deductions := StandardDeduction
	switch regime {
	case RegimeOld:
		deductions = deductions.Add(in.ClaimedDeductions).Add(in.Exemptions)
	case RegimeNew:
		// Chapter VI-A deductions and HRA are not available under the new regime.
	default:
		return AnnualResult{}, fmt.Errorf("unknown regime: %q", regime)
	}

	taxable := max0(in.GrossSalary.Sub(deductions))
	tax, rate := slabTax(regime, taxable)
	tax = roundHalfUp(tax)

	return AnnualResult{
		Regime:          regime,
		GrossSalary:     in.GrossSalary,
		TotalDeductions: deductions,
		TaxableIncome:   taxable,
		TotalTax:        tax,
		TDSDeducted:     in.TDSDeducted,
		TaxPayable:      tax.Sub(in.TDSDeducted),
		MarginalRate:    rate,
	}, nil
}

type slab struct {
	upTo    int64 // 0 means unbounded
	percent int64
}

var oldRegimeSlabs = []slab{
	{upTo: 250_000, percent: 0},
	{upTo: 500_000, percent: 5},
	{upTo: 1_000_000, percent: 20},
	{upTo: 0, percent: 30},
}

var newRegimeSlabs = []slab{
	{upTo: 300_000, percent: 0},
	{upTo: 700_000, percent: 5},
	{upTo: 1_000_000, percent: 10},
	{upTo: 1_200_000, percent: 15},
	{upTo: 1_500_000, percent: 20},
	{upTo: 0, percent: 30},
}

func slabTax(regime Regime, taxable decimal.Decimal) (decimal.Decimal, int64) {
	slabs := oldRegimeSlabs
	if regime == RegimeNew {
		slabs = newRegimeSlabs
	}

	tax := decimal.Zero
	lower := decimal.Zero
	rate := int64(0)
	for _, s := range slabs {
		if !taxable.GreaterThan(lower) {
			break
		}
		upper := taxable
		if s.upTo > 0 {
			upper = decimal.Min(taxable, decimal.NewFromInt(s.upTo))
		}
		tax = tax.Add(upper.Sub(lower).Mul(decimal.NewFromInt(s.percent)).Div(hundred))
		rate = s.percent
		if s.upTo == 0 {
			break
		}
		lower = decimal.NewFromInt(s.upTo)
	}
	return tax, rate
}

// MonthlyTDS spreads the annual liability evenly and returns what should have
// been withheld after monthsElapsed months of the financial year.
func MonthlyTDS(totalTax decimal.Decimal, monthsElapsed int) (decimal.Decimal, error) {
	if totalTax.IsNegative() {
		return decimal.Zero, fmt.Errorf("totalTax must be non-negative")
	}
	if monthsElapsed < 0 || monthsElapsed > 12 {
		return decimal.Zero, fmt.Errorf("monthsElapsed out of range: %d", monthsElapsed)
	}
	return roundHalfUp(totalTax.Div(twelve).Mul(decimal.NewFromInt(int64(monthsElapsed)))), nil
}

func roundHalfUp(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		panic("roundHalfUp expects non-negative input")
	}
	return d.Round(0)
}

func max0(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
