package deduction

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
	half    = decimal.New(5, -1)
)

type Metrics struct {
	PercentOfBase   decimal.Decimal `json:"percent_of_base"`
	EstimatedImpact decimal.Decimal `json:"estimated_impact"`
	MonthlyImpact   decimal.Decimal `json:"monthly_impact"`
}

// RoundMoney rounds half-up at the given number of decimal places.
func RoundMoney(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Shift(places).Add(half).Floor().Shift(-places)
}

func EstimateImpact(total decimal.Decimal, rate float64) (decimal.Decimal, error) {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return decimal.Zero, errors.New("deduction: rate must be finite")
	}
	if total.IsNegative() {
		return decimal.Zero, errors.New("deduction: total must be non-negative")
	}
	return RoundMoney(total.Mul(decimal.NewFromFloat(rate)), 0), nil
}

// PercentageDelta is defined as zero when the old value is zero.
func PercentageDelta(oldValue, newValue decimal.Decimal) decimal.Decimal {
	if oldValue.IsZero() {
		return decimal.Zero
	}
	return newValue.Sub(oldValue).Div(oldValue).Mul(hundred)
}

func PercentOfBase(total, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return total.Div(base).Mul(hundred)
}

func ComputeMetrics(s Summary, rate float64, base decimal.Decimal) (Metrics, error) {
	impact, err := EstimateImpact(s.GrandTotal, rate)
	if err != nil {
		return Metrics{}, err
	}
	return Metrics{
		PercentOfBase:   RoundMoney(PercentOfBase(s.GrandTotal, base), 2),
		EstimatedImpact: impact,
		MonthlyImpact:   RoundMoney(impact.Div(twelve), 0),
	}, nil
}
