package tds

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSlabBoundaries(t *testing.T) {
	cases := []struct {
		name     string
		taxable  string
		wantTax  string
		wantRate int64
	}{
		{"zero", "0", "0", 0},
		{"<=250000", "250000", "0", 0},
		{">250000", "250001", "0.05", 5},
		{"<=500000", "500000", "12500", 5},
		{">500000", "500001", "12500.2", 20},
		{"<=1000000", "1000000", "112500", 20},
		{">1000000", "1000001", "112500.3", 30},
		{"1200000", "1200000", "172500", 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotTax, gotRate := slabTax(RegimeOld, dec(tc.taxable))
			if !gotTax.Equal(dec(tc.wantTax)) || gotRate != tc.wantRate {
				t.Fatalf("tax=%s rate=%d", gotTax, gotRate)
			}
		})
	}
}

func TestComputeAnnual_OldRegime(t *testing.T) {
	out, err := ComputeAnnual(AnnualInput{
		GrossSalary:       dec("1200000"),
		ClaimedDeductions: dec("150000"),
		TDSDeducted:       dec("50000"),
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if out.Regime != RegimeOld {
		t.Fatalf("regime=%q", out.Regime)
	}
	if !out.TotalDeductions.Equal(dec("200000")) || !out.TaxableIncome.Equal(dec("1000000")) {
		t.Fatalf("out=%+v", out)
	}
	if !out.TotalTax.Equal(dec("112500")) || !out.TaxPayable.Equal(dec("62500")) {
		t.Fatalf("tax=%s payable=%s", out.TotalTax, out.TaxPayable)
	}
	if out.MarginalRate != 20 {
		t.Fatalf("rate=%d", out.MarginalRate)
	}
}

func TestComputeAnnual_NewRegimeIgnoresDeductions(t *testing.T) {
	out, err := ComputeAnnual(AnnualInput{
		Regime:            RegimeNew,
		GrossSalary:       dec("750000"),
		ClaimedDeductions: dec("150000"),
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !out.TaxableIncome.Equal(dec("700000")) || !out.TotalTax.Equal(dec("20000")) {
		t.Fatalf("taxable=%s tax=%s", out.TaxableIncome, out.TotalTax)
	}
}

func TestComputeAnnual_DeductionsAboveGross(t *testing.T) {
	out, err := ComputeAnnual(AnnualInput{GrossSalary: dec("40000")})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !out.TaxableIncome.IsZero() || !out.TotalTax.IsZero() {
		t.Fatalf("out=%+v", out)
	}
}

func TestComputeAnnual_Rejects(t *testing.T) {
	if _, err := ComputeAnnual(AnnualInput{GrossSalary: dec("-1")}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := ComputeAnnual(AnnualInput{Regime: "flat", GrossSalary: dec("1")}); err == nil {
		t.Fatal("expected error")
	}
}

func TestMonthlyTDS(t *testing.T) {
	got, err := MonthlyTDS(dec("112500"), 3)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !got.Equal(dec("28125")) {
		t.Fatalf("got=%s", got)
	}

	got, _ = MonthlyTDS(dec("100"), 1)
	if !got.Equal(dec("8")) {
		t.Fatalf("got=%s", got)
	}

	if _, err := MonthlyTDS(dec("1"), 13); err == nil {
		t.Fatal("expected error")
	}
	if _, err := MonthlyTDS(dec("-1"), 1); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseFinancialYear(t *testing.T) {
	for _, in := range []string{"2024-25", "2024-2025", " 2024-25 "} {
		fy, err := ParseFinancialYear(in)
		if err != nil || fy != 2024 {
			t.Fatalf("in=%q fy=%d err=%v", in, fy, err)
		}
	}
	fy, err := ParseFinancialYear("1999-00")
	if err != nil || fy.String() != "1999-00" {
		t.Fatalf("fy=%v err=%v", fy, err)
	}
	for _, in := range []string{"", "2024", "2024-26", "24-25", "2024-202", "abcd-ef"} {
		if _, err := ParseFinancialYear(in); err == nil {
			t.Fatalf("in=%q expected error", in)
		}
	}
}

func TestFinancialYear_Calendar(t *testing.T) {
	fy := FinancialYear(2024)
	if fy.String() != "2024-25" || fy.AssessmentYear().String() != "2025-26" {
		t.Fatalf("fy=%s ay=%s", fy, fy.AssessmentYear())
	}
	if got := CurrentFinancialYear(time.Date(2025, 3, 31, 23, 0, 0, 0, time.UTC)); got != 2024 {
		t.Fatalf("got=%d", got)
	}
	if got := CurrentFinancialYear(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)); got != 2025 {
		t.Fatalf("got=%d", got)
	}
}

func TestMonthsElapsed(t *testing.T) {
	fy := FinancialYear(2024)
	cases := []struct {
		now  time.Time
		want int
	}{
		{time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), 0},
		{time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), 1},
		{time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), 3},
		{time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), 12},
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 12},
	}
	for _, tc := range cases {
		if got := MonthsElapsed(fy, tc.now); got != tc.want {
			t.Fatalf("now=%s got=%d want=%d", tc.now, got, tc.want)
		}
	}
}

func TestDeclarationWindow(t *testing.T) {
	w := DeclarationWindow(2024, time.UTC)
	cases := []struct {
		now      time.Time
		open     bool
		daysLeft int
	}{
		{time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC), false, 334},
		{time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), true, 334},
		{time.Date(2025, 2, 28, 23, 59, 0, 0, time.UTC), true, 1},
		{time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), false, 0},
	}
	for _, tc := range cases {
		if got := w.IsOpen(tc.now); got != tc.open {
			t.Fatalf("now=%s open=%v", tc.now, got)
		}
		if got := w.DaysRemaining(tc.now); got != tc.daysLeft {
			t.Fatalf("now=%s days=%d want=%d", tc.now, got, tc.daysLeft)
		}
	}
}

func TestDeclarationWindow_LeapYearClosesAfterFeb28(t *testing.T) {
	w := DeclarationWindow(2027, time.UTC)
	if want := time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC); !w.Closes.Equal(want) {
		t.Fatalf("closes=%s want=%s", w.Closes, want)
	}
	if !w.IsOpen(time.Date(2028, 2, 28, 23, 59, 0, 0, time.UTC)) {
		t.Fatal("expected open on Feb 28")
	}
	if w.IsOpen(time.Date(2028, 2, 29, 12, 0, 0, 0, time.UTC)) {
		t.Fatal("expected closed on Feb 29")
	}
	if got := w.DaysRemaining(time.Date(2028, 2, 29, 12, 0, 0, 0, time.UTC)); got != 0 {
		t.Fatalf("days=%d", got)
	}
}
