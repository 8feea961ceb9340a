package types

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jacksonlee411/payroll-portal/pkg/deduction"
	"github.com/jacksonlee411/payroll-portal/pkg/payroll/tds"
)

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusDraft      Status = "draft"
	StatusSubmitted  Status = "submitted"
	StatusVerified   Status = "verified"
	StatusRejected   Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusVerified, StatusRejected:
		return true
	default:
		return false
	}
}

// Editable reports whether the employee may still change the entries.
// A rejected declaration goes back to draft on the next save.
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusRejected
}

// Declaration is one employee's investment declaration for a financial year.
// Summary is always recomputed from Entries on the server.
type Declaration struct {
	ID            string            `json:"declaration_id"`
	TenantID      string            `json:"tenant_id"`
	EmployeeID    string            `json:"employee_id"`
	FinancialYear string            `json:"financial_year"`
	Regime        tds.Regime        `json:"regime"`
	Status        Status            `json:"status"`
	Entries       []deduction.Entry `json:"entries"`
	Summary       deduction.Summary `json:"summary"`
	ReviewNote    string            `json:"review_note,omitempty"`
	SubmittedAt   *time.Time        `json:"submitted_at,omitempty"`
	ReviewedAt    *time.Time        `json:"reviewed_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type Preview struct {
	Summary deduction.Summary `json:"summary"`
	Metrics deduction.Metrics `json:"metrics"`
}

type TaxSummary struct {
	FinancialYear     string           `json:"financial_year"`
	DeclarationStatus Status           `json:"declaration_status"`
	DeclaredTotal     decimal.Decimal  `json:"declared_total"`
	ClaimedTotal      decimal.Decimal  `json:"claimed_total"`
	MonthsElapsed     int              `json:"months_elapsed"`
	MonthlyTDS        decimal.Decimal  `json:"monthly_tds"`
	Annual            tds.AnnualResult `json:"annual"`
	OverLimit         []string         `json:"over_limit_categories"`
}

type Deadline struct {
	FinancialYear     string    `json:"financial_year"`
	WindowOpens       time.Time `json:"window_opens"`
	WindowCloses      time.Time `json:"window_closes"`
	Deadline          time.Time `json:"deadline"`
	IsWindowOpen      bool      `json:"is_window_open"`
	DaysRemaining     int       `json:"days_remaining"`
	DeclarationStatus Status    `json:"declaration_status"`
}
