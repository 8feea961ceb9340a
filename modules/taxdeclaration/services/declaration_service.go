package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jacksonlee411/payroll-portal/modules/taxdeclaration/domain/ports"
	"github.com/jacksonlee411/payroll-portal/modules/taxdeclaration/domain/types"
	"github.com/jacksonlee411/payroll-portal/pkg/declpolicy"
	"github.com/jacksonlee411/payroll-portal/pkg/deduction"
	"github.com/jacksonlee411/payroll-portal/pkg/httperr"
	"github.com/jacksonlee411/payroll-portal/pkg/payroll/tds"
	"github.com/jacksonlee411/payroll-portal/pkg/uuidv7"
)

// DefaultSavingsRate is the marginal rate used by the deductions page to
// estimate savings when the caller does not pass one.
const DefaultSavingsRate = 0.30

type Options struct {
	Catalog  deduction.Catalog
	Policy   *declpolicy.Policy
	Location *time.Location
	Logger   *slog.Logger
	NewID    func(at time.Time) (string, error)
}

type DeclarationService struct {
	store ports.DeclarationStore
	opts  Options
	caps  deduction.Caps
}

func NewDeclarationService(store ports.DeclarationStore, opts Options) (*DeclarationService, error) {
	if store == nil {
		return nil, errors.New("taxdeclaration: store is required")
	}
	if opts.Policy == nil {
		return nil, errors.New("taxdeclaration: submission policy is required")
	}
	if len(opts.Catalog.Categories) == 0 {
		return nil, errors.New("taxdeclaration: deduction catalog is required")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = uuidv7.StringAt
	}
	return &DeclarationService{store: store, opts: opts, caps: opts.Catalog.Caps()}, nil
}

func (s *DeclarationService) Catalog() deduction.Catalog {
	return s.opts.Catalog
}

// Preview recomputes the summary and savings metrics without persisting.
// A nil rate means DefaultSavingsRate; an explicit zero is honoured.
func (s *DeclarationService) Preview(entries []deduction.Entry, rate *float64, base decimal.Decimal) (types.Preview, error) {
	r := DefaultSavingsRate
	if rate != nil {
		r = *rate
	}
	summary := deduction.ComputeSummary(entries, s.caps)
	metrics, err := deduction.ComputeMetrics(summary, r, base)
	if err != nil {
		return types.Preview{}, httperr.NewBadRequest(err.Error())
	}
	return types.Preview{Summary: summary, Metrics: metrics}, nil
}

func (s *DeclarationService) SalaryPreview(base decimal.Decimal, components []deduction.Component) (deduction.StructureBreakdown, error) {
	b, err := deduction.Breakdown(base, components, s.opts.Catalog.Places)
	if err != nil {
		return deduction.StructureBreakdown{}, httperr.NewBadRequest(err.Error())
	}
	return b, nil
}

func (s *DeclarationService) financialYear(raw string, now time.Time) (tds.FinancialYear, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return tds.CurrentFinancialYear(now.In(s.opts.Location)), nil
	}
	fy, err := tds.ParseFinancialYear(raw)
	if err != nil {
		return 0, httperr.NewBadRequest(err.Error())
	}
	return fy, nil
}

func requireIDs(tenantID string, employeeID string) error {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(employeeID) == "" {
		return httperr.NewBadRequest("tenant and employee are required")
	}
	return nil
}

// Save stores the entries as a draft. Totals sent by clients are ignored;
// the summary is recomputed here with the catalog caps.
func (s *DeclarationService) Save(ctx context.Context, tenantID string, employeeID string, fyRaw string, regime tds.Regime, entries []deduction.Entry, now time.Time) (types.Declaration, error) {
	if err := requireIDs(tenantID, employeeID); err != nil {
		return types.Declaration{}, err
	}
	fy, err := s.financialYear(fyRaw, now)
	if err != nil {
		return types.Declaration{}, err
	}
	switch regime {
	case "":
		regime = tds.RegimeOld
	case tds.RegimeOld, tds.RegimeNew:
	default:
		return types.Declaration{}, httperr.NewBadRequest(fmt.Sprintf("unknown regime %q", regime))
	}
	if entries == nil {
		entries = make([]deduction.Entry, 0)
	}

	existing, found, err := s.store.FindDeclaration(ctx, tenantID, employeeID, fy.String())
	if err != nil {
		return types.Declaration{}, err
	}
	d := types.Declaration{
		TenantID:      tenantID,
		EmployeeID:    employeeID,
		FinancialYear: fy.String(),
		Regime:        regime,
		Status:        types.StatusDraft,
		Entries:       entries,
		Summary:       deduction.ComputeSummary(entries, s.caps),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if found {
		if !existing.Status.Editable() {
			return types.Declaration{}, httperr.NewConflict("declaration_locked", fmt.Sprintf("declaration is %s", existing.Status))
		}
		d.ID = existing.ID
		d.CreatedAt = existing.CreatedAt
	} else {
		id, err := s.opts.NewID(now)
		if err != nil {
			return types.Declaration{}, err
		}
		d.ID = id
	}

	saved, err := s.store.SaveDeclaration(ctx, d)
	if err != nil {
		return types.Declaration{}, err
	}
	s.opts.Logger.Info("declaration saved",
		"tenant_id", tenantID,
		"declaration_id", saved.ID,
		"financial_year", saved.FinancialYear,
		"entries", len(saved.Entries),
		"invalid_entries", len(saved.Summary.InvalidEntries),
	)
	return saved, nil
}

type SubmitResult struct {
	Declaration types.Declaration `json:"declaration"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// Submit runs the submission policy and locks the declaration. A denied
// submission returns a conflict carrying every policy reason.
func (s *DeclarationService) Submit(ctx context.Context, tenantID string, employeeID string, declarationID string, now time.Time) (SubmitResult, error) {
	d, err := s.owned(ctx, tenantID, employeeID, declarationID)
	if err != nil {
		return SubmitResult{}, err
	}
	fy, err := tds.ParseFinancialYear(d.FinancialYear)
	if err != nil {
		return SubmitResult{}, err
	}

	// Stored summaries may predate a catalog change.
	summary := deduction.ComputeSummary(d.Entries, s.caps)
	unknown := make([]string, 0)
	for _, c := range summary.Categories {
		if !s.opts.Catalog.Has(c.Category) {
			unknown = append(unknown, c.Category)
		}
	}
	decision, err := s.opts.Policy.Evaluate(ctx, declpolicy.Input{
		Status:              string(d.Status),
		WindowOpen:          tds.DeclarationWindow(fy, s.opts.Location).IsOpen(now),
		EntryCount:          len(d.Entries),
		InvalidEntries:      summary.InvalidEntries,
		UnknownCategories:   unknown,
		OverLimitCategories: summary.OverLimitCategories,
	})
	if err != nil {
		return SubmitResult{}, err
	}
	if !decision.Allowed {
		s.opts.Logger.Info("declaration submit denied",
			"tenant_id", tenantID,
			"declaration_id", d.ID,
			"reasons", strings.Join(decision.Reasons, "; "),
		)
		return SubmitResult{}, httperr.NewConflict("declaration_not_submittable", "declaration cannot be submitted", decision.Reasons...)
	}

	submitted, err := s.store.MarkSubmitted(ctx, tenantID, d.ID, now)
	if err != nil {
		return SubmitResult{}, err
	}
	s.opts.Logger.Info("declaration submitted",
		"tenant_id", tenantID,
		"declaration_id", d.ID,
		"warnings", len(decision.Warnings),
	)
	return SubmitResult{Declaration: submitted, Warnings: decision.Warnings}, nil
}

// Review records the HR decision on a submitted declaration.
func (s *DeclarationService) Review(ctx context.Context, tenantID string, declarationID string, approve bool, note string, now time.Time) (types.Declaration, error) {
	if strings.TrimSpace(declarationID) == "" {
		return types.Declaration{}, httperr.NewBadRequest("declaration_id is required")
	}
	status := types.StatusVerified
	if !approve {
		status = types.StatusRejected
		if strings.TrimSpace(note) == "" {
			return types.Declaration{}, httperr.NewBadRequest("a rejection note is required")
		}
	}
	d, err := s.store.MarkReviewed(ctx, tenantID, declarationID, status, strings.TrimSpace(note), now)
	if err != nil {
		return types.Declaration{}, err
	}
	s.opts.Logger.Info("declaration reviewed",
		"tenant_id", tenantID,
		"declaration_id", d.ID,
		"status", string(d.Status),
	)
	return d, nil
}

func (s *DeclarationService) owned(ctx context.Context, tenantID string, employeeID string, declarationID string) (types.Declaration, error) {
	if err := requireIDs(tenantID, employeeID); err != nil {
		return types.Declaration{}, err
	}
	if strings.TrimSpace(declarationID) == "" {
		return types.Declaration{}, httperr.NewBadRequest("declaration_id is required")
	}
	d, err := s.store.GetDeclaration(ctx, tenantID, declarationID)
	if err != nil {
		return types.Declaration{}, err
	}
	if d.EmployeeID != employeeID {
		return types.Declaration{}, httperr.NewNotFound("declaration not found")
	}
	return d, nil
}

func (s *DeclarationService) Get(ctx context.Context, tenantID string, employeeID string, fyRaw string, now time.Time) (types.Declaration, error) {
	if err := requireIDs(tenantID, employeeID); err != nil {
		return types.Declaration{}, err
	}
	fy, err := s.financialYear(fyRaw, now)
	if err != nil {
		return types.Declaration{}, err
	}
	d, found, err := s.store.FindDeclaration(ctx, tenantID, employeeID, fy.String())
	if err != nil {
		return types.Declaration{}, err
	}
	if !found {
		return types.Declaration{}, httperr.NewNotFound("declaration not found")
	}
	return d, nil
}

func (s *DeclarationService) History(ctx context.Context, tenantID string, employeeID string) ([]types.Declaration, error) {
	if err := requireIDs(tenantID, employeeID); err != nil {
		return nil, err
	}
	return s.store.ListDeclarations(ctx, tenantID, employeeID)
}

// TaxSummary estimates the year's liability from annualGross and the
// declared deductions, each category limited to its cap. TDS to date assumes
// an even monthly spread.
func (s *DeclarationService) TaxSummary(ctx context.Context, tenantID string, employeeID string, fyRaw string, annualGross decimal.Decimal, now time.Time) (types.TaxSummary, error) {
	if err := requireIDs(tenantID, employeeID); err != nil {
		return types.TaxSummary{}, err
	}
	fy, err := s.financialYear(fyRaw, now)
	if err != nil {
		return types.TaxSummary{}, err
	}
	d, found, err := s.store.FindDeclaration(ctx, tenantID, employeeID, fy.String())
	if err != nil {
		return types.TaxSummary{}, err
	}

	out := types.TaxSummary{
		FinancialYear:     fy.String(),
		DeclarationStatus: types.StatusNotStarted,
		DeclaredTotal:     decimal.Zero,
		ClaimedTotal:      decimal.Zero,
		OverLimit:         make([]string, 0),
	}
	in := tds.AnnualInput{Regime: tds.RegimeOld, GrossSalary: annualGross}
	if found {
		summary := deduction.ComputeSummary(d.Entries, s.caps)
		out.DeclarationStatus = d.Status
		out.DeclaredTotal = summary.GrandTotal
		out.ClaimedTotal = summary.CappedTotal()
		out.OverLimit = summary.OverLimitCategories
		in.Regime = d.Regime
		in.ClaimedDeductions = out.ClaimedTotal
	}

	res, err := tds.ComputeAnnual(in)
	if err != nil {
		return types.TaxSummary{}, httperr.NewBadRequest(err.Error())
	}
	out.MonthsElapsed = tds.MonthsElapsed(fy, now.In(s.opts.Location))
	if in.TDSDeducted, err = tds.MonthlyTDS(res.TotalTax, out.MonthsElapsed); err != nil {
		return types.TaxSummary{}, err
	}
	if out.MonthlyTDS, err = tds.MonthlyTDS(res.TotalTax, 1); err != nil {
		return types.TaxSummary{}, err
	}
	if out.Annual, err = tds.ComputeAnnual(in); err != nil {
		return types.TaxSummary{}, err
	}
	return out, nil
}

func (s *DeclarationService) Deadline(ctx context.Context, tenantID string, employeeID string, fyRaw string, now time.Time) (types.Deadline, error) {
	if err := requireIDs(tenantID, employeeID); err != nil {
		return types.Deadline{}, err
	}
	fy, err := s.financialYear(fyRaw, now)
	if err != nil {
		return types.Deadline{}, err
	}
	w := tds.DeclarationWindow(fy, s.opts.Location)
	out := types.Deadline{
		FinancialYear:     fy.String(),
		WindowOpens:       w.Opens,
		WindowCloses:      w.Closes,
		Deadline:          w.Closes.AddDate(0, 0, -1),
		IsWindowOpen:      w.IsOpen(now),
		DaysRemaining:     w.DaysRemaining(now.In(s.opts.Location)),
		DeclarationStatus: types.StatusNotStarted,
	}
	d, found, err := s.store.FindDeclaration(ctx, tenantID, employeeID, fy.String())
	if err != nil {
		return types.Deadline{}, err
	}
	if found {
		out.DeclarationStatus = d.Status
	}
	return out, nil
}
