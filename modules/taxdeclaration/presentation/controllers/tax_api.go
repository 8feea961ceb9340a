package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jacksonlee411/payroll-portal/modules/taxdeclaration/domain/types"
	"github.com/jacksonlee411/payroll-portal/modules/taxdeclaration/services"
	"github.com/jacksonlee411/payroll-portal/pkg/deduction"
	"github.com/jacksonlee411/payroll-portal/pkg/payroll/tds"
)

type TenantIDGetter func(ctx context.Context) (tenantID string, ok bool)

// EmployeeIDGetter resolves the employee the caller acts as. HR reviewers
// do not need one.
type EmployeeIDGetter func(ctx context.Context) (employeeID string, ok bool)

type TaxController struct {
	TenantID   TenantIDGetter
	EmployeeID EmployeeIDGetter
	NowUTC     func() time.Time
	Service    *services.DeclarationService
}

type previewAPIRequest struct {
	Entries []deduction.Entry `json:"entries"`
	Rate    *float64          `json:"rate"`
	Base    decimal.Decimal   `json:"base"`
}

type saveDeclarationAPIRequest struct {
	FinancialYear string            `json:"financial_year"`
	Regime        tds.Regime        `json:"regime"`
	Entries       []deduction.Entry `json:"entries"`
}

type submitDeclarationAPIRequest struct {
	DeclarationID string `json:"declaration_id"`
}

type reviewDeclarationAPIRequest struct {
	DeclarationID string `json:"declaration_id"`
	Approve       bool   `json:"approve"`
	Note          string `json:"note"`
}

type salaryPreviewAPIRequest struct {
	Base       decimal.Decimal       `json:"base"`
	Components []deduction.Component `json:"components"`
}

func (c TaxController) now() time.Time {
	if c.NowUTC != nil {
		return c.NowUTC().UTC()
	}
	return time.Now().UTC()
}

func (c TaxController) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID, ok := c.TenantID(r.Context())
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return "", false
	}
	return tenantID, true
}

func (c TaxController) employee(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	tenantID, ok := c.tenant(w, r)
	if !ok {
		return "", "", false
	}
	employeeID, ok := c.EmployeeID(r.Context())
	if !ok {
		writeError(w, r, http.StatusForbidden, "employee_missing", "no employee for this principal")
		return "", "", false
	}
	return tenantID, employeeID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func (c TaxController) HandleDeductionsPreviewAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req previewAPIRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := c.Service.Preview(req.Entries, req.Rate, req.Base)
	if err != nil {
		writeServiceError(w, r, err, "preview_failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleDeclarationsAPI serves GET (current or ?financial_year) and POST
// (save draft) on /tax/api/declarations.
func (c TaxController) HandleDeclarationsAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, employeeID, ok := c.employee(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		d, err := c.Service.Get(r.Context(), tenantID, employeeID, r.URL.Query().Get("financial_year"), c.now())
		if err != nil {
			writeServiceError(w, r, err, "declaration_load_failed")
			return
		}
		writeJSON(w, http.StatusOK, d)

	case http.MethodPost:
		var req saveDeclarationAPIRequest
		if !decodeBody(w, r, &req) {
			return
		}
		d, err := c.Service.Save(r.Context(), tenantID, employeeID, req.FinancialYear, req.Regime, req.Entries, c.now())
		if err != nil {
			writeServiceError(w, r, err, "declaration_save_failed")
			return
		}
		writeJSON(w, http.StatusOK, d)

	default:
		methodNotAllowed(w, r)
	}
}

func (c TaxController) HandleDeclarationHistoryAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	tenantID, employeeID, ok := c.employee(w, r)
	if !ok {
		return
	}
	list, err := c.Service.History(r.Context(), tenantID, employeeID)
	if err != nil {
		writeServiceError(w, r, err, "history_load_failed")
		return
	}
	if list == nil {
		list = make([]types.Declaration, 0)
	}
	writeJSON(w, http.StatusOK, map[string]any{"declarations": list})
}

func (c TaxController) HandleSubmitDeclarationAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	tenantID, employeeID, ok := c.employee(w, r)
	if !ok {
		return
	}
	var req submitDeclarationAPIRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := c.Service.Submit(r.Context(), tenantID, employeeID, strings.TrimSpace(req.DeclarationID), c.now())
	if err != nil {
		writeServiceError(w, r, err, "declaration_submit_failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c TaxController) HandleReviewDeclarationAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	tenantID, ok := c.tenant(w, r)
	if !ok {
		return
	}
	var req reviewDeclarationAPIRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := c.Service.Review(r.Context(), tenantID, strings.TrimSpace(req.DeclarationID), req.Approve, req.Note, c.now())
	if err != nil {
		writeServiceError(w, r, err, "declaration_review_failed")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (c TaxController) HandleTaxSummaryAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	tenantID, employeeID, ok := c.employee(w, r)
	if !ok {
		return
	}
	gross, err := decimal.NewFromString(strings.TrimSpace(r.URL.Query().Get("annual_gross")))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_annual_gross", "annual_gross must be a decimal")
		return
	}
	s, err := c.Service.TaxSummary(r.Context(), tenantID, employeeID, r.URL.Query().Get("financial_year"), gross, c.now())
	if err != nil {
		writeServiceError(w, r, err, "tax_summary_failed")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (c TaxController) HandleDeadlineAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	tenantID, employeeID, ok := c.employee(w, r)
	if !ok {
		return
	}
	d, err := c.Service.Deadline(r.Context(), tenantID, employeeID, r.URL.Query().Get("financial_year"), c.now())
	if err != nil {
		writeServiceError(w, r, err, "deadline_failed")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (c TaxController) HandleCatalogAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	cat := c.Service.Catalog()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    cat.Version,
		"currency":   cat.Currency,
		"categories": cat.Categories,
	})
}

func (c TaxController) HandleSalaryPreviewAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req salaryPreviewAPIRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := c.Service.SalaryPreview(req.Base, req.Components)
	if err != nil {
		writeServiceError(w, r, err, "salary_preview_failed")
		return
	}
	writeJSON(w, http.StatusOK, b)
}
