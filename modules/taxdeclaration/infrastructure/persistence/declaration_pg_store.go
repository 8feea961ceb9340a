package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jacksonlee411/payroll-portal/modules/taxdeclaration/domain/ports"
	"github.com/jacksonlee411/payroll-portal/modules/taxdeclaration/domain/types"
	"github.com/jacksonlee411/payroll-portal/pkg/httperr"
	"github.com/jacksonlee411/payroll-portal/pkg/payroll/tds"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type DeclarationPGStore struct {
	pool pgBeginner
}

func NewDeclarationPGStore(pool pgBeginner) ports.DeclarationStore {
	return &DeclarationPGStore{pool: pool}
}

func (s *DeclarationPGStore) begin(ctx context.Context, tenantID string) (pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		_ = tx.Rollback(context.Background())
		return nil, err
	}
	return tx, nil
}

const declarationColumns = `
	  id::text,
	  tenant_id::text,
	  employee_id,
	  financial_year,
	  regime,
	  status,
	  entries,
	  summary,
	  COALESCE(review_note, ''),
	  submitted_at,
	  reviewed_at,
	  created_at,
	  updated_at
	`

func scanDeclaration(row pgx.Row) (types.Declaration, error) {
	var d types.Declaration
	var regime, status string
	var entries, summary []byte
	if err := row.Scan(
		&d.ID, &d.TenantID, &d.EmployeeID, &d.FinancialYear, &regime, &status,
		&entries, &summary, &d.ReviewNote, &d.SubmittedAt, &d.ReviewedAt, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return types.Declaration{}, err
	}
	d.Regime = tds.Regime(regime)
	d.Status = types.Status(status)
	if err := json.Unmarshal(entries, &d.Entries); err != nil {
		return types.Declaration{}, err
	}
	if err := json.Unmarshal(summary, &d.Summary); err != nil {
		return types.Declaration{}, err
	}
	return d, nil
}

func (s *DeclarationPGStore) SaveDeclaration(ctx context.Context, d types.Declaration) (types.Declaration, error) {
	entries, err := json.Marshal(d.Entries)
	if err != nil {
		return types.Declaration{}, err
	}
	summary, err := json.Marshal(d.Summary)
	if err != nil {
		return types.Declaration{}, err
	}

	tx, err := s.begin(ctx, d.TenantID)
	if err != nil {
		return types.Declaration{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	// The conditional DO UPDATE returns no row when the stored declaration is
	// no longer editable.
	saved, err := scanDeclaration(tx.QueryRow(ctx, `
	INSERT INTO tax.declarations (
	  tenant_id, id, employee_id, financial_year, regime, status, entries, summary, created_at, updated_at
	) VALUES ($1::uuid, $2::uuid, $3::text, $4::text, $5::text, 'draft', $6::jsonb, $7::jsonb, $8, $9)
	ON CONFLICT (tenant_id, employee_id, financial_year) DO UPDATE
	SET regime = EXCLUDED.regime,
	    status = 'draft',
	    entries = EXCLUDED.entries,
	    summary = EXCLUDED.summary,
	    review_note = NULL,
	    reviewed_at = NULL,
	    updated_at = EXCLUDED.updated_at
	WHERE tax.declarations.status IN ('draft', 'rejected')
	RETURNING`+declarationColumns,
		d.TenantID, d.ID, d.EmployeeID, d.FinancialYear, string(d.Regime), entries, summary, d.CreatedAt, d.UpdatedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Declaration{}, httperr.NewConflict("declaration_locked", "declaration is no longer editable")
		}
		return types.Declaration{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Declaration{}, err
	}
	return saved, nil
}

func (s *DeclarationPGStore) MarkSubmitted(ctx context.Context, tenantID string, declarationID string, at time.Time) (types.Declaration, error) {
	return s.transition(ctx, tenantID, declarationID, types.StatusDraft, `
	UPDATE tax.declarations
	SET status = 'submitted', submitted_at = $3, updated_at = $3
	WHERE tenant_id = $1::uuid AND id = $2::uuid AND status = 'draft'
	RETURNING`+declarationColumns, tenantID, declarationID, at)
}

func (s *DeclarationPGStore) MarkReviewed(ctx context.Context, tenantID string, declarationID string, status types.Status, note string, at time.Time) (types.Declaration, error) {
	if status != types.StatusVerified && status != types.StatusRejected {
		return types.Declaration{}, httperr.NewBadRequest(fmt.Sprintf("cannot review into %q", status))
	}
	return s.transition(ctx, tenantID, declarationID, types.StatusSubmitted, `
	UPDATE tax.declarations
	SET status = $3::text, review_note = NULLIF($4::text, ''), reviewed_at = $5, updated_at = $5
	WHERE tenant_id = $1::uuid AND id = $2::uuid AND status = 'submitted'
	RETURNING`+declarationColumns, tenantID, declarationID, string(status), note, at)
}

// transition runs a status-guarded UPDATE. When it matches nothing the row is
// read back to tell a missing declaration from one in the wrong status.
func (s *DeclarationPGStore) transition(ctx context.Context, tenantID string, declarationID string, from types.Status, sql string, args ...any) (types.Declaration, error) {
	declarationID = strings.TrimSpace(declarationID)
	if declarationID == "" {
		return types.Declaration{}, httperr.NewBadRequest("declaration_id is required")
	}

	tx, err := s.begin(ctx, tenantID)
	if err != nil {
		return types.Declaration{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	d, err := scanDeclaration(tx.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		var current string
		if err := tx.QueryRow(ctx, `
		SELECT status FROM tax.declarations WHERE tenant_id = $1::uuid AND id = $2::uuid
		`, tenantID, declarationID).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return types.Declaration{}, httperr.NewNotFound("declaration not found")
			}
			return types.Declaration{}, err
		}
		return types.Declaration{}, httperr.NewConflict("invalid_status", fmt.Sprintf("declaration is %s, not %s", current, from))
	}
	if err != nil {
		return types.Declaration{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Declaration{}, err
	}
	return d, nil
}

func (s *DeclarationPGStore) GetDeclaration(ctx context.Context, tenantID string, declarationID string) (types.Declaration, error) {
	declarationID = strings.TrimSpace(declarationID)
	if declarationID == "" {
		return types.Declaration{}, httperr.NewBadRequest("declaration_id is required")
	}

	tx, err := s.begin(ctx, tenantID)
	if err != nil {
		return types.Declaration{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	d, err := scanDeclaration(tx.QueryRow(ctx, `
	SELECT`+declarationColumns+`
	FROM tax.declarations
	WHERE tenant_id = $1::uuid AND id = $2::uuid
	`, tenantID, declarationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Declaration{}, httperr.NewNotFound("declaration not found")
		}
		return types.Declaration{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Declaration{}, err
	}
	return d, nil
}

func (s *DeclarationPGStore) FindDeclaration(ctx context.Context, tenantID string, employeeID string, financialYear string) (types.Declaration, bool, error) {
	tx, err := s.begin(ctx, tenantID)
	if err != nil {
		return types.Declaration{}, false, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	d, err := scanDeclaration(tx.QueryRow(ctx, `
	SELECT`+declarationColumns+`
	FROM tax.declarations
	WHERE tenant_id = $1::uuid AND employee_id = $2::text AND financial_year = $3::text
	`, tenantID, employeeID, financialYear))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Declaration{}, false, nil
		}
		return types.Declaration{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Declaration{}, false, err
	}
	return d, true, nil
}

func (s *DeclarationPGStore) ListDeclarations(ctx context.Context, tenantID string, employeeID string) ([]types.Declaration, error) {
	tx, err := s.begin(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `
	SELECT`+declarationColumns+`
	FROM tax.declarations
	WHERE tenant_id = $1::uuid AND employee_id = $2::text
	ORDER BY financial_year DESC
	`, tenantID, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]types.Declaration, 0)
	for rows.Next() {
		d, err := scanDeclaration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}
