package ports

import (
	"context"
	"time"

	"github.com/jacksonlee411/payroll-portal/modules/taxdeclaration/domain/types"
)

type DeclarationStore interface {
	// SaveDeclaration inserts or replaces the declaration of
	// (tenant, employee, financial year). Replacing is only allowed while the
	// stored status is editable; the saved row is always a draft.
	SaveDeclaration(ctx context.Context, d types.Declaration) (types.Declaration, error)
	// MarkSubmitted moves a draft to submitted.
	MarkSubmitted(ctx context.Context, tenantID string, declarationID string, at time.Time) (types.Declaration, error)
	// MarkReviewed moves a submitted declaration to verified or rejected.
	MarkReviewed(ctx context.Context, tenantID string, declarationID string, status types.Status, note string, at time.Time) (types.Declaration, error)
	GetDeclaration(ctx context.Context, tenantID string, declarationID string) (types.Declaration, error)
	FindDeclaration(ctx context.Context, tenantID string, employeeID string, financialYear string) (types.Declaration, bool, error)
	ListDeclarations(ctx context.Context, tenantID string, employeeID string) ([]types.Declaration, error)
}
