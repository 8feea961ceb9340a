package ports

import (
	"context"

	"github.com/jacksonlee411/payroll-portal/modules/verification/domain/types"
)

type FlowStore interface {
	CreateFlow(ctx context.Context, flow types.Flow) (types.Flow, error)
	GetFlow(ctx context.Context, tenantID string, flowID string) (types.Flow, error)
	// UpdateFlow applies mutate under the store's write lock for the flow and
	// persists the result with a bumped version. An error from mutate aborts
	// without writing.
	UpdateFlow(ctx context.Context, tenantID string, flowID string, mutate func(*types.Flow) error) (types.Flow, error)
	AppendRecord(ctx context.Context, rec types.Record) error
	ListRecords(ctx context.Context, tenantID string, flowID string) ([]types.Record, error)
}

type Verifier interface {
	PerformVerification(ctx context.Context, kind types.Kind, payload types.Payload) (types.Outcome, error)
}

type CompletionNotifier interface {
	FlowCompleted(ctx context.Context, flow types.Flow) error
}
