package provider

import (
	"context"
	"log/slog"

	"github.com/jacksonlee411/payroll-portal/modules/verification/domain/ports"
	"github.com/jacksonlee411/payroll-portal/modules/verification/domain/types"
)

type LogNotifier struct {
	Logger *slog.Logger
}

var _ ports.CompletionNotifier = LogNotifier{}

func (n LogNotifier) FlowCompleted(ctx context.Context, flow types.Flow) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "verification flow completed",
		"tenant_id", flow.TenantID,
		"entity_type", flow.EntityType,
		"entity_id", flow.EntityID,
		"flow_id", flow.ID,
		"template", flow.Template,
	)
	return nil
}
