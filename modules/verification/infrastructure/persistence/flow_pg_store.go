package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jacksonlee411/payroll-portal/modules/verification/domain/ports"
	"github.com/jacksonlee411/payroll-portal/modules/verification/domain/types"
	"github.com/jacksonlee411/payroll-portal/pkg/httperr"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type FlowPGStore struct {
	pool pgBeginner
	now  func() time.Time
}

func NewFlowPGStore(pool pgBeginner) ports.FlowStore {
	return &FlowPGStore{pool: pool, now: time.Now}
}

func (s *FlowPGStore) begin(ctx context.Context, tenantID string) (pgx.Tx, error) {
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

func (s *FlowPGStore) CreateFlow(ctx context.Context, flow types.Flow) (types.Flow, error) {
	state, err := json.Marshal(flow.State)
	if err != nil {
		return types.Flow{}, err
	}

	tx, err := s.begin(ctx, flow.TenantID)
	if err != nil {
		return types.Flow{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `
	INSERT INTO verification.flows (
	  tenant_id, id, entity_type, entity_id, template, state, version, created_at, updated_at
	) VALUES ($1::uuid, $2::uuid, $3::text, $4::text, $5::text, $6::jsonb, 1, $7, $7)
	`, flow.TenantID, flow.ID, string(flow.EntityType), flow.EntityID, flow.Template, state, flow.CreatedAt); err != nil {
		return types.Flow{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Flow{}, err
	}
	flow.Version = 1
	flow.UpdatedAt = flow.CreatedAt
	return flow, nil
}

const selectFlowSQL = `
	SELECT
	  id::text,
	  tenant_id::text,
	  entity_type,
	  entity_id,
	  template,
	  state,
	  version,
	  created_at,
	  updated_at
	FROM verification.flows
	WHERE tenant_id = $1::uuid AND id = $2::uuid
	`

func scanFlow(row pgx.Row) (types.Flow, error) {
	var f types.Flow
	var entityType string
	var state []byte
	if err := row.Scan(&f.ID, &f.TenantID, &entityType, &f.EntityID, &f.Template, &state, &f.Version, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Flow{}, httperr.NewNotFound("flow not found")
		}
		return types.Flow{}, err
	}
	f.EntityType = types.EntityType(entityType)
	if err := json.Unmarshal(state, &f.State); err != nil {
		return types.Flow{}, err
	}
	return f, nil
}

func (s *FlowPGStore) GetFlow(ctx context.Context, tenantID string, flowID string) (types.Flow, error) {
	flowID = strings.TrimSpace(flowID)
	if flowID == "" {
		return types.Flow{}, httperr.NewBadRequest("flow_id is required")
	}

	tx, err := s.begin(ctx, tenantID)
	if err != nil {
		return types.Flow{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	flow, err := scanFlow(tx.QueryRow(ctx, selectFlowSQL, tenantID, flowID))
	if err != nil {
		return types.Flow{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Flow{}, err
	}
	return flow, nil
}

// UpdateFlow holds the row lock only for the read-mutate-write; the version
// guard in the UPDATE rejects writers that bypassed the lock.
func (s *FlowPGStore) UpdateFlow(ctx context.Context, tenantID string, flowID string, mutate func(*types.Flow) error) (types.Flow, error) {
	flowID = strings.TrimSpace(flowID)
	if flowID == "" {
		return types.Flow{}, httperr.NewBadRequest("flow_id is required")
	}

	tx, err := s.begin(ctx, tenantID)
	if err != nil {
		return types.Flow{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	flow, err := scanFlow(tx.QueryRow(ctx, selectFlowSQL+"FOR UPDATE", tenantID, flowID))
	if err != nil {
		return types.Flow{}, err
	}
	if err := mutate(&flow); err != nil {
		return types.Flow{}, err
	}
	state, err := json.Marshal(flow.State)
	if err != nil {
		return types.Flow{}, err
	}

	prev := flow.Version
	flow.Version = prev + 1
	flow.UpdatedAt = s.now().UTC()
	tag, err := tx.Exec(ctx, `
	UPDATE verification.flows
	SET state = $3::jsonb, version = $4, updated_at = $5
	WHERE tenant_id = $1::uuid AND id = $2::uuid AND version = $6
	`, tenantID, flowID, state, flow.Version, flow.UpdatedAt, prev)
	if err != nil {
		return types.Flow{}, err
	}
	if tag.RowsAffected() != 1 {
		return types.Flow{}, httperr.NewConflict("flow_version_conflict", "flow was modified concurrently")
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Flow{}, err
	}
	return flow, nil
}

func (s *FlowPGStore) AppendRecord(ctx context.Context, rec types.Record) error {
	tx, err := s.begin(ctx, rec.TenantID)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `
	INSERT INTO verification.records (
	  tenant_id, id, flow_id, entity_type, entity_id, step_id, kind, status, match_score, failed_reason, verified_at
	) VALUES ($1::uuid, $2::uuid, $3::uuid, $4::text, $5::text, $6::text, $7::text, $8::text, $9, NULLIF($10::text, ''), $11)
	`, rec.TenantID, rec.ID, rec.FlowID, string(rec.EntityType), rec.EntityID, rec.StepID, string(rec.Kind), string(rec.Status), rec.MatchScore, rec.FailedReason, rec.VerifiedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *FlowPGStore) ListRecords(ctx context.Context, tenantID string, flowID string) ([]types.Record, error) {
	tx, err := s.begin(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `
	SELECT
	  id::text,
	  flow_id::text,
	  tenant_id::text,
	  entity_type,
	  entity_id,
	  step_id,
	  kind,
	  status,
	  match_score,
	  COALESCE(failed_reason, ''),
	  verified_at
	FROM verification.records
	WHERE tenant_id = $1::uuid AND flow_id = $2::uuid
	ORDER BY verified_at ASC, id ASC
	`, tenantID, flowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]types.Record, 0)
	for rows.Next() {
		var r types.Record
		var entityType, kind, status string
		if err := rows.Scan(&r.ID, &r.FlowID, &r.TenantID, &entityType, &r.EntityID, &r.StepID, &kind, &status, &r.MatchScore, &r.FailedReason, &r.VerifiedAt); err != nil {
			return nil, err
		}
		r.EntityType = types.EntityType(entityType)
		r.Kind = types.Kind(kind)
		r.Status = types.RecordStatus(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}
