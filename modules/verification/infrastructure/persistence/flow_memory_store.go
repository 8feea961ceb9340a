package persistence

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jacksonlee411/payroll-portal/modules/verification/domain/ports"
	"github.com/jacksonlee411/payroll-portal/modules/verification/domain/types"
	"github.com/jacksonlee411/payroll-portal/pkg/httperr"
)

// FlowMemoryStore keeps flows in process. Flows are stored as JSON so callers
// never share step slices with the store.
type FlowMemoryStore struct {
	mu      sync.Mutex
	flows   map[string][]byte
	records map[string][]types.Record
}

func NewFlowMemoryStore() *FlowMemoryStore {
	return &FlowMemoryStore{
		flows:   make(map[string][]byte),
		records: make(map[string][]types.Record),
	}
}

var _ ports.FlowStore = (*FlowMemoryStore)(nil)

func memoryKey(tenantID string, flowID string) string {
	return tenantID + "/" + flowID
}

func (s *FlowMemoryStore) CreateFlow(_ context.Context, flow types.Flow) (types.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(flow.TenantID, flow.ID)
	if _, ok := s.flows[key]; ok {
		return types.Flow{}, httperr.NewConflict("flow_exists", "flow already exists")
	}
	flow.Version = 1
	b, err := json.Marshal(flow)
	if err != nil {
		return types.Flow{}, err
	}
	s.flows[key] = b
	return decodeFlow(b)
}

func (s *FlowMemoryStore) GetFlow(_ context.Context, tenantID string, flowID string) (types.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.flows[memoryKey(tenantID, flowID)]
	if !ok {
		return types.Flow{}, httperr.NewNotFound("flow not found")
	}
	return decodeFlow(b)
}

func (s *FlowMemoryStore) UpdateFlow(_ context.Context, tenantID string, flowID string, mutate func(*types.Flow) error) (types.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(tenantID, flowID)
	b, ok := s.flows[key]
	if !ok {
		return types.Flow{}, httperr.NewNotFound("flow not found")
	}
	flow, err := decodeFlow(b)
	if err != nil {
		return types.Flow{}, err
	}
	if err := mutate(&flow); err != nil {
		return types.Flow{}, err
	}
	flow.Version++
	out, err := json.Marshal(flow)
	if err != nil {
		return types.Flow{}, err
	}
	s.flows[key] = out
	return flow, nil
}

func (s *FlowMemoryStore) AppendRecord(_ context.Context, rec types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(rec.TenantID, rec.FlowID)
	s.records[key] = append(s.records[key], rec)
	return nil
}

func (s *FlowMemoryStore) ListRecords(_ context.Context, tenantID string, flowID string) ([]types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[memoryKey(tenantID, flowID)]
	out := make([]types.Record, len(recs))
	copy(out, recs)
	return out, nil
}

func decodeFlow(b []byte) (types.Flow, error) {
	var f types.Flow
	if err := json.Unmarshal(b, &f); err != nil {
		return types.Flow{}, err
	}
	return f, nil
}
