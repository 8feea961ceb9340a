package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jacksonlee411/payroll-portal/modules/taxdeclaration/domain/ports"
	"github.com/jacksonlee411/payroll-portal/modules/taxdeclaration/domain/types"
	"github.com/jacksonlee411/payroll-portal/pkg/httperr"
)

type DeclarationMemoryStore struct {
	mu    sync.Mutex
	byID  map[string][]byte
	byKey map[string]string
}

func NewDeclarationMemoryStore() *DeclarationMemoryStore {
	return &DeclarationMemoryStore{
		byID:  make(map[string][]byte),
		byKey: make(map[string]string),
	}
}

var _ ports.DeclarationStore = (*DeclarationMemoryStore)(nil)

func idKey(tenantID string, id string) string {
	return tenantID + "/" + id
}

func yearKey(tenantID string, employeeID string, fy string) string {
	return tenantID + "/" + employeeID + "/" + fy
}

func (s *DeclarationMemoryStore) load(tenantID string, id string) (types.Declaration, bool, error) {
	b, ok := s.byID[idKey(tenantID, id)]
	if !ok {
		return types.Declaration{}, false, nil
	}
	var d types.Declaration
	if err := json.Unmarshal(b, &d); err != nil {
		return types.Declaration{}, false, err
	}
	return d, true, nil
}

func (s *DeclarationMemoryStore) put(d types.Declaration) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	s.byID[idKey(d.TenantID, d.ID)] = b
	s.byKey[yearKey(d.TenantID, d.EmployeeID, d.FinancialYear)] = d.ID
	return nil
}

func (s *DeclarationMemoryStore) SaveDeclaration(_ context.Context, d types.Declaration) (types.Declaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[yearKey(d.TenantID, d.EmployeeID, d.FinancialYear)]; ok {
		cur, _, err := s.load(d.TenantID, id)
		if err != nil {
			return types.Declaration{}, err
		}
		if !cur.Status.Editable() {
			return types.Declaration{}, httperr.NewConflict("declaration_locked", "declaration is no longer editable")
		}
		d.ID = cur.ID
		d.CreatedAt = cur.CreatedAt
	}
	d.Status = types.StatusDraft
	d.ReviewNote = ""
	d.ReviewedAt = nil
	if err := s.put(d); err != nil {
		return types.Declaration{}, err
	}
	out, _, err := s.load(d.TenantID, d.ID)
	return out, err
}

func (s *DeclarationMemoryStore) transition(tenantID string, id string, from types.Status, apply func(*types.Declaration)) (types.Declaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok, err := s.load(tenantID, id)
	if err != nil {
		return types.Declaration{}, err
	}
	if !ok {
		return types.Declaration{}, httperr.NewNotFound("declaration not found")
	}
	if d.Status != from {
		return types.Declaration{}, httperr.NewConflict("invalid_status", fmt.Sprintf("declaration is %s, not %s", d.Status, from))
	}
	apply(&d)
	if err := s.put(d); err != nil {
		return types.Declaration{}, err
	}
	return d, nil
}

func (s *DeclarationMemoryStore) MarkSubmitted(_ context.Context, tenantID string, declarationID string, at time.Time) (types.Declaration, error) {
	return s.transition(tenantID, declarationID, types.StatusDraft, func(d *types.Declaration) {
		d.Status = types.StatusSubmitted
		d.SubmittedAt = &at
		d.UpdatedAt = at
	})
}

func (s *DeclarationMemoryStore) MarkReviewed(_ context.Context, tenantID string, declarationID string, status types.Status, note string, at time.Time) (types.Declaration, error) {
	if status != types.StatusVerified && status != types.StatusRejected {
		return types.Declaration{}, httperr.NewBadRequest(fmt.Sprintf("cannot review into %q", status))
	}
	return s.transition(tenantID, declarationID, types.StatusSubmitted, func(d *types.Declaration) {
		d.Status = status
		d.ReviewNote = note
		d.ReviewedAt = &at
		d.UpdatedAt = at
	})
}

func (s *DeclarationMemoryStore) GetDeclaration(_ context.Context, tenantID string, declarationID string) (types.Declaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok, err := s.load(tenantID, declarationID)
	if err != nil {
		return types.Declaration{}, err
	}
	if !ok {
		return types.Declaration{}, httperr.NewNotFound("declaration not found")
	}
	return d, nil
}

func (s *DeclarationMemoryStore) FindDeclaration(_ context.Context, tenantID string, employeeID string, financialYear string) (types.Declaration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[yearKey(tenantID, employeeID, financialYear)]
	if !ok {
		return types.Declaration{}, false, nil
	}
	return s.load(tenantID, id)
}

func (s *DeclarationMemoryStore) ListDeclarations(_ context.Context, tenantID string, employeeID string) ([]types.Declaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Declaration, 0)
	for _, b := range s.byID {
		var d types.Declaration
		if err := json.Unmarshal(b, &d); err != nil {
			return nil, err
		}
		if d.TenantID == tenantID && d.EmployeeID == employeeID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FinancialYear > out[j].FinancialYear })
	return out, nil
}
