package server

import (
	"context"
	"net/http"
	"strings"

	verificationtypes "github.com/jacksonlee411/payroll-portal/modules/verification/domain/types"
	"github.com/jacksonlee411/payroll-portal/pkg/authz"
)

// Principal is the authenticated caller. Authentication happens at the
// gateway, which forwards the identity in trusted headers.
type Principal struct {
	ID       string
	TenantID string
	RoleSlug string
	Email    string
	EntityID string
}

const (
	headerPrincipalID    = "X-Principal-Id"
	headerPrincipalRole  = "X-Principal-Role"
	headerPrincipalEmail = "X-Principal-Email"
	headerEntityID       = "X-Entity-Id"
)

type PrincipalResolver interface {
	ResolvePrincipal(r *http.Request, tenant Tenant) (Principal, bool)
}

type headerPrincipalResolver struct{}

var knownRoles = map[string]bool{
	authz.RoleEmployee:    true,
	authz.RoleContractor:  true,
	authz.RoleHRAdmin:     true,
	authz.RoleTenantAdmin: true,
}

func (headerPrincipalResolver) ResolvePrincipal(r *http.Request, tenant Tenant) (Principal, bool) {
	id := strings.TrimSpace(r.Header.Get(headerPrincipalID))
	role := strings.ToLower(strings.TrimSpace(r.Header.Get(headerPrincipalRole)))
	if id == "" || !knownRoles[role] {
		return Principal{}, false
	}
	entityID := strings.TrimSpace(r.Header.Get(headerEntityID))
	if entityID == "" {
		entityID = id
	}
	return Principal{
		ID:       id,
		TenantID: tenant.ID,
		RoleSlug: role,
		Email:    strings.TrimSpace(r.Header.Get(headerPrincipalEmail)),
		EntityID: entityID,
	}, true
}

// EntityType maps the role to the kind of person being verified.
func (p Principal) EntityType() verificationtypes.EntityType {
	if p.RoleSlug == authz.RoleContractor {
		return verificationtypes.EntityContractor
	}
	return verificationtypes.EntityEmployee
}

type principalContextKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

func currentPrincipal(ctx context.Context) (Principal, bool) {
	v := ctx.Value(principalContextKey{})
	if v == nil {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

func tenantIDFromContext(ctx context.Context) (string, bool) {
	t, ok := currentTenant(ctx)
	if !ok || t.ID == "" {
		return "", false
	}
	return t.ID, true
}

// employeeIDFromContext only yields employees; contractors do not file
// tax declarations.
func employeeIDFromContext(ctx context.Context) (string, bool) {
	p, ok := currentPrincipal(ctx)
	if !ok || p.EntityType() != verificationtypes.EntityEmployee {
		return "", false
	}
	return p.EntityID, true
}

func subjectFromContext(ctx context.Context) (verificationtypes.Subject, bool) {
	t, ok := currentTenant(ctx)
	if !ok {
		return verificationtypes.Subject{}, false
	}
	p, ok := currentPrincipal(ctx)
	if !ok {
		return verificationtypes.Subject{}, false
	}
	return verificationtypes.Subject{
		TenantID:   t.ID,
		EntityType: p.EntityType(),
		EntityID:   p.EntityID,
	}, true
}
