package server

import (
	"context"
	"net/http/httptest"
	"testing"

	verificationtypes "github.com/jacksonlee411/payroll-portal/modules/verification/domain/types"
)

func TestHeaderPrincipalResolver(t *testing.T) {
	tenant := Tenant{ID: "t1", Domain: "acme.localhost"}
	var res headerPrincipalResolver

	r := httptest.NewRequest("GET", "/kyc/api/flows", nil)
	if _, ok := res.ResolvePrincipal(r, tenant); ok {
		t.Fatal("no headers must not resolve")
	}

	r.Header.Set(headerPrincipalID, "u1")
	r.Header.Set(headerPrincipalRole, "superuser")
	if _, ok := res.ResolvePrincipal(r, tenant); ok {
		t.Fatal("unknown role must not resolve")
	}

	r.Header.Set(headerPrincipalRole, "Contractor")
	p, ok := res.ResolvePrincipal(r, tenant)
	if !ok || p.TenantID != "t1" || p.EntityID != "u1" || p.EntityType() != verificationtypes.EntityContractor {
		t.Fatalf("p=%+v ok=%v", p, ok)
	}

	r.Header.Set(headerPrincipalRole, "hr-admin")
	r.Header.Set(headerEntityID, "emp-7")
	p, ok = res.ResolvePrincipal(r, tenant)
	if !ok || p.EntityID != "emp-7" || p.EntityType() != verificationtypes.EntityEmployee {
		t.Fatalf("p=%+v ok=%v", p, ok)
	}
}

func TestContextGetters(t *testing.T) {
	ctx := context.Background()
	if _, ok := tenantIDFromContext(ctx); ok {
		t.Fatal("expected no tenant")
	}
	if _, ok := subjectFromContext(ctx); ok {
		t.Fatal("expected no subject")
	}

	ctx = withTenant(ctx, Tenant{ID: "t1"})
	if _, ok := subjectFromContext(ctx); ok {
		t.Fatal("expected no subject without principal")
	}

	emp := withPrincipal(ctx, Principal{ID: "u1", RoleSlug: "employee", EntityID: "e1"})
	if id, ok := employeeIDFromContext(emp); !ok || id != "e1" {
		t.Fatalf("id=%q ok=%v", id, ok)
	}
	s, ok := subjectFromContext(emp)
	if !ok || s != (verificationtypes.Subject{TenantID: "t1", EntityType: verificationtypes.EntityEmployee, EntityID: "e1"}) {
		t.Fatalf("s=%+v ok=%v", s, ok)
	}

	con := withPrincipal(ctx, Principal{ID: "c1", RoleSlug: "contractor", EntityID: "c1"})
	if _, ok := employeeIDFromContext(con); ok {
		t.Fatal("contractors have no employee id")
	}
}
