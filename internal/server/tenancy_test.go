package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
)

type stubRow struct {
	vals []any
	err  error
}

func (r *stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dest {
		if i >= len(r.vals) {
			break
		}
		if d, ok := dest[i].(*string); ok {
			*d = r.vals[i].(string)
		}
	}
	return nil
}

type stubQueryRower struct {
	row pgx.Row
}

func (s stubQueryRower) QueryRow(context.Context, string, ...any) pgx.Row { return s.row }

func TestTenancyDBResolver_ResolveTenant(t *testing.T) {
	r := newTenancyDBResolver(stubQueryRower{row: &stubRow{vals: []any{"tid", "Tenant"}}})
	got, ok, err := r.ResolveTenant(context.Background(), "HOST.local")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected ok")
	}
	if got.ID != "tid" || got.Name != "Tenant" || got.Domain != "host.local" {
		t.Fatalf("got=%+v", got)
	}
}

func TestTenancyDBResolver_NotFoundAndErrors(t *testing.T) {
	r := newTenancyDBResolver(stubQueryRower{row: &stubRow{err: pgx.ErrNoRows}})
	if _, ok, err := r.ResolveTenant(context.Background(), "missing.local"); err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}

	r = newTenancyDBResolver(stubQueryRower{row: &stubRow{err: errors.New("boom")}})
	if _, _, err := r.ResolveTenant(context.Background(), "x.local"); err == nil {
		t.Fatal("expected error")
	}
	if _, ok, err := r.ResolveTenant(context.Background(), " "); err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestStaticTenancyResolver(t *testing.T) {
	r := newStaticTenancyResolver(map[string]Tenant{" Acme.Localhost ": {ID: "t1", Domain: "acme.localhost"}})
	got, ok, err := r.ResolveTenant(context.Background(), "ACME.localhost")
	if err != nil || !ok || got.ID != "t1" {
		t.Fatalf("got=%+v ok=%v err=%v", got, ok, err)
	}
	if _, ok, _ := r.ResolveTenant(context.Background(), ""); ok {
		t.Fatal("empty host must not resolve")
	}
}

func TestLoadTenants(t *testing.T) {
	m, err := loadTenants(filepath.Join("..", "..", "config", "tenants.yaml"))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if m["acme.localhost"].Name != "Acme Payroll" {
		t.Fatalf("m=%+v", m)
	}

	cases := map[string]string{
		"version":   "version: 2\ntenants: [{id: a, domain: b}]",
		"empty":     "version: 1\ntenants: []",
		"invalid":   "version: 1\ntenants: [{id: a}]",
		"duplicate": "version: 1\ntenants: [{id: a, domain: x.local}, {id: b, domain: X.local}]",
		"yaml":      "version: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tenants.yaml")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := loadTenants(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := loadTenants(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}
