package declpolicy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEvaluate_AllowsDraftInsideWindow(t *testing.T) {
	p, err := New(context.Background())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	d, err := p.Evaluate(context.Background(), Input{
		Status:              "draft",
		WindowOpen:          true,
		EntryCount:          2,
		OverLimitCategories: []string{"80C"},
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !d.Allowed || len(d.Reasons) != 0 {
		t.Fatalf("d=%+v", d)
	}
	if len(d.Warnings) != 1 || d.Warnings[0] != "category 80C exceeds its limit" {
		t.Fatalf("warnings=%v", d.Warnings)
	}
}

func TestEvaluate_Denials(t *testing.T) {
	p, err := New(context.Background())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	d, err := p.Evaluate(context.Background(), Input{
		Status:            "submitted",
		WindowOpen:        false,
		EntryCount:        0,
		InvalidEntries:    []int{1},
		UnknownCategories: []string{"80X"},
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if d.Allowed {
		t.Fatalf("d=%+v", d)
	}
	want := []string{
		"category 80X is not offered",
		"declaration has no entries",
		"declaration is not a draft",
		"declaration window is closed",
		"entry 1 has an invalid amount",
	}
	if strings.Join(d.Reasons, "|") != strings.Join(want, "|") {
		t.Fatalf("reasons=%v", d.Reasons)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strict.rego")
	module := `package payroll.declaration

allow := false

deny contains "submissions are frozen" if true
`
	if err := os.WriteFile(path, []byte(module), 0o600); err != nil {
		t.Fatalf("err=%v", err)
	}
	p, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	d, err := p.Evaluate(context.Background(), Input{Status: "draft", WindowOpen: true, EntryCount: 1})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if d.Allowed || len(d.Reasons) != 1 {
		t.Fatalf("d=%+v", d)
	}

	if _, err := Load(context.Background(), ""); err != nil {
		t.Fatalf("builtin err=%v", err)
	}
	if _, err := Load(context.Background(), filepath.Join(dir, "missing.rego")); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewFromModule_RejectsBadModule(t *testing.T) {
	if _, err := NewFromModule(context.Background(), "bad.rego", "package x\n\nallow if {"); err == nil {
		t.Fatal("expected error")
	}
}
