package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jacksonlee411/payroll-portal/modules/verification/domain/types"
	"github.com/jacksonlee411/payroll-portal/pkg/httperr"
	"github.com/jacksonlee411/payroll-portal/pkg/stepflow"
)

type beginnerFunc func(ctx context.Context) (pgx.Tx, error)

func (f beginnerFunc) Begin(ctx context.Context) (pgx.Tx, error) { return f(ctx) }

type stubTx struct {
	execErr   error
	execErrAt int
	execN     int
	execSQLs  []string
	execArgs  [][]any
	execTag   pgconn.CommandTag
	querySQLs []string
	commitErr error
	committed bool

	row  pgx.Row
	rows pgx.Rows
}

func (t *stubTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *stubTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}
func (t *stubTx) Rollback(context.Context) error { return nil }
func (t *stubTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *stubTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *stubTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *stubTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *stubTx) Conn() *pgx.Conn { return nil }

func (t *stubTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execSQLs = append(t.execSQLs, sql)
	t.execArgs = append(t.execArgs, args)
	t.execN++
	if t.execErr != nil && t.execN == max(t.execErrAt, 1) {
		return pgconn.CommandTag{}, t.execErr
	}
	if t.execN > 1 && t.execTag.String() != "" {
		return t.execTag, nil
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (t *stubTx) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	t.querySQLs = append(t.querySQLs, sql)
	return t.rows, nil
}

func (t *stubTx) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	t.querySQLs = append(t.querySQLs, sql)
	return t.row
}

type stubRow struct {
	vals []any
	err  error
}

func (r *stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.vals, dest)
}

type stubRows struct {
	data [][]any
	idx  int
	err  error
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return r.err }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}
func (r *stubRows) Scan(dest ...any) error { return assign(r.data[r.idx-1], dest) }
func (r *stubRows) Values() ([]any, error) { return nil, nil }
func (r *stubRows) RawValues() [][]byte    { return nil }
func (r *stubRows) Conn() *pgx.Conn        { return nil }

func assign(vals []any, dest []any) error {
	if len(vals) != len(dest) {
		return errors.New("column count mismatch")
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *string:
			*d = vals[i].(string)
		case *[]byte:
			*d = vals[i].([]byte)
		case *int64:
			*d = vals[i].(int64)
		case *time.Time:
			*d = vals[i].(time.Time)
		case **float64:
			if vals[i] == nil {
				*d = nil
				continue
			}
			v := vals[i].(float64)
			*d = &v
		default:
			return errors.New("unsupported scan type")
		}
	}
	return nil
}

var ts = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func testFlow(t *testing.T) types.Flow {
	t.Helper()
	ctrl, err := stepflow.New(types.Template{Steps: []types.TemplateStep{
		{ID: "a", Name: "A", Phase: "p1"},
		{ID: "b", Name: "B", Phase: "p2"},
	}}.Definitions())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	return types.Flow{
		ID:         "00000000-0000-0000-0000-000000000001",
		TenantID:   "00000000-0000-0000-0000-0000000000aa",
		EntityType: types.EntityEmployee,
		EntityID:   "e1",
		Template:   types.TemplateEmployeeEKYC,
		State:      ctrl.Snapshot(),
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
}

func flowRow(t *testing.T, f types.Flow) *stubRow {
	t.Helper()
	state, err := json.Marshal(f.State)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	return &stubRow{vals: []any{f.ID, f.TenantID, string(f.EntityType), f.EntityID, f.Template, state, f.Version, f.CreatedAt, f.UpdatedAt}}
}

func TestFlowPGStore_CreateFlow(t *testing.T) {
	tx := &stubTx{}
	store := NewFlowPGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }))

	got, err := store.CreateFlow(context.Background(), testFlow(t))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.Version != 1 || !tx.committed {
		t.Fatalf("version=%d committed=%v", got.Version, tx.committed)
	}
	if !strings.Contains(tx.execSQLs[0], "app.current_tenant") || !strings.Contains(tx.execSQLs[1], "INSERT INTO verification.flows") {
		t.Fatalf("sqls=%v", tx.execSQLs)
	}
}

func TestFlowPGStore_CreateFlowErrors(t *testing.T) {
	if _, err := NewFlowPGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) {
		return nil, errors.New("begin")
	})).CreateFlow(context.Background(), testFlow(t)); err == nil {
		t.Fatal("expected begin error")
	}

	tx := &stubTx{execErr: errors.New("tenant"), execErrAt: 1}
	store := NewFlowPGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }))
	if _, err := store.CreateFlow(context.Background(), testFlow(t)); err == nil {
		t.Fatal("expected set_config error")
	}

	tx = &stubTx{commitErr: errors.New("commit")}
	store = NewFlowPGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }))
	if _, err := store.CreateFlow(context.Background(), testFlow(t)); err == nil {
		t.Fatal("expected commit error")
	}
}

func TestFlowPGStore_GetFlow(t *testing.T) {
	want := testFlow(t)
	want.Version = 4
	tx := &stubTx{row: flowRow(t, want)}
	store := NewFlowPGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }))

	got, err := store.GetFlow(context.Background(), want.TenantID, want.ID)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.Version != 4 || got.EntityType != types.EntityEmployee || len(got.State.Steps) != 2 {
		t.Fatalf("got=%+v", got)
	}

	tx = &stubTx{row: &stubRow{err: pgx.ErrNoRows}}
	store = NewFlowPGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }))
	if _, err := store.GetFlow(context.Background(), want.TenantID, want.ID); !httperr.IsNotFound(err) {
		t.Fatalf("err=%v", err)
	}
	if _, err := store.GetFlow(context.Background(), want.TenantID, " "); !httperr.IsBadRequest(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestFlowPGStore_UpdateFlow(t *testing.T) {
	cur := testFlow(t)
	cur.Version = 2
	tx := &stubTx{row: flowRow(t, cur)}
	store := &FlowPGStore{
		pool: beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }),
		now:  func() time.Time { return ts.Add(time.Minute) },
	}

	got, err := store.UpdateFlow(context.Background(), cur.TenantID, cur.ID, func(f *types.Flow) error {
		ctrl, err := stepflow.Restore(f.State)
		if err != nil {
			return err
		}
		if _, err := ctrl.BeginStep("a"); err != nil {
			return err
		}
		f.State = ctrl.Snapshot()
		return nil
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.Version != 3 || !got.UpdatedAt.Equal(ts.Add(time.Minute)) || got.State.Steps[0].Status != stepflow.StatusInProgress {
		t.Fatalf("got=%+v", got)
	}
	if !strings.Contains(tx.querySQLs[0], "FOR UPDATE") {
		t.Fatalf("sql=%s", tx.querySQLs[0])
	}
	args := tx.execArgs[1]
	if args[3] != int64(3) || args[5] != int64(2) {
		t.Fatalf("args=%v", args)
	}
}

func TestFlowPGStore_UpdateFlowConflictsAndAborts(t *testing.T) {
	cur := testFlow(t)
	cur.Version = 2

	tx := &stubTx{row: flowRow(t, cur), execTag: pgconn.NewCommandTag("UPDATE 0")}
	store := NewFlowPGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }))
	_, err := store.UpdateFlow(context.Background(), cur.TenantID, cur.ID, func(*types.Flow) error { return nil })
	if !httperr.IsConflict(err) {
		t.Fatalf("err=%v", err)
	}

	tx = &stubTx{row: flowRow(t, cur)}
	store = NewFlowPGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }))
	boom := errors.New("boom")
	if _, err := store.UpdateFlow(context.Background(), cur.TenantID, cur.ID, func(*types.Flow) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if len(tx.execSQLs) != 1 || tx.committed {
		t.Fatalf("mutate error must not write: sqls=%d committed=%v", len(tx.execSQLs), tx.committed)
	}
}

func TestFlowPGStore_Records(t *testing.T) {
	score := 88.5
	rec := types.Record{
		ID: "r1", FlowID: "f1", TenantID: "t1", EntityType: types.EntityEmployee, EntityID: "e1",
		StepID: "face_match", Kind: types.KindFaceMatch, Status: types.RecordPassed, MatchScore: &score, VerifiedAt: ts,
	}
	tx := &stubTx{}
	store := NewFlowPGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }))
	if err := store.AppendRecord(context.Background(), rec); err != nil {
		t.Fatalf("err=%v", err)
	}
	if !strings.Contains(tx.execSQLs[1], "INSERT INTO verification.records") || !tx.committed {
		t.Fatalf("sqls=%v", tx.execSQLs)
	}

	tx = &stubTx{rows: &stubRows{data: [][]any{
		{"r1", "f1", "t1", "employee", "e1", "face_match", "face_match", "passed", 88.5, "", ts},
		{"r2", "f1", "t1", "employee", "e1", "document_verification", "document_check", "failed", nil, "blurry", ts},
	}}}
	store = NewFlowPGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }))
	recs, err := store.ListRecords(context.Background(), "t1", "f1")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(recs) != 2 || *recs[0].MatchScore != 88.5 || recs[1].MatchScore != nil || recs[1].Status != types.RecordFailed {
		t.Fatalf("recs=%+v", recs)
	}

	tx = &stubTx{rows: &stubRows{err: errors.New("rows")}}
	store = NewFlowPGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }))
	if _, err := store.ListRecords(context.Background(), "t1", "f1"); err == nil {
		t.Fatal("expected rows error")
	}
}

func TestFlowMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewFlowMemoryStore()
	f := testFlow(t)

	created, err := s.CreateFlow(ctx, f)
	if err != nil || created.Version != 1 {
		t.Fatalf("created=%+v err=%v", created, err)
	}
	if _, err := s.CreateFlow(ctx, f); !httperr.IsConflict(err) {
		t.Fatalf("err=%v", err)
	}
	if _, err := s.GetFlow(ctx, "other-tenant", f.ID); !httperr.IsNotFound(err) {
		t.Fatalf("err=%v", err)
	}

	updated, err := s.UpdateFlow(ctx, f.TenantID, f.ID, func(fl *types.Flow) error {
		fl.State.CurrentPhase = "p1"
		return nil
	})
	if err != nil || updated.Version != 2 {
		t.Fatalf("updated=%+v err=%v", updated, err)
	}

	// Mutating a returned value must not leak into the store.
	updated.State.Steps[0].Status = stepflow.StatusFailed
	got, err := s.GetFlow(ctx, f.TenantID, f.ID)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.State.Steps[0].Status != stepflow.StatusPending || got.State.CurrentPhase != "p1" {
		t.Fatalf("got=%+v", got.State)
	}

	if _, err := s.UpdateFlow(ctx, f.TenantID, f.ID, func(*types.Flow) error { return errors.New("abort") }); err == nil {
		t.Fatal("expected error")
	}
	got, _ = s.GetFlow(ctx, f.TenantID, f.ID)
	if got.Version != 2 {
		t.Fatalf("version=%d", got.Version)
	}

	if err := s.AppendRecord(ctx, types.Record{ID: "r1", TenantID: f.TenantID, FlowID: f.ID}); err != nil {
		t.Fatalf("err=%v", err)
	}
	recs, _ := s.ListRecords(ctx, f.TenantID, f.ID)
	if len(recs) != 1 {
		t.Fatalf("recs=%v", recs)
	}
	recs, _ = s.ListRecords(ctx, f.TenantID, "missing")
	if len(recs) != 0 {
		t.Fatalf("recs=%v", recs)
	}
}
