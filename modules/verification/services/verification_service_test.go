package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jacksonlee411/payroll-portal/modules/verification/domain/types"
	"github.com/jacksonlee411/payroll-portal/modules/verification/infrastructure/persistence"
	"github.com/jacksonlee411/payroll-portal/pkg/httperr"
	"github.com/jacksonlee411/payroll-portal/pkg/stepflow"
)

type fakeVerifier struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, kind types.Kind, payload types.Payload) (types.Outcome, error)
}

func (v *fakeVerifier) PerformVerification(ctx context.Context, kind types.Kind, payload types.Payload) (types.Outcome, error) {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()
	if v.fn != nil {
		return v.fn(ctx, kind, payload)
	}
	return types.Outcome{Success: true, Score: 90}, nil
}

type countingNotifier struct {
	flows []types.Flow
	err   error
}

func (n *countingNotifier) FlowCompleted(_ context.Context, flow types.Flow) error {
	n.flows = append(n.flows, flow)
	return n.err
}

var (
	employee   = types.Subject{TenantID: "t1", EntityType: types.EntityEmployee, EntityID: "e1"}
	contractor = types.Subject{TenantID: "t1", EntityType: types.EntityContractor, EntityID: "c1"}
	t0         = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T, v *fakeVerifier, opts Options) (*VerificationService, *persistence.FlowMemoryStore) {
	t.Helper()
	store := persistence.NewFlowMemoryStore()
	n := 0
	opts.NewID = func(time.Time) (string, error) {
		n++
		return fmt.Sprintf("id-%d", n), nil
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	svc, err := NewVerificationService(store, v, opts)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	return svc, store
}

func stepStatus(f types.Flow, id string) stepflow.Status {
	for _, s := range f.State.Steps {
		if s.ID == id {
			return s.Status
		}
	}
	return ""
}

func TestRunStep_EmployeeHappyPath(t *testing.T) {
	notifier := &countingNotifier{}
	v := &fakeVerifier{}
	svc, store := newTestService(t, v, Options{Notifier: notifier})
	ctx := context.Background()

	flow, err := svc.StartFlow(ctx, employee, types.TemplateEmployeeEKYC, t0)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if flow.Version != 1 || len(flow.State.Steps) != 5 || flow.State.CurrentPhase != "" {
		t.Fatalf("flow=%+v", flow)
	}

	now := t0
	run := func(stepID string, payload types.Payload) types.StepResult {
		t.Helper()
		now = now.Add(3 * time.Second)
		res, err := svc.RunStep(ctx, employee, flow.ID, stepID, payload, now)
		if err != nil {
			t.Fatalf("step=%s err=%v", stepID, err)
		}
		if res.Record.Status != types.RecordPassed {
			t.Fatalf("step=%s record=%+v", stepID, res.Record)
		}
		return res
	}
	advance := func(phase string) {
		t.Helper()
		if _, err := svc.AdvancePhase(ctx, employee, flow.ID, phase); err != nil {
			t.Fatalf("phase=%s err=%v", phase, err)
		}
	}

	advance("document")
	run("document_upload", types.Payload{DocumentType: "passport", DocumentRef: "obj/1"})
	advance("capture")
	run("face_capture", types.Payload{ImageRef: "obj/2"})
	res := run("liveness_check", types.Payload{Frames: []string{"f1", "f2", "f3"}})
	if res.Record.MatchScore == nil || *res.Record.MatchScore != 90 {
		t.Fatalf("score=%v", res.Record.MatchScore)
	}
	advance("verification")
	run("face_match", types.Payload{ImageRef: "obj/2", ReferenceRef: "obj/1"})
	if len(notifier.flows) != 0 {
		t.Fatal("notified before completion")
	}
	res = run("document_verification", types.Payload{DocumentRef: "obj/1"})

	if len(notifier.flows) != 1 || notifier.flows[0].ID != flow.ID {
		t.Fatalf("notified=%d", len(notifier.flows))
	}
	for _, s := range res.Flow.State.Steps {
		if s.Status != stepflow.StatusCompleted || s.Timestamp == nil {
			t.Fatalf("step=%+v", s)
		}
	}
	if v.calls != 5 {
		t.Fatalf("calls=%d", v.calls)
	}

	recs, err := store.ListRecords(ctx, "t1", flow.ID)
	if err != nil || len(recs) != 5 {
		t.Fatalf("recs=%d err=%v", len(recs), err)
	}
}

func TestRunStep_RateLimitedPerEntity(t *testing.T) {
	svc, _ := newTestService(t, &fakeVerifier{}, Options{})
	ctx := context.Background()

	flow, err := svc.StartFlow(ctx, employee, types.TemplateEmployeeEKYC, t0)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if _, err := svc.RunStep(ctx, employee, flow.ID, "document_upload", types.Payload{}, t0); err != nil {
		t.Fatalf("err=%v", err)
	}
	_, err = svc.RunStep(ctx, employee, flow.ID, "face_capture", types.Payload{}, t0.Add(time.Second))
	if !httperr.IsTooManyRequests(err) {
		t.Fatalf("err=%v", err)
	}

	other, err := svc.StartFlow(ctx, contractor, types.TemplateContractorVerification, t0)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if _, err := svc.RunStep(ctx, contractor, other.ID, "document", types.Payload{}, t0.Add(time.Second)); err != nil {
		t.Fatalf("other entity limited: %v", err)
	}

	if _, err := svc.RunStep(ctx, employee, flow.ID, "face_capture", types.Payload{}, t0.Add(3*time.Second)); err != nil {
		t.Fatalf("err=%v", err)
	}
}

func TestRunStep_LivenessNeedsFrames(t *testing.T) {
	v := &fakeVerifier{}
	svc, _ := newTestService(t, v, Options{MinLivenessFrames: 2})
	ctx := context.Background()

	flow, _ := svc.StartFlow(ctx, contractor, types.TemplateContractorVerification, t0)
	for i, id := range []string{"document", "selfie"} {
		if _, err := svc.RunStep(ctx, contractor, flow.ID, id, types.Payload{}, t0.Add(time.Duration(i*3)*time.Second)); err != nil {
			t.Fatalf("err=%v", err)
		}
	}
	callsBefore := v.calls

	res, err := svc.RunStep(ctx, contractor, flow.ID, "liveness", types.Payload{Frames: []string{"only-one"}}, t0.Add(9*time.Second))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if v.calls != callsBefore {
		t.Fatal("provider must not be called")
	}
	if res.Record.Status != types.RecordFailed || !strings.Contains(res.Record.FailedReason, "frames") {
		t.Fatalf("record=%+v", res.Record)
	}
	if stepStatus(res.Flow, "liveness") != stepflow.StatusFailed {
		t.Fatalf("status=%s", stepStatus(res.Flow, "liveness"))
	}
}

func TestRunStep_BelowThresholdFailsThenRetry(t *testing.T) {
	score := 70.0
	v := &fakeVerifier{fn: func(context.Context, types.Kind, types.Payload) (types.Outcome, error) {
		return types.Outcome{Success: true, Score: score}, nil
	}}
	svc, _ := newTestService(t, v, Options{})
	ctx := context.Background()
	flow, _ := svc.StartFlow(ctx, contractor, types.TemplateContractorVerification, t0)

	now := t0
	for _, id := range []string{"document", "selfie"} {
		now = now.Add(3 * time.Second)
		if _, err := svc.RunStep(ctx, contractor, flow.ID, id, types.Payload{}, now); err != nil {
			t.Fatalf("err=%v", err)
		}
	}
	score = 90
	now = now.Add(3 * time.Second)
	if _, err := svc.RunStep(ctx, contractor, flow.ID, "liveness", types.Payload{Frames: []string{"a", "b", "c"}}, now); err != nil {
		t.Fatalf("err=%v", err)
	}

	score = 74.99
	now = now.Add(3 * time.Second)
	res, err := svc.RunStep(ctx, contractor, flow.ID, "match", types.Payload{}, now)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if res.Record.Status != types.RecordFailed || res.Record.FailedReason == "" {
		t.Fatalf("record=%+v", res.Record)
	}

	now = now.Add(3 * time.Second)
	if _, err := svc.RunStep(ctx, contractor, flow.ID, "match", types.Payload{}, now); !httperr.IsConflict(err) {
		t.Fatalf("expected conflict for failed step, err=%v", err)
	}

	retried, err := svc.RetryStep(ctx, contractor, flow.ID, "match")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if stepStatus(retried, "match") != stepflow.StatusPending {
		t.Fatalf("status=%s", stepStatus(retried, "match"))
	}

	score = 75
	now = now.Add(3 * time.Second)
	res, err = svc.RunStep(ctx, contractor, flow.ID, "match", types.Payload{}, now)
	if err != nil || res.Record.Status != types.RecordPassed {
		t.Fatalf("record=%+v err=%v", res.Record, err)
	}

	recs, err := svc.ListRecords(ctx, contractor, flow.ID)
	if err != nil || len(recs) != 5 {
		t.Fatalf("recs=%d err=%v", len(recs), err)
	}
}

func TestRunStep_ProviderErrorAndTimeoutBecomeFailure(t *testing.T) {
	v := &fakeVerifier{fn: func(ctx context.Context, kind types.Kind, _ types.Payload) (types.Outcome, error) {
		if kind == types.KindDocumentUpload {
			return types.Outcome{}, errors.New("provider unavailable")
		}
		<-ctx.Done()
		return types.Outcome{}, ctx.Err()
	}}
	svc, _ := newTestService(t, v, Options{StepTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	flow, _ := svc.StartFlow(ctx, employee, types.TemplateEmployeeEKYC, t0)
	res, err := svc.RunStep(ctx, employee, flow.ID, "document_upload", types.Payload{}, t0)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if res.Record.FailedReason != "provider unavailable" || stepStatus(res.Flow, "document_upload") != stepflow.StatusFailed {
		t.Fatalf("record=%+v", res.Record)
	}

	if _, err := svc.RetryStep(ctx, employee, flow.ID, "document_upload"); err != nil {
		t.Fatalf("err=%v", err)
	}
	v.fn = func(ctx context.Context, _ types.Kind, _ types.Payload) (types.Outcome, error) {
		<-ctx.Done()
		return types.Outcome{}, ctx.Err()
	}
	res, err = svc.RunStep(ctx, employee, flow.ID, "document_upload", types.Payload{}, t0.Add(3*time.Second))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if res.Record.FailedReason != "verification timed out" {
		t.Fatalf("reason=%q", res.Record.FailedReason)
	}
}

func TestRunStep_Rejections(t *testing.T) {
	svc, _ := newTestService(t, &fakeVerifier{}, Options{})
	ctx := context.Background()
	flow, _ := svc.StartFlow(ctx, employee, types.TemplateEmployeeEKYC, t0)

	_, err := svc.RunStep(ctx, employee, flow.ID, "face_capture", types.Payload{}, t0)
	if !httperr.IsConflict(err) {
		t.Fatalf("out of order err=%v", err)
	}
	_, err = svc.RunStep(ctx, employee, flow.ID, "nope", types.Payload{}, t0.Add(3*time.Second))
	if !httperr.IsNotFound(err) {
		t.Fatalf("unknown step err=%v", err)
	}
	intruder := types.Subject{TenantID: "t1", EntityType: types.EntityEmployee, EntityID: "e2"}
	_, err = svc.RunStep(ctx, intruder, flow.ID, "document_upload", types.Payload{}, t0)
	if !httperr.IsNotFound(err) {
		t.Fatalf("foreign flow err=%v", err)
	}
	if _, err := svc.GetFlow(ctx, intruder, flow.ID); !httperr.IsNotFound(err) {
		t.Fatalf("foreign get err=%v", err)
	}
	_, err = svc.RunStep(ctx, types.Subject{}, flow.ID, "document_upload", types.Payload{}, t0)
	if !httperr.IsBadRequest(err) {
		t.Fatalf("empty subject err=%v", err)
	}
}

func TestStartFlow_Validation(t *testing.T) {
	svc, _ := newTestService(t, &fakeVerifier{}, Options{})
	ctx := context.Background()

	if _, err := svc.StartFlow(ctx, employee, "nope", t0); !httperr.IsBadRequest(err) {
		t.Fatalf("err=%v", err)
	}
	if _, err := svc.StartFlow(ctx, contractor, types.TemplateEmployeeEKYC, t0); !httperr.IsBadRequest(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestAdvancePhase_Errors(t *testing.T) {
	svc, _ := newTestService(t, &fakeVerifier{}, Options{})
	ctx := context.Background()
	flow, _ := svc.StartFlow(ctx, employee, types.TemplateEmployeeEKYC, t0)

	if _, err := svc.AdvancePhase(ctx, employee, flow.ID, "capture"); !httperr.IsConflict(err) {
		t.Fatalf("err=%v", err)
	}
	if _, err := svc.AdvancePhase(ctx, employee, flow.ID, "unknown"); !httperr.IsConflict(err) {
		t.Fatalf("err=%v", err)
	}
	got, err := svc.AdvancePhase(ctx, employee, flow.ID, "document")
	if err != nil || got.State.CurrentPhase != "document" {
		t.Fatalf("flow=%+v err=%v", got.State, err)
	}
}

func TestRunStep_NotifierErrorIsNotFatal(t *testing.T) {
	notifier := &countingNotifier{err: errors.New("queue down")}
	svc, _ := newTestService(t, &fakeVerifier{}, Options{Notifier: notifier})
	ctx := context.Background()
	flow, _ := svc.StartFlow(ctx, contractor, types.TemplateContractorVerification, t0)

	now := t0
	for _, id := range []string{"document", "selfie", "liveness", "match"} {
		now = now.Add(3 * time.Second)
		if _, err := svc.RunStep(ctx, contractor, flow.ID, id, types.Payload{Frames: []string{"a", "b", "c"}}, now); err != nil {
			t.Fatalf("step=%s err=%v", id, err)
		}
	}
	if len(notifier.flows) != 1 {
		t.Fatalf("notified=%d", len(notifier.flows))
	}
}

func TestNewVerificationService_RequiresDeps(t *testing.T) {
	if _, err := NewVerificationService(nil, &fakeVerifier{}, Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunStep_StampsCompletionAfterProviderReturns(t *testing.T) {
	clock := t0
	v := &fakeVerifier{fn: func(context.Context, types.Kind, types.Payload) (types.Outcome, error) {
		clock = clock.Add(20 * time.Second)
		return types.Outcome{Success: true, Score: 99}, nil
	}}
	svc, _ := newTestService(t, v, Options{Clock: func() time.Time { return clock }})
	ctx := context.Background()
	flow, _ := svc.StartFlow(ctx, employee, types.TemplateEmployeeEKYC, t0)

	res, err := svc.RunStep(ctx, employee, flow.ID, "document_upload", types.Payload{}, t0)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	want := t0.Add(20 * time.Second)
	if !res.Record.VerifiedAt.Equal(want) {
		t.Fatalf("verified_at=%s want=%s", res.Record.VerifiedAt, want)
	}
	for _, s := range res.Flow.State.Steps {
		if s.ID == "document_upload" && (s.Timestamp == nil || !s.Timestamp.Equal(want)) {
			t.Fatalf("step=%+v", s)
		}
	}

	// A clock behind the begin time never stamps a settle before the start.
	svc2, _ := newTestService(t, &fakeVerifier{}, Options{Clock: func() time.Time { return t0.Add(-time.Hour) }})
	flow2, _ := svc2.StartFlow(ctx, employee, types.TemplateEmployeeEKYC, t0)
	res, err = svc2.RunStep(ctx, employee, flow2.ID, "document_upload", types.Payload{}, t0)
	if err != nil || !res.Record.VerifiedAt.Equal(t0) {
		t.Fatalf("verified_at=%s err=%v", res.Record.VerifiedAt, err)
	}

	// Without a clock the settle time is never before the begin time.
	svc3, _ := newTestService(t, &fakeVerifier{}, Options{})
	flow3, _ := svc3.StartFlow(ctx, employee, types.TemplateEmployeeEKYC, t0)
	res, err = svc3.RunStep(ctx, employee, flow3.ID, "document_upload", types.Payload{}, t0)
	if err != nil || res.Record.VerifiedAt.Before(t0) {
		t.Fatalf("verified_at=%s err=%v", res.Record.VerifiedAt, err)
	}
}

func TestAllow_EvictsIdleLimiters(t *testing.T) {
	svc, _ := newTestService(t, &fakeVerifier{}, Options{MinInterval: 2 * time.Second})

	for i := 0; i < 50; i++ {
		if !svc.allow(fmt.Sprintf("t1/employee/e%d", i), t0) {
			t.Fatalf("i=%d denied", i)
		}
	}
	if svc.allow("t1/employee/e0", t0.Add(time.Second)) {
		t.Fatal("expected second call within interval to be limited")
	}
	if got := len(svc.limiters); got != 50 {
		t.Fatalf("limiters=%d", got)
	}

	if !svc.allow("t1/employee/fresh", t0.Add(5*time.Second)) {
		t.Fatal("expected fresh entity to pass")
	}
	if got := len(svc.limiters); got != 1 {
		t.Fatalf("limiters=%d after sweep", got)
	}

	if !svc.allow("t1/employee/e0", t0.Add(5*time.Second)) {
		t.Fatal("expected evicted entity to start fresh")
	}
	if svc.allow("t1/employee/e0", t0.Add(6*time.Second)) {
		t.Fatal("expected limit to apply again after eviction")
	}
}
