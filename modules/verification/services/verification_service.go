package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jacksonlee411/payroll-portal/modules/verification/domain/ports"
	"github.com/jacksonlee411/payroll-portal/modules/verification/domain/types"
	"github.com/jacksonlee411/payroll-portal/pkg/httperr"
	"github.com/jacksonlee411/payroll-portal/pkg/rules"
	"github.com/jacksonlee411/payroll-portal/pkg/stepflow"
	"github.com/jacksonlee411/payroll-portal/pkg/uuidv7"
)

const (
	DefaultStepTimeout       = 30 * time.Second
	DefaultMinInterval       = 2 * time.Second
	DefaultMinLivenessFrames = 3
)

type Options struct {
	StepTimeout       time.Duration
	MinInterval       time.Duration
	MinLivenessFrames int
	Acceptance        *rules.Acceptance
	Notifier          ports.CompletionNotifier
	Logger            *slog.Logger
	NewID             func(at time.Time) (string, error)
	// Clock stamps step completion after the provider returns. When nil the
	// settle time is the step's start plus the elapsed monotonic time.
	Clock func() time.Time
}

type entityLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type VerificationService struct {
	store    ports.FlowStore
	verifier ports.Verifier
	opts     Options

	mu        sync.Mutex
	limiters  map[string]*entityLimiter
	lastSweep time.Time
}

func NewVerificationService(store ports.FlowStore, verifier ports.Verifier, opts Options) (*VerificationService, error) {
	if store == nil || verifier == nil {
		return nil, errors.New("verification: store and verifier are required")
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.MinLivenessFrames <= 0 {
		opts.MinLivenessFrames = DefaultMinLivenessFrames
	}
	if opts.Acceptance == nil {
		a, err := rules.NewAcceptance(rules.DefaultAcceptance)
		if err != nil {
			return nil, err
		}
		opts.Acceptance = a
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = uuidv7.StringAt
	}
	return &VerificationService{
		store:    store,
		verifier: verifier,
		opts:     opts,
		limiters: make(map[string]*entityLimiter),
	}, nil
}

func (s *VerificationService) StartFlow(ctx context.Context, subject types.Subject, templateKey string, now time.Time) (types.Flow, error) {
	if !subject.Valid() {
		return types.Flow{}, httperr.NewBadRequest("subject is incomplete")
	}
	tpl, ok := types.LookupTemplate(strings.TrimSpace(templateKey))
	if !ok {
		return types.Flow{}, httperr.NewBadRequest("unknown template")
	}
	if tpl.EntityType != subject.EntityType {
		return types.Flow{}, httperr.NewBadRequest(fmt.Sprintf("template %s is for %s", tpl.Key, tpl.EntityType))
	}
	ctrl, err := stepflow.New(tpl.Definitions())
	if err != nil {
		return types.Flow{}, err
	}
	id, err := s.opts.NewID(now)
	if err != nil {
		return types.Flow{}, err
	}

	flow, err := s.store.CreateFlow(ctx, types.Flow{
		ID:         id,
		TenantID:   subject.TenantID,
		EntityType: subject.EntityType,
		EntityID:   subject.EntityID,
		Template:   tpl.Key,
		State:      ctrl.Snapshot(),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return types.Flow{}, err
	}
	s.opts.Logger.InfoContext(ctx, "verification flow started",
		"tenant_id", subject.TenantID, "entity_id", subject.EntityID, "flow_id", flow.ID, "template", tpl.Key)
	return flow, nil
}

func (s *VerificationService) GetFlow(ctx context.Context, subject types.Subject, flowID string) (types.Flow, error) {
	flow, err := s.store.GetFlow(ctx, subject.TenantID, flowID)
	if err != nil {
		return types.Flow{}, err
	}
	if !flow.OwnedBy(subject) {
		return types.Flow{}, httperr.NewNotFound("flow not found")
	}
	return flow, nil
}

func (s *VerificationService) ListRecords(ctx context.Context, subject types.Subject, flowID string) ([]types.Record, error) {
	if _, err := s.GetFlow(ctx, subject, flowID); err != nil {
		return nil, err
	}
	return s.store.ListRecords(ctx, subject.TenantID, flowID)
}

// RunStep drives one step through begin, provider call and completion. The
// provider runs outside the store lock; a concurrent call for the same flow
// sees the step in progress and is rejected as out of order.
func (s *VerificationService) RunStep(ctx context.Context, subject types.Subject, flowID string, stepID string, payload types.Payload, now time.Time) (types.StepResult, error) {
	if !subject.Valid() {
		return types.StepResult{}, httperr.NewBadRequest("subject is incomplete")
	}
	if !s.allow(subject.Key(), now) {
		return types.StepResult{}, httperr.NewTooManyRequests("verification attempted too quickly")
	}

	var kind types.Kind
	_, err := s.mutate(ctx, subject, flowID, func(f *types.Flow, ctrl *stepflow.Controller) error {
		tpl, ok := types.LookupTemplate(f.Template)
		if !ok {
			return fmt.Errorf("verification: flow %s has unknown template %q", f.ID, f.Template)
		}
		k, ok := tpl.KindOf(stepID)
		if !ok {
			return stepflow.ErrUnknownStep
		}
		kind = k
		_, err := ctrl.BeginStep(stepID)
		return err
	})
	if err != nil {
		return types.StepResult{}, err
	}

	started := time.Now()
	outcome := s.verify(ctx, kind, payload)
	settledAt := s.settledAt(now, started)
	accepted, err := s.opts.Acceptance.Accept(rules.Input{
		Kind:    string(kind),
		Success: outcome.Success,
		Score:   outcome.Score,
		Data:    outcome.Data,
	})
	if err != nil {
		s.opts.Logger.ErrorContext(ctx, "acceptance rule failed", "kind", kind, "err", err)
		accepted = false
		if outcome.ErrorMessage == "" {
			outcome.ErrorMessage = "acceptance rule failed"
		}
	}
	if !accepted && outcome.ErrorMessage == "" {
		outcome.ErrorMessage = fmt.Sprintf("score %.2f below threshold", outcome.Score)
	}

	result := stepflow.Failure
	if accepted {
		result = stepflow.Success
	}

	// The provider call may have outlived the request; the outcome must still
	// be recorded or the step stays in progress.
	persistCtx := context.WithoutCancel(ctx)
	flow, err := s.mutate(persistCtx, subject, flowID, func(_ *types.Flow, ctrl *stepflow.Controller) error {
		_, err := ctrl.CompleteStep(stepID, result, settledAt)
		return err
	})
	if err != nil {
		return types.StepResult{}, err
	}

	rec, err := s.record(flow, stepID, kind, outcome, accepted, settledAt)
	if err != nil {
		return types.StepResult{}, err
	}
	if err := s.store.AppendRecord(persistCtx, rec); err != nil {
		return types.StepResult{}, err
	}

	s.opts.Logger.InfoContext(ctx, "verification step settled",
		"tenant_id", subject.TenantID, "flow_id", flowID, "step_id", stepID, "kind", kind,
		"outcome", result, "score", outcome.Score)

	if s.opts.Notifier != nil && flowComplete(flow) {
		if err := s.opts.Notifier.FlowCompleted(persistCtx, flow); err != nil {
			s.opts.Logger.WarnContext(ctx, "completion notifier failed", "flow_id", flowID, "err", err)
		}
	}

	return types.StepResult{Flow: flow, Record: rec, Outcome: outcome}, nil
}

func (s *VerificationService) RetryStep(ctx context.Context, subject types.Subject, flowID string, stepID string) (types.Flow, error) {
	return s.mutate(ctx, subject, flowID, func(_ *types.Flow, ctrl *stepflow.Controller) error {
		_, err := ctrl.RetryStep(stepID)
		return err
	})
}

func (s *VerificationService) AdvancePhase(ctx context.Context, subject types.Subject, flowID string, phase string) (types.Flow, error) {
	return s.mutate(ctx, subject, flowID, func(_ *types.Flow, ctrl *stepflow.Controller) error {
		_, err := ctrl.AdvancePhase(phase)
		return err
	})
}

func (s *VerificationService) mutate(ctx context.Context, subject types.Subject, flowID string, fn func(*types.Flow, *stepflow.Controller) error) (types.Flow, error) {
	flow, err := s.store.UpdateFlow(ctx, subject.TenantID, flowID, func(f *types.Flow) error {
		if !f.OwnedBy(subject) {
			return httperr.NewNotFound("flow not found")
		}
		ctrl, err := stepflow.Restore(f.State)
		if err != nil {
			return err
		}
		if err := fn(f, ctrl); err != nil {
			return err
		}
		f.State = ctrl.Snapshot()
		return nil
	})
	if err != nil {
		return types.Flow{}, mapFlowError(err)
	}
	return flow, nil
}

func (s *VerificationService) verify(ctx context.Context, kind types.Kind, payload types.Payload) types.Outcome {
	if kind == types.KindLivenessCheck && len(payload.Frames) < s.opts.MinLivenessFrames {
		return types.Outcome{
			ErrorMessage: fmt.Sprintf("liveness needs at least %d frames", s.opts.MinLivenessFrames),
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancel()

	out, err := s.verifier.PerformVerification(callCtx, kind, payload)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			msg = "verification timed out"
		}
		s.opts.Logger.WarnContext(ctx, "verification provider failed", "kind", kind, "err", err)
		return types.Outcome{ErrorMessage: msg}
	}
	return out
}

func (s *VerificationService) record(flow types.Flow, stepID string, kind types.Kind, outcome types.Outcome, accepted bool, now time.Time) (types.Record, error) {
	id, err := s.opts.NewID(now)
	if err != nil {
		return types.Record{}, err
	}
	rec := types.Record{
		ID:         id,
		FlowID:     flow.ID,
		TenantID:   flow.TenantID,
		EntityType: flow.EntityType,
		EntityID:   flow.EntityID,
		StepID:     stepID,
		Kind:       kind,
		Status:     types.RecordPassed,
		VerifiedAt: now,
	}
	if kind == types.KindFaceMatch || kind == types.KindLivenessCheck {
		score := outcome.Score
		rec.MatchScore = &score
	}
	if !accepted {
		rec.Status = types.RecordFailed
		rec.FailedReason = outcome.ErrorMessage
	}
	return rec, nil
}

func (s *VerificationService) settledAt(begunAt time.Time, started time.Time) time.Time {
	if s.opts.Clock == nil {
		return begunAt.Add(time.Since(started))
	}
	if t := s.opts.Clock(); t.After(begunAt) {
		return t
	}
	return begunAt
}

// allow applies the per-entity rate limit. A limiter idle for longer than
// MinInterval has refilled its single token, so it is indistinguishable from
// a fresh one and is dropped on the next sweep.
func (s *VerificationService) allow(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= s.opts.MinInterval {
		for k, e := range s.limiters {
			if now.Sub(e.lastSeen) > s.opts.MinInterval {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}

	e, ok := s.limiters[key]
	if !ok {
		e = &entityLimiter{lim: rate.NewLimiter(rate.Every(s.opts.MinInterval), 1)}
		s.limiters[key] = e
	}
	if now.After(e.lastSeen) {
		e.lastSeen = now
	}
	return e.lim.AllowN(now, 1)
}

func flowComplete(f types.Flow) bool {
	ctrl, err := stepflow.Restore(f.State)
	if err != nil {
		return false
	}
	return ctrl.IsComplete()
}

func mapFlowError(err error) error {
	switch {
	case errors.Is(err, stepflow.ErrUnknownStep):
		return httperr.NewNotFound("step not found")
	case errors.Is(err, stepflow.ErrOutOfOrderStep):
		return httperr.NewConflict("step_out_of_order", err.Error())
	case errors.Is(err, stepflow.ErrInvalidTransition):
		return httperr.NewConflict("invalid_transition", err.Error())
	case errors.Is(err, stepflow.ErrPhaseNotReady):
		return httperr.NewConflict("phase_not_ready", err.Error())
	default:
		return err
	}
}
