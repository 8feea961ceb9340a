// Package stepflow drives an ordered list of verification steps through
// pending -> in_progress -> completed|failed, with failed -> pending as the
// only backward edge. Steps are grouped into phases that only move forward.
//
// A Controller has a single writer. It records outcomes reported by the
// caller and never runs verification work itself.
package stepflow

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Settled reports whether the step has received its outcome.
func (s Status) Settled() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"
)

var (
	ErrInvalidDefinition = errors.New("stepflow: invalid definition")
	ErrOutOfOrderStep    = errors.New("stepflow: out of order step")
	ErrInvalidTransition = errors.New("stepflow: invalid transition")
	ErrPhaseNotReady     = errors.New("stepflow: phase not ready")
	ErrUnknownStep       = errors.New("stepflow: unknown step")
)

type StepDefinition struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Phase string `json:"phase" yaml:"phase"`
}

type Step struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Phase     string     `json:"phase,omitempty"`
	Status    Status     `json:"status"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type Flow struct {
	Steps        []Step   `json:"steps"`
	Phases       []string `json:"phases"`
	CurrentPhase string   `json:"current_phase"`
}

type Controller struct {
	flow  Flow
	index map[string]int
}

func New(defs []StepDefinition) (*Controller, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrInvalidDefinition)
	}

	steps := make([]Step, 0, len(defs))
	var phases []string
	seenPhase := make(map[string]bool)
	for _, d := range defs {
		steps = append(steps, Step{
			ID:     strings.TrimSpace(d.ID),
			Name:   d.Name,
			Phase:  strings.TrimSpace(d.Phase),
			Status: StatusPending,
		})
		p := strings.TrimSpace(d.Phase)
		if p != "" && !seenPhase[p] {
			seenPhase[p] = true
			phases = append(phases, p)
		}
	}

	index, err := indexSteps(steps)
	if err != nil {
		return nil, err
	}
	return &Controller{flow: Flow{Steps: steps, Phases: phases}, index: index}, nil
}

// Restore resumes a persisted flow after checking the ordering invariants.
func Restore(f Flow) (*Controller, error) {
	if len(f.Steps) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrInvalidDefinition)
	}
	f = cloneFlow(f)

	index, err := indexSteps(f.Steps)
	if err != nil {
		return nil, err
	}

	phaseIdx := make(map[string]int, len(f.Phases))
	for i, p := range f.Phases {
		if p == "" {
			return nil, fmt.Errorf("%w: empty phase", ErrInvalidDefinition)
		}
		if _, dup := phaseIdx[p]; dup {
			return nil, fmt.Errorf("%w: duplicate phase %q", ErrInvalidDefinition, p)
		}
		phaseIdx[p] = i
	}
	if f.CurrentPhase != "" {
		if _, ok := phaseIdx[f.CurrentPhase]; !ok {
			return nil, fmt.Errorf("%w: unknown current phase %q", ErrInvalidDefinition, f.CurrentPhase)
		}
	}

	// Only completed steps may precede the frontier step; everything after
	// it is still pending.
	frontier := ""
	for _, s := range f.Steps {
		if !s.Status.Valid() {
			return nil, fmt.Errorf("%w: step %q has status %q", ErrInvalidDefinition, s.ID, s.Status)
		}
		if s.Phase != "" {
			if _, ok := phaseIdx[s.Phase]; !ok {
				return nil, fmt.Errorf("%w: step %q references unknown phase %q", ErrInvalidDefinition, s.ID, s.Phase)
			}
		}
		if frontier != "" {
			if s.Status != StatusPending {
				return nil, fmt.Errorf("%w: step %q is %s after %q", ErrInvalidDefinition, s.ID, s.Status, frontier)
			}
			continue
		}
		if s.Status != StatusCompleted {
			frontier = s.ID
		}
	}

	return &Controller{flow: f, index: index}, nil
}

func indexSteps(steps []Step) (map[string]int, error) {
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		if s.ID == "" {
			return nil, fmt.Errorf("%w: step %d has empty id", ErrInvalidDefinition, i)
		}
		if _, dup := index[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate step id %q", ErrInvalidDefinition, s.ID)
		}
		index[s.ID] = i
	}
	return index, nil
}

func (c *Controller) BeginStep(id string) (Flow, error) {
	i, err := c.lookup(id)
	if err != nil {
		return Flow{}, err
	}

	next, ok := c.nextStartable()
	if !ok || next != i {
		return Flow{}, fmt.Errorf("%w: %q is not next in line", ErrOutOfOrderStep, id)
	}

	c.flow.Steps[i].Status = StatusInProgress
	c.flow.Steps[i].Timestamp = nil
	return c.Snapshot(), nil
}

// nextStartable returns the first pending step, provided nothing before it
// is still in progress or failed.
func (c *Controller) nextStartable() (int, bool) {
	for i, s := range c.flow.Steps {
		switch s.Status {
		case StatusCompleted:
			continue
		case StatusPending:
			return i, true
		default:
			return -1, false
		}
	}
	return -1, false
}

func (c *Controller) CompleteStep(id string, outcome Outcome, at time.Time) (Flow, error) {
	i, err := c.lookup(id)
	if err != nil {
		return Flow{}, err
	}
	if c.flow.Steps[i].Status != StatusInProgress {
		return Flow{}, fmt.Errorf("%w: %q is %s, not in_progress", ErrInvalidTransition, id, c.flow.Steps[i].Status)
	}

	switch outcome {
	case Success:
		c.flow.Steps[i].Status = StatusCompleted
	case Failure:
		c.flow.Steps[i].Status = StatusFailed
	default:
		return Flow{}, fmt.Errorf("%w: unknown outcome %q", ErrInvalidTransition, outcome)
	}
	ts := at
	c.flow.Steps[i].Timestamp = &ts
	return c.Snapshot(), nil
}

func (c *Controller) RetryStep(id string) (Flow, error) {
	i, err := c.lookup(id)
	if err != nil {
		return Flow{}, err
	}
	if c.flow.Steps[i].Status != StatusFailed {
		return Flow{}, fmt.Errorf("%w: %q is %s, only failed steps can be retried", ErrInvalidTransition, id, c.flow.Steps[i].Status)
	}
	c.flow.Steps[i].Status = StatusPending
	c.flow.Steps[i].Timestamp = nil
	return c.Snapshot(), nil
}

func (c *Controller) AdvancePhase(next string) (Flow, error) {
	next = strings.TrimSpace(next)
	target := c.phaseIndex(next)
	if target < 0 {
		return Flow{}, fmt.Errorf("%w: unknown phase %q", ErrInvalidTransition, next)
	}
	current := c.phaseIndex(c.flow.CurrentPhase)
	if target <= current {
		return Flow{}, fmt.Errorf("%w: phase %q is not after %q", ErrInvalidTransition, next, c.flow.CurrentPhase)
	}

	// The current phase and any phase jumped over must be fully completed.
	for p := max(current, 0); p < target; p++ {
		if id, ok := c.firstIncompleteIn(c.flow.Phases[p]); ok {
			return Flow{}, fmt.Errorf("%w: step %q in phase %q is not completed", ErrPhaseNotReady, id, c.flow.Phases[p])
		}
	}

	c.flow.CurrentPhase = next
	return c.Snapshot(), nil
}

func (c *Controller) phaseIndex(p string) int {
	if p == "" {
		return -1
	}
	for i, name := range c.flow.Phases {
		if name == p {
			return i
		}
	}
	return -1
}

func (c *Controller) firstIncompleteIn(phase string) (string, bool) {
	for _, s := range c.flow.Steps {
		if s.Phase == phase && s.Status != StatusCompleted {
			return s.ID, true
		}
	}
	return "", false
}

// PhaseComplete reports whether every step of the current phase is completed.
// A flow without a current phase is never phase-complete.
func (c *Controller) PhaseComplete() bool {
	if c.flow.CurrentPhase == "" {
		return false
	}
	_, incomplete := c.firstIncompleteIn(c.flow.CurrentPhase)
	return !incomplete
}

func (c *Controller) IsComplete() bool {
	for _, s := range c.flow.Steps {
		if s.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Current returns the step the caller should act on: the one in progress,
// the failed one awaiting retry, or the next pending step.
func (c *Controller) Current() (Step, bool) {
	for _, s := range c.flow.Steps {
		if s.Status != StatusCompleted {
			return s, true
		}
	}
	return Step{}, false
}

func (c *Controller) Step(id string) (Step, bool) {
	i, ok := c.index[id]
	if !ok {
		return Step{}, false
	}
	return c.flow.Steps[i], true
}

func (c *Controller) Snapshot() Flow {
	return cloneFlow(c.flow)
}

func (c *Controller) lookup(id string) (int, error) {
	i, ok := c.index[strings.TrimSpace(id)]
	if !ok {
		return -1, fmt.Errorf("%w: %q", ErrUnknownStep, id)
	}
	return i, nil
}

func cloneFlow(f Flow) Flow {
	out := Flow{
		Steps:        make([]Step, len(f.Steps)),
		Phases:       append([]string(nil), f.Phases...),
		CurrentPhase: f.CurrentPhase,
	}
	for i, s := range f.Steps {
		if s.Timestamp != nil {
			ts := *s.Timestamp
			s.Timestamp = &ts
		}
		out.Steps[i] = s
	}
	return out
}
