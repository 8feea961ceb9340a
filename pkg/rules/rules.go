package rules

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Input is the activation exposed to acceptance expressions as the
// variables success, score, kind and data.
type Input struct {
	Kind    string
	Success bool
	Score   float64
	Data    map[string]any
}

// DefaultAcceptance holds the provider score thresholds used when the
// configuration does not override them.
var DefaultAcceptance = map[string]string{
	"face_match":     "success && score >= 75.0",
	"liveness_check": "success && score >= 85.0",
}

var ErrNoExpression = errors.New("expression required")

var newAcceptanceEnv = func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("success", cel.BoolType),
		cel.Variable("score", cel.DoubleType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// Acceptance decides whether a provider outcome counts as a pass. Kinds
// without an expression fall back to the provider's own success flag.
type Acceptance struct {
	exprs    map[string]string
	programs sync.Map
}

func NewAcceptance(exprs map[string]string) (*Acceptance, error) {
	a := &Acceptance{exprs: make(map[string]string, len(exprs))}
	for kind, expr := range exprs {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		if _, err := a.program(expr); err != nil {
			return nil, fmt.Errorf("rules: %s: %w", kind, err)
		}
		a.exprs[kind] = expr
	}
	return a, nil
}

func (a *Acceptance) Expression(kind string) (string, bool) {
	expr, ok := a.exprs[kind]
	return expr, ok
}

func (a *Acceptance) Accept(in Input) (bool, error) {
	expr, ok := a.exprs[in.Kind]
	if !ok {
		return in.Success, nil
	}
	program, err := a.program(expr)
	if err != nil {
		return false, err
	}
	data := in.Data
	if data == nil {
		data = map[string]any{}
	}
	out, _, err := program.Eval(map[string]any{
		"success": in.Success,
		"score":   in.Score,
		"kind":    in.Kind,
		"data":    data,
	})
	if err != nil {
		return false, err
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("expression must return bool")
	}
	return v, nil
}

func (a *Acceptance) program(expr string) (cel.Program, error) {
	if cached, ok := a.programs.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	program, err := compile(expr)
	if err != nil {
		return nil, err
	}
	a.programs.Store(expr, program)
	return program, nil
}

// Validate reports whether expr compiles to a boolean acceptance rule.
func Validate(expr string) error {
	_, err := compile(expr)
	return err
}

func compile(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, ErrNoExpression
	}
	env, err := newAcceptanceEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.New("expression must return bool")
	}
	return env.Program(ast)
}
