package declpolicy

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/open-policy-agent/opa/v1/rego"
)

//go:embed declaration.rego
var defaultModule string

const query = "data.payroll.declaration"

// Input is the document the submission policy sees as `input`.
type Input struct {
	Status              string   `json:"status"`
	WindowOpen          bool     `json:"window_open"`
	EntryCount          int      `json:"entry_count"`
	InvalidEntries      []int    `json:"invalid_entries"`
	UnknownCategories   []string `json:"unknown_categories"`
	OverLimitCategories []string `json:"over_limit_categories"`
}

type Decision struct {
	Allowed  bool     `json:"allowed"`
	Reasons  []string `json:"reasons,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type Policy struct {
	pq rego.PreparedEvalQuery
}

// New prepares the built-in submission policy.
func New(ctx context.Context) (*Policy, error) {
	return NewFromModule(ctx, "declaration.rego", defaultModule)
}

// Load prepares a policy from a rego file on disk. An empty path selects the
// built-in policy.
func Load(ctx context.Context, path string) (*Policy, error) {
	if path == "" {
		return New(ctx)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewFromModule(ctx, path, string(b))
}

func NewFromModule(ctx context.Context, name string, module string) (*Policy, error) {
	pq, err := rego.New(
		rego.Query(query),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("declpolicy: %w", err)
	}
	return &Policy{pq: pq}, nil
}

func (p *Policy) Evaluate(ctx context.Context, in Input) (Decision, error) {
	if in.InvalidEntries == nil {
		in.InvalidEntries = []int{}
	}
	if in.UnknownCategories == nil {
		in.UnknownCategories = []string{}
	}
	if in.OverLimitCategories == nil {
		in.OverLimitCategories = []string{}
	}

	rs, err := p.pq.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return Decision{}, fmt.Errorf("declpolicy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, errors.New("declpolicy: policy produced no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{}, errors.New("declpolicy: unexpected result shape")
	}

	d := Decision{
		Reasons:  stringSet(doc["deny"]),
		Warnings: stringSet(doc["warn"]),
	}
	allow, _ := doc["allow"].(bool)
	d.Allowed = allow && len(d.Reasons) == 0
	return d, nil
}

func stringSet(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
