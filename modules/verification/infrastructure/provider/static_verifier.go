package provider

import (
	"context"

	"github.com/jacksonlee411/payroll-portal/modules/verification/domain/ports"
	"github.com/jacksonlee411/payroll-portal/modules/verification/domain/types"
)

// StaticVerifier answers every request locally with a fixed score. It backs
// development tenants that have no provider contract.
type StaticVerifier struct {
	Score  float64
	Scores map[types.Kind]float64
	Fail   map[types.Kind]string
}

var _ ports.Verifier = StaticVerifier{}

func (v StaticVerifier) PerformVerification(ctx context.Context, kind types.Kind, payload types.Payload) (types.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return types.Outcome{}, err
	}
	if msg, ok := v.Fail[kind]; ok {
		return types.Outcome{Success: false, ErrorMessage: msg}, nil
	}
	score := v.Score
	if s, ok := v.Scores[kind]; ok {
		score = s
	}
	out := types.Outcome{Success: true, Score: score}
	if payload.DocumentType != "" {
		out.Data = map[string]any{"document_type": payload.DocumentType}
	}
	return out, nil
}
