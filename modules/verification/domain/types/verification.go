package types

import (
	"strings"
	"time"

	"github.com/jacksonlee411/payroll-portal/pkg/stepflow"
)

type Kind string

const (
	KindDocumentUpload Kind = "document_upload"
	KindSelfieCapture  Kind = "selfie_capture"
	KindLivenessCheck  Kind = "liveness_check"
	KindFaceMatch      Kind = "face_match"
	KindDocumentCheck  Kind = "document_check"
)

func (k Kind) Valid() bool {
	switch k {
	case KindDocumentUpload, KindSelfieCapture, KindLivenessCheck, KindFaceMatch, KindDocumentCheck:
		return true
	default:
		return false
	}
}

type EntityType string

const (
	EntityEmployee   EntityType = "employee"
	EntityContractor EntityType = "contractor"
)

// Subject is the entity a flow belongs to. It is resolved from the request
// principal and never taken from the request body.
type Subject struct {
	TenantID   string     `json:"tenant_id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
}

func (s Subject) Valid() bool {
	if strings.TrimSpace(s.TenantID) == "" || strings.TrimSpace(s.EntityID) == "" {
		return false
	}
	return s.EntityType == EntityEmployee || s.EntityType == EntityContractor
}

func (s Subject) Key() string {
	return s.TenantID + "/" + string(s.EntityType) + "/" + s.EntityID
}

// Payload is what the client captured for a step. Binary media is uploaded
// out of band; only object references travel here.
type Payload struct {
	DocumentType string            `json:"document_type,omitempty"`
	DocumentRef  string            `json:"document_ref,omitempty"`
	ImageRef     string            `json:"image_ref,omitempty"`
	ReferenceRef string            `json:"reference_ref,omitempty"`
	Frames       []string          `json:"frames,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

type Outcome struct {
	Success      bool           `json:"success"`
	Score        float64        `json:"score"`
	Data         map[string]any `json:"data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

type Flow struct {
	ID         string        `json:"flow_id"`
	TenantID   string        `json:"tenant_id"`
	EntityType EntityType    `json:"entity_type"`
	EntityID   string        `json:"entity_id"`
	Template   string        `json:"template"`
	Version    int64         `json:"version"`
	State      stepflow.Flow `json:"state"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

func (f Flow) OwnedBy(s Subject) bool {
	return f.TenantID == s.TenantID && f.EntityType == s.EntityType && f.EntityID == s.EntityID
}

type RecordStatus string

const (
	RecordPassed RecordStatus = "passed"
	RecordFailed RecordStatus = "failed"
)

// Record is the audit trail entry written for every settled step.
type Record struct {
	ID           string       `json:"record_id"`
	FlowID       string       `json:"flow_id"`
	TenantID     string       `json:"tenant_id"`
	EntityType   EntityType   `json:"entity_type"`
	EntityID     string       `json:"entity_id"`
	StepID       string       `json:"step_id"`
	Kind         Kind         `json:"kind"`
	Status       RecordStatus `json:"status"`
	MatchScore   *float64     `json:"match_score,omitempty"`
	FailedReason string       `json:"failed_reason,omitempty"`
	VerifiedAt   time.Time    `json:"verified_at"`
}

type StepResult struct {
	Flow    Flow    `json:"flow"`
	Record  Record  `json:"record"`
	Outcome Outcome `json:"outcome"`
}
