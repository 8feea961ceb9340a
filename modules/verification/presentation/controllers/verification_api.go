package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/jacksonlee411/payroll-portal/modules/verification/domain/types"
	"github.com/jacksonlee411/payroll-portal/modules/verification/services"
)

type SubjectGetter func(ctx context.Context) (types.Subject, bool)

type VerificationController struct {
	Subject SubjectGetter
	NowUTC  func() time.Time
	Service *services.VerificationService
}

type startFlowAPIRequest struct {
	Template string `json:"template"`
}

type runStepAPIRequest struct {
	FlowID  string        `json:"flow_id"`
	StepID  string        `json:"step_id"`
	Payload types.Payload `json:"payload"`
}

type retryStepAPIRequest struct {
	FlowID string `json:"flow_id"`
	StepID string `json:"step_id"`
}

type advancePhaseAPIRequest struct {
	FlowID string `json:"flow_id"`
	Phase  string `json:"phase"`
}

func (c VerificationController) now() time.Time {
	if c.NowUTC != nil {
		return c.NowUTC().UTC()
	}
	return time.Now().UTC()
}

func (c VerificationController) subject(w http.ResponseWriter, r *http.Request) (types.Subject, bool) {
	s, ok := c.Subject(r.Context())
	if !ok {
		writeError(w, r, http.StatusForbidden, "subject_missing", "no verifiable entity for this principal")
		return types.Subject{}, false
	}
	return s, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return false
	}
	return true
}

// HandleFlowsAPI serves GET (load by flow_id) and POST (start) on /kyc/api/flows.
func (c VerificationController) HandleFlowsAPI(w http.ResponseWriter, r *http.Request) {
	subject, ok := c.subject(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		flowID := strings.TrimSpace(r.URL.Query().Get("flow_id"))
		if flowID == "" {
			writeError(w, r, http.StatusBadRequest, "missing_flow_id", "flow_id is required")
			return
		}
		flow, err := c.Service.GetFlow(r.Context(), subject, flowID)
		if err != nil {
			writeServiceError(w, r, err, "flow_load_failed")
			return
		}
		writeJSON(w, http.StatusOK, flow)

	case http.MethodPost:
		var req startFlowAPIRequest
		if !decodeBody(w, r, &req) {
			return
		}
		flow, err := c.Service.StartFlow(r.Context(), subject, req.Template, c.now())
		if err != nil {
			writeServiceError(w, r, err, "flow_start_failed")
			return
		}
		writeJSON(w, http.StatusCreated, flow)

	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (c VerificationController) HandleRunStepAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	subject, ok := c.subject(w, r)
	if !ok {
		return
	}
	var req runStepAPIRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.FlowID = strings.TrimSpace(req.FlowID)
	req.StepID = strings.TrimSpace(req.StepID)
	if req.FlowID == "" || req.StepID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "flow_id and step_id are required")
		return
	}

	res, err := c.Service.RunStep(r.Context(), subject, req.FlowID, req.StepID, req.Payload, c.now())
	if err != nil {
		writeServiceError(w, r, err, "step_failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c VerificationController) HandleRetryStepAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	subject, ok := c.subject(w, r)
	if !ok {
		return
	}
	var req retryStepAPIRequest
	if !decodeBody(w, r, &req) {
		return
	}
	flow, err := c.Service.RetryStep(r.Context(), subject, strings.TrimSpace(req.FlowID), strings.TrimSpace(req.StepID))
	if err != nil {
		writeServiceError(w, r, err, "retry_failed")
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

func (c VerificationController) HandleAdvancePhaseAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	subject, ok := c.subject(w, r)
	if !ok {
		return
	}
	var req advancePhaseAPIRequest
	if !decodeBody(w, r, &req) {
		return
	}
	flow, err := c.Service.AdvancePhase(r.Context(), subject, strings.TrimSpace(req.FlowID), req.Phase)
	if err != nil {
		writeServiceError(w, r, err, "advance_failed")
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

func (c VerificationController) HandleRecordsAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	subject, ok := c.subject(w, r)
	if !ok {
		return
	}
	flowID := strings.TrimSpace(r.URL.Query().Get("flow_id"))
	if flowID == "" {
		writeError(w, r, http.StatusBadRequest, "missing_flow_id", "flow_id is required")
		return
	}
	recs, err := c.Service.ListRecords(r.Context(), subject, flowID)
	if err != nil {
		writeServiceError(w, r, err, "records_load_failed")
		return
	}
	if recs == nil {
		recs = make([]types.Record, 0)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"flow_id": flowID,
		"records": recs,
	})
}

func (c VerificationController) HandleTemplatesAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": types.ListTemplates()})
}
