package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jacksonlee411/payroll-portal/pkg/httperr"
)

type errorEnvelope struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	TraceID string            `json:"trace_id"`
	Meta    errorEnvelopeMeta `json:"meta"`
}

type errorEnvelopeMeta struct {
	Path   string `json:"path"`
	Method string `json:"method"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Code:    code,
		Message: message,
		TraceID: traceIDFromRequest(r),
		Meta: errorEnvelopeMeta{
			Path:   r.URL.Path,
			Method: r.Method,
		},
	})
}

// writeServiceError maps service errors onto the envelope. Untyped errors
// keep fallbackCode and never leak their text.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallbackCode string) {
	status := httperr.Status(err)
	switch {
	case httperr.IsBadRequest(err):
		writeError(w, r, status, "invalid_request", err.Error())
	case httperr.IsNotFound(err):
		writeError(w, r, status, "not_found", err.Error())
	case httperr.IsConflict(err):
		ce, _ := errors.AsType[*httperr.ConflictError](err)
		writeError(w, r, status, ce.Code, ce.Error())
	case httperr.IsTooManyRequests(err):
		writeError(w, r, status, "rate_limited", err.Error())
	case isPgInvalidInput(err):
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid identifier")
	default:
		writeError(w, r, status, fallbackCode, fallbackCode)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func isPgInvalidInput(err error) bool {
	pgErr, ok := errors.AsType[*pgconn.PgError](err)
	if !ok || pgErr == nil {
		return false
	}
	switch strings.TrimSpace(pgErr.Code) {
	case "22P02", "22003", "22007", "22008":
		return true
	default:
		return false
	}
}

func traceIDFromRequest(r *http.Request) string {
	traceparent := strings.TrimSpace(r.Header.Get("traceparent"))
	if traceparent == "" {
		return ""
	}
	parts := strings.Split(traceparent, "-")
	if len(parts) != 4 {
		return ""
	}
	traceID := strings.ToLower(parts[1])
	if len(traceID) != 32 || traceID == "00000000000000000000000000000000" {
		return ""
	}
	for _, ch := range traceID {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return ""
		}
	}
	return traceID
}
