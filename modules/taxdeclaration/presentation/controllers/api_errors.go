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
	Reasons []string          `json:"reasons,omitempty"`
	Meta    errorEnvelopeMeta `json:"meta"`
}

type errorEnvelopeMeta struct {
	Path   string `json:"path"`
	Method string `json:"method"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string, reasons ...string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Code:    code,
		Message: message,
		TraceID: traceIDFromRequest(r),
		Reasons: reasons,
		Meta: errorEnvelopeMeta{
			Path:   r.URL.Path,
			Method: r.Method,
		},
	})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallbackCode string) {
	status := httperr.Status(err)
	switch {
	case httperr.IsBadRequest(err):
		writeError(w, r, status, "invalid_request", err.Error())
	case httperr.IsNotFound(err):
		writeError(w, r, status, "not_found", err.Error())
	case httperr.IsConflict(err):
		ce, _ := errors.AsType[*httperr.ConflictError](err)
		writeError(w, r, status, ce.Code, ce.Error(), ce.Reasons...)
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
	case "22P02", "22003":
		return true
	default:
		return false
	}
}

func traceIDFromRequest(r *http.Request) string {
	parts := strings.Split(strings.TrimSpace(r.Header.Get("traceparent")), "-")
	if len(parts) != 4 {
		return ""
	}
	traceID := strings.ToLower(parts[1])
	if len(traceID) != 32 || strings.Trim(traceID, "0") == "" {
		return ""
	}
	for _, ch := range traceID {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return ""
		}
	}
	return traceID
}
