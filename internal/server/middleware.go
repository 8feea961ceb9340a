package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jacksonlee411/payroll-portal/internal/routing"
	"github.com/jacksonlee411/payroll-portal/pkg/authz"
)

func withTenantAndPrincipal(classifier *routing.Classifier, tenants TenancyResolver, principals PrincipalResolver, trustProxy bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !classifier.Classify(r.URL.Path).Tenanted() {
			next.ServeHTTP(w, r)
			return
		}

		t, ok, err := tenants.ResolveTenant(r.Context(), tenantHost(r, trustProxy))
		if err != nil {
			routing.WriteError(w, r, http.StatusInternalServerError, "tenant_resolve_error", "tenant resolve error")
			return
		}
		if !ok {
			routing.WriteError(w, r, http.StatusNotFound, "tenant_not_found", "tenant not found")
			return
		}
		r = r.WithContext(withTenant(r.Context(), t))

		p, ok := principals.ResolvePrincipal(r, t)
		if !ok {
			routing.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		r = r.WithContext(withPrincipal(r.Context(), p))

		next.ServeHTTP(w, r)
	})
}

type authorizer interface {
	Authorize(subject string, domain string, object string, action string) (allowed bool, enforced bool, err error)
}

// withAuthz checks the allowlist requirement of the route. Undeclared
// method/path pairs pass through so the router can answer 404 or 405.
func withAuthz(classifier *routing.Classifier, a authorizer, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acc, declared := classifier.Requirement(r.Method, r.URL.Path)
		if !declared || acc.Empty() {
			next.ServeHTTP(w, r)
			return
		}

		tenant, ok := currentTenant(r.Context())
		if !ok {
			routing.WriteError(w, r, http.StatusInternalServerError, "tenant_missing", "tenant missing")
			return
		}

		roleSlug := authz.RoleAnonymous
		if p, ok := currentPrincipal(r.Context()); ok {
			roleSlug = p.RoleSlug
		}

		subject := authz.SubjectFromRoleSlug(roleSlug)
		domain := authz.DomainFromTenantID(tenant.ID)

		allowed, enforced, err := a.Authorize(subject, domain, acc.Object, acc.Action)
		if err != nil {
			routing.WriteError(w, r, http.StatusInternalServerError, "authz_error", "authz error")
			return
		}
		if !allowed {
			logger.WarnContext(r.Context(), "authz denied",
				"subject", subject,
				"domain", domain,
				"object", acc.Object,
				"action", acc.Action,
				"enforced", enforced,
			)
			if enforced {
				routing.WriteError(w, r, http.StatusForbidden, "forbidden", "forbidden")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func withRequestLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if traceID := routing.TraceID(r); traceID != "" {
			attrs = append(attrs, "trace_id", traceID)
		}
		logger.InfoContext(r.Context(), "http request", attrs...)
	})
}
