package routing

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
)

type Router struct {
	classifier *Classifier
	logger     *slog.Logger
	routes     map[string]map[string]http.Handler
}

func NewRouter(classifier *Classifier, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		classifier: classifier,
		logger:     logger,
		routes:     make(map[string]map[string]http.Handler),
	}
}

func (r *Router) Handle(method string, path string, h http.Handler) {
	if r.routes[path] == nil {
		r.routes[path] = make(map[string]http.Handler)
	}

	r.routes[path][method] = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.ErrorContext(req.Context(), "handler panic",
					"method", req.Method,
					"path", req.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				WriteError(w, req, http.StatusInternalServerError, "internal_error", "internal error")
			}
		}()
		h.ServeHTTP(w, req)
	})
}

// Undeclared returns registered "METHOD path" pairs the allowlist does not
// declare, and Unregistered the declared pairs with no handler.
func (r *Router) Undeclared() []string {
	var out []string
	for path, methods := range r.routes {
		for m := range methods {
			if _, ok := r.classifier.Requirement(m, path); !ok {
				out = append(out, m+" "+path)
			}
		}
	}
	slices.Sort(out)
	return out
}

func (r *Router) Unregistered() []string {
	var out []string
	for _, pair := range r.classifier.Declared() {
		m, path, _ := strings.Cut(pair, " ")
		if _, ok := r.routes[path][m]; !ok {
			out = append(out, pair)
		}
	}
	return out
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	methods, ok := r.routes[req.URL.Path]
	if !ok {
		WriteError(w, req, http.StatusNotFound, "not_found", "not found")
		return
	}
	h, ok := methods[req.Method]
	if !ok {
		allow := make([]string, 0, len(methods))
		for m := range methods {
			allow = append(allow, m)
		}
		slices.Sort(allow)
		w.Header().Set("Allow", strings.Join(allow, ", "))
		WriteError(w, req, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	h.ServeHTTP(w, req)
}
