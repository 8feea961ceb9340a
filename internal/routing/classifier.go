package routing

import (
	"errors"
	"slices"
	"strings"
)

type RouteClass string

const (
	RouteClassInternalAPI RouteClass = "internal_api"
	RouteClassPublicAPI   RouteClass = "public_api"
	RouteClassWebhook     RouteClass = "webhook"
	RouteClassOps         RouteClass = "ops"
)

func (rc RouteClass) known() bool {
	switch rc {
	case RouteClassInternalAPI, RouteClassPublicAPI, RouteClassWebhook, RouteClassOps:
		return true
	default:
		return false
	}
}

// Tenanted reports whether requests of this class must resolve a tenant
// and principal before reaching a handler.
func (rc RouteClass) Tenanted() bool {
	return rc == RouteClassInternalAPI || rc == RouteClassPublicAPI
}

type Classifier struct {
	entrypoint string
	routes     map[string]Route
}

func NewClassifier(a Allowlist, entrypoint string) (*Classifier, error) {
	ep, ok := a.Entrypoints[entrypoint]
	if !ok {
		return nil, errors.New("allowlist: missing entrypoint")
	}
	if len(ep.Routes) == 0 {
		return nil, errors.New("allowlist: entrypoint routes empty")
	}

	routes := make(map[string]Route, len(ep.Routes))
	for _, r := range ep.Routes {
		if r.Path == "" || r.RouteClass == "" {
			return nil, errors.New("allowlist: invalid route")
		}
		if _, dup := routes[r.Path]; dup {
			return nil, errors.New("allowlist: duplicate route " + r.Path)
		}
		routes[r.Path] = r
	}
	return &Classifier{entrypoint: entrypoint, routes: routes}, nil
}

func (c *Classifier) Classify(path string) RouteClass {
	if r, ok := c.routes[path]; ok {
		return RouteClass(r.RouteClass)
	}

	switch {
	case hasPrefixSegment(path, "/api/v1"):
		return RouteClassPublicAPI
	case isModuleInternalAPI(path):
		return RouteClassInternalAPI
	case hasPrefixSegment(path, "/webhooks"):
		return RouteClassWebhook
	default:
		return RouteClassOps
	}
}

// Requirement returns the declared access for method on path. ok is false
// when the allowlist does not declare the pair at all.
func (c *Classifier) Requirement(method string, path string) (Access, bool) {
	r, ok := c.routes[path]
	if !ok {
		return Access{}, false
	}
	acc, ok := r.Methods[method]
	return acc, ok
}

// Declared lists every "METHOD path" pair of the entrypoint, sorted.
func (c *Classifier) Declared() []string {
	out := make([]string, 0, len(c.routes))
	for path, r := range c.routes {
		for m := range r.Methods {
			out = append(out, m+" "+path)
		}
	}
	slices.Sort(out)
	return out
}

func hasPrefixSegment(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

func isModuleInternalAPI(path string) bool {
	// /{module}/api/*
	// segment-boundary: module must be a single segment.
	if !strings.HasPrefix(path, "/") {
		return false
	}
	rest := strings.TrimPrefix(path, "/")
	module, after, ok := strings.Cut(rest, "/")
	if !ok || module == "" {
		return false
	}
	return hasPrefixSegment("/"+after, "/api")
}
