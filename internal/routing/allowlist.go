package routing

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Allowlist struct {
	Version     int                   `yaml:"version"`
	Entrypoints map[string]Entrypoint `yaml:"entrypoints"`
}

type Entrypoint struct {
	Routes []Route `yaml:"routes"`
}

// Route declares one path, its class and the authz requirement of every
// method it accepts. A method with an empty Access is open to any principal
// of the resolved tenant.
type Route struct {
	Path       string            `yaml:"path"`
	RouteClass string            `yaml:"route_class"`
	Methods    map[string]Access `yaml:"methods"`
}

type Access struct {
	Object string `yaml:"object"`
	Action string `yaml:"action"`
}

func (a Access) Empty() bool { return a.Object == "" && a.Action == "" }

var knownMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

func ParseAllowlistYAML(b []byte) (Allowlist, error) {
	var a Allowlist
	if err := yaml.Unmarshal(b, &a); err != nil {
		return Allowlist{}, err
	}
	if a.Version != 1 {
		return Allowlist{}, errors.New("allowlist: unsupported version")
	}
	if a.Entrypoints == nil {
		return Allowlist{}, errors.New("allowlist: missing entrypoints")
	}
	for name, ep := range a.Entrypoints {
		for _, r := range ep.Routes {
			if err := r.validate(); err != nil {
				return Allowlist{}, fmt.Errorf("allowlist: %s %s: %w", name, r.Path, err)
			}
		}
	}
	return a, nil
}

func (r Route) validate() error {
	if !strings.HasPrefix(r.Path, "/") {
		return errors.New("path must start with /")
	}
	if !RouteClass(r.RouteClass).known() {
		return fmt.Errorf("unknown route class %q", r.RouteClass)
	}
	if len(r.Methods) == 0 {
		return errors.New("no methods")
	}
	for m, acc := range r.Methods {
		if !knownMethods[m] {
			return fmt.Errorf("unknown method %q", m)
		}
		if (acc.Object == "") != (acc.Action == "") {
			return fmt.Errorf("%s: object and action go together", m)
		}
	}
	return nil
}

func LoadAllowlist(path string) (Allowlist, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Allowlist{}, err
	}
	return ParseAllowlistYAML(b)
}
