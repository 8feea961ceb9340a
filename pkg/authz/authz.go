package authz

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/casbin/casbin/v2"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
)

type Mode string

const (
	ModeEnforce  Mode = "enforce"
	ModeShadow   Mode = "shadow"
	ModeDisabled Mode = "disabled"
)

// ParseMode validates a configured AUTHZ_MODE value. Disabling enforcement
// has to be unlocked explicitly.
func ParseMode(raw string, allowDisabled bool) (Mode, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ModeEnforce, nil
	}
	switch Mode(raw) {
	case ModeEnforce, ModeShadow:
		return Mode(raw), nil
	case ModeDisabled:
		if !allowDisabled {
			return "", errors.New("authz: AUTHZ_MODE=disabled requires AUTHZ_UNSAFE_ALLOW_DISABLED=1")
		}
		return ModeDisabled, nil
	default:
		return "", fmt.Errorf("authz: invalid AUTHZ_MODE %q (expected enforce|shadow|disabled)", raw)
	}
}

type Authorizer struct {
	enforcer *casbin.Enforcer
	mode     Mode
}

// NewAuthorizer loads a casbin model and csv policy. Policy lines naming an
// object or action the routes do not know about are rejected so a typo in
// policy.csv fails startup instead of silently denying.
func NewAuthorizer(modelPath string, policyPath string, mode Mode) (*Authorizer, error) {
	enforcer, err := casbin.NewEnforcer(modelPath, fileadapter.NewAdapter(policyPath))
	if err != nil {
		return nil, err
	}
	rules, err := enforcer.GetPolicy()
	if err != nil {
		return nil, err
	}
	for _, rule := range rules {
		if len(rule) < 4 {
			return nil, fmt.Errorf("authz: short policy line %v", rule)
		}
		if !KnownObject(rule[2]) {
			return nil, fmt.Errorf("authz: policy for %s names unknown object %q", rule[0], rule[2])
		}
		if !KnownAction(rule[3]) {
			return nil, fmt.Errorf("authz: policy for %s names unknown action %q", rule[0], rule[3])
		}
	}
	return &Authorizer{enforcer: enforcer, mode: mode}, nil
}

func (a *Authorizer) Mode() Mode { return a.mode }

func SubjectFromRoleSlug(roleSlug string) string {
	roleSlug = strings.TrimSpace(strings.ToLower(roleSlug))
	if roleSlug == "" {
		roleSlug = RoleAnonymous
	}
	return "role:" + roleSlug
}

func DomainFromTenantID(tenantID string) string {
	return strings.ToLower(strings.TrimSpace(tenantID))
}

// Authorize reports the casbin decision and whether it is binding. Shadow
// mode computes the decision but callers must not deny on it; disabled mode
// skips casbin entirely.
func (a *Authorizer) Authorize(subject string, domain string, object string, action string) (allowed bool, enforced bool, err error) {
	switch a.mode {
	case ModeDisabled:
		return true, false, nil
	case ModeShadow, ModeEnforce:
	default:
		return false, false, fmt.Errorf("authz: unknown mode %q", a.mode)
	}
	enforced = a.mode == ModeEnforce
	allowed, err = a.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return false, enforced, err
	}
	return allowed, enforced, nil
}

// Grant is one effective permission line of a role.
type Grant struct {
	Subject string `json:"subject"`
	Domain  string `json:"domain"`
	Object  string `json:"object"`
	Action  string `json:"action"`
}

// Permissions lists the grants a role holds directly or through inherited
// roles, sorted by object then action.
func (a *Authorizer) Permissions(roleSlug string) ([]Grant, error) {
	rows, err := a.enforcer.GetImplicitPermissionsForUser(SubjectFromRoleSlug(roleSlug))
	if err != nil {
		return nil, err
	}
	out := make([]Grant, 0, len(rows))
	for _, r := range rows {
		if len(r) < 4 {
			continue
		}
		out = append(out, Grant{Subject: r[0], Domain: r[1], Object: r[2], Action: r[3]})
	}
	slices.SortFunc(out, func(x, y Grant) int {
		if c := strings.Compare(x.Object, y.Object); c != 0 {
			return c
		}
		if c := strings.Compare(x.Action, y.Action); c != 0 {
			return c
		}
		return strings.Compare(x.Subject, y.Subject)
	})
	return out, nil
}
