package rbac

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
	"github.com/odyssey-learn/odyssey-learn/internal/shared"
)

// Denial reasons returned by Authorize.
const (
	ReasonAuthenticationRequired = "authentication required"
	ReasonUnsupportedMethod      = "unsupported method"
	ReasonMethodNotConfigured    = "method not configured for this endpoint"
)

type requirementKind int

const (
	kindNone requirementKind = iota
	kindModels
	kindCustom
)

// Requirement declares what an endpoint needs. It is either a method to resource
// mapping (Models) or a set of explicit permission codes (Custom). The zero value
// is invalid and makes Authorize return a ConfigurationError.
type Requirement struct {
	kind   requirementKind
	models map[string]string
	codes  []string
}

// Models builds a requirement mapping HTTP methods to resource names.
func Models(byMethod map[string]string) Requirement {
	if len(byMethod) == 0 {
		return Requirement{}
	}
	models := make(map[string]string, len(byMethod))
	for method, resource := range byMethod {
		models[strings.ToUpper(strings.TrimSpace(method))] = strings.ToLower(strings.TrimSpace(resource))
	}
	return Requirement{kind: kindModels, models: models}
}

// CRUD maps every supported method to a single resource.
func CRUD(resource string) Requirement {
	return Models(map[string]string{
		http.MethodGet:    resource,
		http.MethodPost:   resource,
		http.MethodPut:    resource,
		http.MethodPatch:  resource,
		http.MethodDelete: resource,
	})
}

// Custom builds a requirement satisfied by any one of codes.
func Custom(codes ...string) Requirement {
	ordered := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		code = normalizeCode(code)
		if _, ok := seen[code]; ok || code == "" {
			continue
		}
		seen[code] = struct{}{}
		ordered = append(ordered, code)
	}
	if len(ordered) == 0 {
		return Requirement{}
	}
	return Requirement{kind: kindCustom, codes: ordered}
}

func (r Requirement) String() string {
	switch r.kind {
	case kindModels:
		methods := make([]string, 0, len(r.models))
		for m := range r.models {
			methods = append(methods, m+"="+r.models[m])
		}
		sort.Strings(methods)
		return "models(" + strings.Join(methods, ",") + ")"
	case kindCustom:
		return "custom(" + strings.Join(r.codes, ",") + ")"
	}
	return "none"
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool     `json:"allowed"`
	Reason  string   `json:"reason,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// Allow is the granting decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny builds a refusing decision.
func Deny(reason string, missing ...string) Decision {
	return Decision{Reason: reason, Missing: missing}
}

// Err converts a denial into a *DeniedError and returns nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Decision: d}
}

// DeniedError reports a refused authorization.
type DeniedError struct {
	Decision Decision
}

func (e *DeniedError) Error() string {
	if len(e.Decision.Missing) == 0 {
		return "rbac: denied: " + e.Decision.Reason
	}
	return fmt.Sprintf("rbac: denied: %s (missing %s)", e.Decision.Reason, strings.Join(e.Decision.Missing, ", "))
}

// Unwrap lets callers match on httpx.ErrUnauthorized or httpx.ErrForbidden.
func (e *DeniedError) Unwrap() error {
	if e.Decision.Reason == ReasonAuthenticationRequired {
		return httpx.ErrUnauthorized
	}
	return httpx.ErrForbidden
}

// ConfigurationError signals an endpoint declared its requirement incorrectly.
type ConfigurationError struct {
	Requirement string
	Reason      string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("rbac: misconfigured requirement %s: %s", e.Requirement, e.Reason)
}

var methodActions = map[string]string{
	http.MethodGet:    shared.ActionView,
	http.MethodPost:   shared.ActionCreate,
	http.MethodPut:    shared.ActionUpdate,
	http.MethodPatch:  shared.ActionUpdate,
	http.MethodDelete: shared.ActionDelete,
}

// Authorize decides whether principal may perform method against req.
// Superusers are allowed before anything else is inspected, including a malformed requirement.
func Authorize(principal Principal, method string, req Requirement) (Decision, error) {
	if principal == nil {
		principal = Anonymous
	}
	if principal.IsSuperuser() {
		return Allow(), nil
	}
	if !principal.IsAuthenticated() {
		return Deny(ReasonAuthenticationRequired), nil
	}

	switch req.kind {
	case kindCustom:
		granted := principal.EffectivePermissions()
		if granted.HasAny(req.codes...) {
			return Allow(), nil
		}
		return Deny("requires any of the listed permissions", req.codes...), nil
	case kindModels:
		return authorizeModel(principal.EffectivePermissions(), strings.ToUpper(method), req.models), nil
	default:
		return Decision{}, &ConfigurationError{Requirement: req.String(), Reason: "exactly one of models or custom permissions must be declared"}
	}
}

func authorizeModel(granted PermissionSet, method string, models map[string]string) Decision {
	action, ok := methodActions[method]
	if !ok {
		return Deny(ReasonUnsupportedMethod)
	}
	resource, ok := models[method]
	if !ok || resource == "" {
		return Deny(ReasonMethodNotConfigured)
	}

	if action != shared.ActionView {
		code := Code(action, resource)
		if granted.Has(code) {
			return Allow()
		}
		return Deny("missing permission", code)
	}

	// Any write grant on the resource implies read access.
	candidates := []string{
		Code(shared.ActionView, resource),
		Code(shared.ActionCreate, resource),
		Code(shared.ActionUpdate, resource),
		Code(shared.ActionDelete, resource),
	}
	if granted.HasAny(candidates...) {
		return Allow()
	}
	return Deny("requires any permission on "+resource, candidates...)
}
