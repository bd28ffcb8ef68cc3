package rbac

import (
	"context"
	"net/http"
	"strings"
)

// Predicate is one object-level or role-level access rule.
type Predicate interface {
	Evaluate(ctx context.Context, p Principal, r *http.Request) (Decision, error)
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(ctx context.Context, p Principal, r *http.Request) (Decision, error)

// Evaluate calls f.
func (f PredicateFunc) Evaluate(ctx context.Context, p Principal, r *http.Request) (Decision, error) {
	return f(ctx, p, r)
}

// All passes when every predicate passes. It stops at the first denial or error.
func All(preds ...Predicate) Predicate {
	return PredicateFunc(func(ctx context.Context, p Principal, r *http.Request) (Decision, error) {
		for _, pred := range preds {
			d, err := pred.Evaluate(ctx, p, r)
			if err != nil || !d.Allowed {
				return d, err
			}
		}
		return Allow(), nil
	})
}

// Any passes when at least one predicate passes. Denial reasons are joined.
func Any(preds ...Predicate) Predicate {
	return PredicateFunc(func(ctx context.Context, p Principal, r *http.Request) (Decision, error) {
		var reasons, missing []string
		for _, pred := range preds {
			d, err := pred.Evaluate(ctx, p, r)
			if err != nil {
				return Decision{}, err
			}
			if d.Allowed {
				return d, nil
			}
			reasons = append(reasons, d.Reason)
			missing = append(missing, d.Missing...)
		}
		if len(reasons) == 0 {
			return Deny("no alternatives declared"), nil
		}
		if len(reasons) == 1 {
			return Deny(reasons[0], missing...), nil
		}
		return Deny(strings.Join(reasons, " or "), missing...), nil
	})
}

// Authenticated passes for any signed-in principal.
var Authenticated Predicate = PredicateFunc(func(_ context.Context, p Principal, _ *http.Request) (Decision, error) {
	if p.IsAuthenticated() {
		return Allow(), nil
	}
	return Deny(ReasonAuthenticationRequired), nil
})

// IsStudent passes for authenticated students.
var IsStudent = userTypePredicate(UserTypeStudent, "only students can perform this action")

// IsInstructor passes for authenticated instructors.
var IsInstructor = userTypePredicate(UserTypeInstructor, "only instructors can perform this action")

func userTypePredicate(want UserType, message string) Predicate {
	return PredicateFunc(func(_ context.Context, p Principal, _ *http.Request) (Decision, error) {
		if !p.IsAuthenticated() {
			return Deny(ReasonAuthenticationRequired), nil
		}
		if p.UserType() == want {
			return Allow(), nil
		}
		return Deny(message), nil
	})
}

// Requires wraps the evaluator as a predicate using the request method.
func Requires(req Requirement) Predicate {
	return PredicateFunc(func(_ context.Context, p Principal, r *http.Request) (Decision, error) {
		return Authorize(p, r.Method, req)
	})
}

// OwnerLookup resolves the owning user id of the object a request targets.
type OwnerLookup func(ctx context.Context, r *http.Request) (int64, error)

// Owner passes when the object's owner equals the principal. Lookup errors propagate.
func Owner(message string, lookup OwnerLookup) Predicate {
	return PredicateFunc(func(ctx context.Context, p Principal, r *http.Request) (Decision, error) {
		if !p.IsAuthenticated() {
			return Deny(ReasonAuthenticationRequired), nil
		}
		ownerID, err := lookup(ctx, r)
		if err != nil {
			return Decision{}, err
		}
		if ownerID == p.ID() {
			return Allow(), nil
		}
		return Deny(message), nil
	})
}

// ExistsCheck reports whether a relation between the principal and the request target exists.
type ExistsCheck func(ctx context.Context, p Principal, r *http.Request) (bool, error)

// Exists passes when check finds the relation.
func Exists(message string, check ExistsCheck) Predicate {
	return PredicateFunc(func(ctx context.Context, p Principal, r *http.Request) (Decision, error) {
		if !p.IsAuthenticated() {
			return Deny(ReasonAuthenticationRequired), nil
		}
		ok, err := check(ctx, p, r)
		if err != nil {
			return Decision{}, err
		}
		if ok {
			return Allow(), nil
		}
		return Deny(message), nil
	})
}
