package rbac

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
)

// DecisionObserver records authorization outcomes.
type DecisionObserver interface {
	ObserveAuthorization(outcome string)
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Logger   *slog.Logger
	Observer DecisionObserver
}

// denialBody is the problem document sent on 401 and 403.
type denialBody struct {
	Title   string   `json:"title"`
	Status  int      `json:"status"`
	Detail  string   `json:"detail"`
	Missing []string `json:"missing,omitempty"`
}

// Require gates the handler with the permission evaluator.
func (m Middleware) Require(req Requirement) func(http.Handler) http.Handler {
	return m.RequirePredicate(Requires(req))
}

// RequirePredicate gates the handler with all of preds.
func (m Middleware) RequirePredicate(preds ...Predicate) func(http.Handler) http.Handler {
	pred := All(preds...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r.Context())
			decision, err := pred.Evaluate(r.Context(), principal, r)
			if err != nil {
				m.fail(w, r, principal, err)
				return
			}
			if decision.Allowed {
				m.observe("allowed")
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w, r, principal, decision)
		})
	}
}

func (m Middleware) fail(w http.ResponseWriter, r *http.Request, principal Principal, err error) {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		m.observe("misconfigured")
		m.logger().Error("rbac misconfigured endpoint",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "authorization misconfigured")
		return
	}
	if !errors.Is(err, httpx.ErrNotFound) {
		m.logger().Error("rbac evaluate", slog.Int64("user_id", principal.ID()), slog.Any("error", err))
	}
	m.observe("error")
	httpx.RespondError(w, err)
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, principal Principal, decision Decision) {
	status, title := http.StatusForbidden, "Forbidden"
	if decision.Reason == ReasonAuthenticationRequired {
		status, title = http.StatusUnauthorized, "Unauthorized"
		m.observe("unauthenticated")
	} else {
		m.observe("denied")
		m.logger().Debug("rbac denied",
			slog.Int64("user_id", principal.ID()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("reason", decision.Reason))
	}
	httpx.JSON(w, status, denialBody{Title: title, Status: status, Detail: decision.Reason, Missing: decision.Missing})
}

func (m Middleware) observe(outcome string) {
	if m.Observer != nil {
		m.Observer.ObserveAuthorization(outcome)
	}
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
