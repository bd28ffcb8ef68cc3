package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
	"github.com/odyssey-learn/odyssey-learn/internal/rbac"
)

// Middleware resolves the bearer token into a principal stored on the request context.
// Requests without an Authorization header continue as rbac.Anonymous.
func Middleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				next.ServeHTTP(w, r.WithContext(rbac.ContextWithPrincipal(r.Context(), rbac.Anonymous)))
				return
			}
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "malformed authorization header")
				return
			}
			principal, err := service.Authenticate(r.Context(), strings.TrimSpace(token))
			if err != nil {
				if errors.Is(err, ErrInvalidToken) || errors.Is(err, httpx.ErrUnauthorized) {
					httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired token")
					return
				}
				logger.Error("load principal", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(rbac.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}
