package users

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
	"github.com/odyssey-learn/odyssey-learn/internal/rbac"
	"github.com/odyssey-learn/odyssey-learn/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequirePredicate(rbac.Authenticated)).Get("/me", h.me)
	r.With(h.rbac.Require(rbac.Models(map[string]string{http.MethodGet: shared.ResourceCustomUser}))).
		Get("/", h.listUsers)
	r.With(h.rbac.Require(rbac.Models(map[string]string{http.MethodPatch: shared.ResourceCustomUser}))).
		Patch("/{userID}/access", h.setAccess)
}

type userPage struct {
	Results    []User            `json:"results"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.PageFromRequest(r)
	users, pagination, err := h.service.ListUsers(r.Context(), page, perPage)
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, userPage{Results: users, Pagination: pagination})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	principal := rbac.PrincipalFromContext(r.Context())
	profile, err := h.service.Profile(r.Context(), principal.ID())
	if err != nil {
		h.logger.Error("load profile", slog.Int64("user_id", principal.ID()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile)
}

func (h *Handler) setAccess(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.IDParam(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var access Access
	if err := httpx.Decode(r, &access); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SetAccess(r.Context(), userID, access); err != nil {
		h.logger.Warn("set user access", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	profile, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile)
}
