package rbac

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
	"github.com/odyssey-learn/odyssey-learn/internal/shared"
)

// PermissionsHandler exposes the permission catalog.
type PermissionsHandler struct {
	logger  *slog.Logger
	service *Service
	rbac    Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.With(h.rbac.Require(Models(map[string]string{http.MethodGet: shared.ResourceCustomPermission}))).
		Get("/", h.listPermissions)
	r.With(h.rbac.Require(Models(map[string]string{http.MethodGet: shared.ResourcePermissionCategory}))).
		Get("/categories", h.listCategories)
	r.With(h.rbac.RequirePredicate(Authenticated)).
		Get("/dropdown", h.dropdown)
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	var categoryID *int64
	if raw := r.URL.Query().Get("category"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, httpx.NewFieldError("category", "A valid integer is required."))
			return
		}
		categoryID = &id
	}
	perms, err := h.service.ListPermissions(r.Context(), categoryID)
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *PermissionsHandler) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		h.logger.Error("list permission categories", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, categories)
}

func (h *PermissionsHandler) dropdown(w http.ResponseWriter, r *http.Request) {
	options, err := h.service.PermissionDropdown(r.Context())
	if err != nil {
		h.logger.Error("permission dropdown", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, options)
}
