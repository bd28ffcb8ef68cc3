package progress

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-learn/odyssey-learn/internal/platform/db"
	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
	"github.com/odyssey-learn/odyssey-learn/internal/rbac"
)

// Handler serves lesson completion endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers progress routes below /enrollments.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/{enrollmentID}/progress", func(r chi.Router) {
		r.Use(h.rbac.RequirePredicate(rbac.IsStudent))
		r.Post("/", h.complete)
		r.Get("/", h.list)
	})
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	enrollmentID, err := httpx.IDParam(r, "enrollmentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in CompleteInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal := rbac.PrincipalFromContext(r.Context())
	completion, err := h.service.CompleteLesson(r.Context(), principal, enrollmentID, in.LessonID)
	if err != nil {
		h.respondError(w, err, enrollmentID, in.LessonID)
		return
	}
	httpx.JSON(w, http.StatusCreated, completion)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	enrollmentID, err := httpx.IDParam(r, "enrollmentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	completions, err := h.service.ListCompletions(r.Context(), rbac.PrincipalFromContext(r.Context()), enrollmentID)
	if err != nil {
		h.respondError(w, err, enrollmentID, 0)
		return
	}
	httpx.JSON(w, http.StatusOK, completions)
}

func (h *Handler) respondError(w http.ResponseWriter, err error, enrollmentID, lessonID int64) {
	var rej *RejectionError
	switch {
	case errors.As(err, &rej):
		httpx.JSON(w, rej.Status(), httpx.ValidationBody{Errors: rej.Fields()})
	case db.IsRetryable(err):
		h.logger.Warn("lesson completion contended",
			slog.Int64("enrollment_id", enrollmentID), slog.Int64("lesson_id", lessonID), slog.Any("error", err))
		httpx.RespondError(w, err)
	default:
		h.logger.Error("lesson completion failed",
			slog.Int64("enrollment_id", enrollmentID), slog.Int64("lesson_id", lessonID), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
