package course

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
	"github.com/odyssey-learn/odyssey-learn/internal/rbac"
	"github.com/odyssey-learn/odyssey-learn/internal/shared"
)

// Handler serves course, lesson and enrollment endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountCourseRoutes registers /courses routes.
func (h *Handler) MountCourseRoutes(r chi.Router) {
	r.With(h.rbac.RequirePredicate(rbac.Authenticated)).Get("/", h.listCourses)
	r.With(h.rbac.RequirePredicate(rbac.IsInstructor)).Post("/", h.createCourse)
	r.Route("/{courseID}", func(r chi.Router) {
		r.With(h.rbac.RequirePredicate(rbac.Authenticated)).Get("/", h.getCourse)
		r.With(h.rbac.RequirePredicate(rbac.IsInstructor, h.service.OwnsCourse())).Patch("/", h.updateCourse)
		r.With(h.rbac.RequirePredicate(rbac.Any(h.service.OwnsCourse(), h.service.EnrolledInCourse()))).
			Get("/lessons", h.listLessons)
		r.With(h.rbac.RequirePredicate(rbac.IsInstructor, h.service.OwnsCourse())).Post("/lessons", h.createLessons)
	})
}

// MountLessonRoutes registers /lessons routes.
func (h *Handler) MountLessonRoutes(r chi.Router) {
	r.Route("/{lessonID}", func(r chi.Router) {
		r.With(h.rbac.RequirePredicate(rbac.Any(h.service.OwnsLesson(), h.service.EnrolledInLessonCourse()))).
			Get("/", h.getLesson)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequirePredicate(rbac.IsInstructor, h.service.OwnsLesson()))
			r.Patch("/", h.updateLesson)
			r.Delete("/", h.deleteLesson)
		})
	})
}

// MountEnrollmentRoutes registers /enrollments routes.
func (h *Handler) MountEnrollmentRoutes(r chi.Router) {
	r.With(h.rbac.RequirePredicate(rbac.IsStudent)).Post("/", h.enroll)
	r.With(h.rbac.RequirePredicate(rbac.Authenticated)).Get("/", h.listEnrollments)
	r.With(h.rbac.RequirePredicate(rbac.Authenticated)).Get("/{enrollmentID}", h.getEnrollment)
}

type coursePage struct {
	Results    []Course          `json:"results"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) listCourses(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.PageFromRequest(r)
	courses, pagination, err := h.service.ListCourses(r.Context(), rbac.PrincipalFromContext(r.Context()), page, perPage)
	if err != nil {
		h.logger.Error("list courses failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, coursePage{Results: courses, Pagination: pagination})
}

func (h *Handler) getCourse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "courseID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.GetCourse(r.Context(), rbac.PrincipalFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) createCourse(w http.ResponseWriter, r *http.Request) {
	var in CourseInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.CreateCourse(r.Context(), rbac.PrincipalFromContext(r.Context()), in)
	if err != nil {
		h.logger.Error("create course", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) updateCourse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "courseID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var upd CourseUpdate
	if err := httpx.Decode(r, &upd); err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.UpdateCourse(r.Context(), id, upd)
	if err != nil {
		h.logger.Warn("update course", slog.Int64("course_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) listLessons(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "courseID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lessons, err := h.service.ListLessons(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lessons)
}

func (h *Handler) createLessons(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "courseID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in BulkLessonInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	lessons, err := h.service.CreateLessons(r.Context(), rbac.PrincipalFromContext(r.Context()), id, in)
	if err != nil {
		h.logger.Warn("create lessons", slog.Int64("course_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, lessons)
}

func (h *Handler) getLesson(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "lessonID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	l, err := h.service.GetLesson(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, l)
}

func (h *Handler) updateLesson(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "lessonID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var upd LessonUpdate
	if err := httpx.Decode(r, &upd); err != nil {
		httpx.RespondError(w, err)
		return
	}
	l, err := h.service.UpdateLesson(r.Context(), id, upd)
	if err != nil {
		h.logger.Warn("update lesson", slog.Int64("lesson_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, l)
}

func (h *Handler) deleteLesson(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "lessonID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteLesson(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) enroll(w http.ResponseWriter, r *http.Request) {
	var in EnrollmentInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	e, err := h.service.Enroll(r.Context(), rbac.PrincipalFromContext(r.Context()), in)
	if err != nil {
		h.logger.Warn("enroll", slog.Int64("course_id", in.CourseID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, e)
}

func (h *Handler) listEnrollments(w http.ResponseWriter, r *http.Request) {
	enrollments, err := h.service.ListEnrollments(r.Context(), rbac.PrincipalFromContext(r.Context()))
	if err != nil {
		h.logger.Error("list enrollments failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, enrollments)
}

func (h *Handler) getEnrollment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "enrollmentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	e, err := h.service.GetEnrollment(r.Context(), rbac.PrincipalFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}
