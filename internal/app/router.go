package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-learn/odyssey-learn/internal/course"
	"github.com/odyssey-learn/odyssey-learn/internal/observability"
	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
	"github.com/odyssey-learn/odyssey-learn/internal/progress"
	"github.com/odyssey-learn/odyssey-learn/internal/rbac"
	"github.com/odyssey-learn/odyssey-learn/internal/roles"
	"github.com/odyssey-learn/odyssey-learn/internal/users"
	"github.com/odyssey-learn/odyssey-learn/jobs"
)

// Pinger reports whether a backing service answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	// Authenticate resolves the bearer token into the request principal.
	Authenticate func(http.Handler) http.Handler

	UsersHandler       *users.Handler
	RolesHandler       *roles.Handler
	PermissionsHandler *rbac.PermissionsHandler
	CourseHandler      *course.Handler
	ProgressHandler    *progress.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics

	Database Pinger
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Database.Ping(ctx); err != nil {
				params.Logger.Warn("health check", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if params.Authenticate != nil {
			r.Use(params.Authenticate)
		}
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		if params.RolesHandler != nil {
			r.Route("/roles", params.RolesHandler.MountRoutes)
		}
		if params.PermissionsHandler != nil {
			r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		}
		if params.CourseHandler != nil {
			r.Route("/courses", params.CourseHandler.MountCourseRoutes)
			r.Route("/lessons", params.CourseHandler.MountLessonRoutes)
		}
		r.Route("/enrollments", func(r chi.Router) {
			if params.CourseHandler != nil {
				params.CourseHandler.MountEnrollmentRoutes(r)
			}
			if params.ProgressHandler != nil {
				params.ProgressHandler.MountRoutes(r)
			}
		})
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
