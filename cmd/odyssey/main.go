package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-learn/odyssey-learn/internal/app"
	"github.com/odyssey-learn/odyssey-learn/internal/auth"
	"github.com/odyssey-learn/odyssey-learn/internal/course"
	"github.com/odyssey-learn/odyssey-learn/internal/observability"
	"github.com/odyssey-learn/odyssey-learn/internal/platform/db"
	"github.com/odyssey-learn/odyssey-learn/internal/progress"
	"github.com/odyssey-learn/odyssey-learn/internal/rbac"
	"github.com/odyssey-learn/odyssey-learn/internal/roles"
	"github.com/odyssey-learn/odyssey-learn/internal/users"
	"github.com/odyssey-learn/odyssey-learn/jobs"
	"github.com/odyssey-learn/odyssey-learn/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.AutoMigrate {
		if err := migrations.Apply(ctx, dbpool); err != nil {
			logger.Error("apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	rbacMiddleware := rbac.Middleware{Logger: logger, Observer: metrics}

	usersService := users.NewService(users.NewRepository(dbpool))
	authService := auth.NewService(cfg.JWTSecret, usersService)

	rolesService := roles.NewService(roles.NewRepository(dbpool))
	permissionsService := rbac.NewService(rbac.NewRepository(dbpool))

	courseService := course.NewService(course.NewRepository(dbpool))
	progressService := progress.NewService(
		progress.NewRepository(dbpool, cfg.PGLockTimeout),
		jobClient,
		metrics,
		logger,
	)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Authenticate:       auth.Middleware(authService, logger),
		UsersHandler:       users.NewHandler(logger, usersService, rbacMiddleware),
		RolesHandler:       roles.NewHandler(logger, rolesService, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, permissionsService, rbacMiddleware),
		CourseHandler:      course.NewHandler(logger, courseService, rbacMiddleware),
		ProgressHandler:    progress.NewHandler(logger, progressService, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
		Database:           dbpool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
