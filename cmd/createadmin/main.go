package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-learn/odyssey-learn/internal/app"
	"github.com/odyssey-learn/odyssey-learn/internal/auth"
	"github.com/odyssey-learn/odyssey-learn/internal/platform/db"
	"github.com/odyssey-learn/odyssey-learn/internal/platform/httpx"
	"github.com/odyssey-learn/odyssey-learn/internal/users"
)

func main() {
	email := flag.String("email", "", "superuser email (required)")
	fullName := flag.String("name", "Administrator", "display name")
	tokenTTL := flag.Duration("token-ttl", 0, "print a bearer token valid for this long")
	flag.Parse()

	password := os.Getenv("ADMIN_PASSWORD")
	if *email == "" || password == "" {
		fmt.Fprintln(os.Stderr, "usage: ADMIN_PASSWORD=... createadmin -email admin@example.com [-name NAME] [-token-ttl 1h]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	service := users.NewService(users.NewRepository(pool))
	user, err := service.CreateSuperuser(ctx, *email, *fullName, password)
	if err != nil {
		var fields httpx.FieldErrors
		if errors.As(err, &fields) {
			for field, messages := range fields {
				logger.Error("invalid input", slog.String("field", field), slog.Any("messages", messages))
			}
		} else {
			logger.Error("create superuser", slog.Any("error", err))
		}
		os.Exit(1)
	}
	logger.Info("superuser ready", slog.Int64("user_id", user.ID), slog.String("email", user.Email))

	if *tokenTTL > 0 {
		token, err := auth.NewService(cfg.JWTSecret, service).Issue(user.ID, *tokenTTL)
		if err != nil {
			logger.Error("issue token", slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Println(token)
	}
}
