package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-learn/odyssey-learn/internal/app"
	"github.com/odyssey-learn/odyssey-learn/internal/platform/db"
	"github.com/odyssey-learn/odyssey-learn/internal/rbac"
	"github.com/odyssey-learn/odyssey-learn/migrations"
)

func main() {
	definitionPath := flag.String("definition", "", "YAML catalog definition; the built-in catalog when empty")
	migrate := flag.Bool("migrate", false, "apply schema migrations before synchronizing")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	def := rbac.DefaultDefinition()
	if *definitionPath != "" {
		def, err = rbac.LoadDefinition(*definitionPath)
		if err != nil {
			logger.Error("load definition", slog.String("path", *definitionPath), slog.Any("error", err))
			os.Exit(1)
		}
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if *migrate {
		if err := migrations.Apply(ctx, pool); err != nil {
			logger.Error("apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	if _, err := rbac.Bootstrap(ctx, rbac.NewRepository(pool), def, logger); err != nil {
		os.Exit(1)
	}
}
