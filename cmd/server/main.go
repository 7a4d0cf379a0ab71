package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foreman-dev/foreman/internal/api"
	"github.com/foreman-dev/foreman/internal/config"
	"github.com/foreman-dev/foreman/pkg/database"
	"github.com/foreman-dev/foreman/pkg/observability"
	"github.com/foreman-dev/foreman/pkg/queue"
	"github.com/foreman-dev/foreman/pkg/repository/postgres"
)

func main() {
	logger := observability.NewLogger("server")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", map[string]interface{}{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := database.New(ctx, cfg.Database, logger)
	cancel()
	if err != nil {
		logger.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer func() { _ = db.Close() }()

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	q, err := queue.NewRedisQueue(ctx, cfg.Queue, logger)
	cancel()
	if err != nil {
		logger.Fatal("Failed to connect to queue", map[string]interface{}{"error": err.Error()})
	}
	defer func() { _ = q.Close() }()

	tracer := observability.StartSpan
	srv := api.NewServer(cfg, api.Dependencies{
		Database: db,
		Queue:    q,
		Runs:     postgres.NewRunRepository(db, logger, tracer),
		Tasks:    postgres.NewTaskRepository(db, logger, tracer),
		RunData:  postgres.NewRunDataRepository(db, logger, tracer),
		Logger:   logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("Server failed", map[string]interface{}{"error": err.Error()})
		}
	case sig := <-sigCh:
		logger.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Shutdown did not complete cleanly", map[string]interface{}{"error": err.Error()})
		}
	}
}
