package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foreman-dev/foreman/internal/config"
	"github.com/foreman-dev/foreman/internal/worker"
	"github.com/foreman-dev/foreman/pkg/database"
	"github.com/foreman-dev/foreman/pkg/models"
	"github.com/foreman-dev/foreman/pkg/observability"
	"github.com/foreman-dev/foreman/pkg/queue"
	"github.com/foreman-dev/foreman/pkg/repository/postgres"
)

func main() {
	logger := observability.NewLogger("worker")

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

	tasks := postgres.NewTaskRepository(db, logger, observability.StartSpan)
	processor := worker.NewProcessor(tasks, q, logger)

	// Built-in handler useful for smoke tests; real deployments register
	// their own handlers here.
	processor.Register("noop", func(ctx context.Context, task *models.Task) (models.JSONValue, error) {
		return models.JSONValue{V: map[string]interface{}{"ok": true}}, nil
	})

	w := worker.New(q, processor, cfg.Worker, logger)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
		w.Stop()
	}()

	if err := w.Run(runCtx); err != nil && err != context.Canceled {
		logger.Fatal("Worker failed", map[string]interface{}{"error": err.Error()})
	}
}
