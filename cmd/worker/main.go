package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sep_psp/internal/config"
	"sep_psp/internal/httpclient"
	"sep_psp/internal/services"
	"sep_psp/internal/tasks"
)

// The worker runs the same task runner as the PSP server, for deployments that
// keep outbound notification delivery out of the request-serving process.
func main() {
	cfg := config.Load()
	cfg.InitLogger("worker")

	if !cfg.UseDatabase() {
		slog.Error("DATABASE_URL not set, the worker needs the shared task table")
		os.Exit(1)
	}
	stores, err := services.OpenStores(cfg)
	if err != nil {
		slog.Error("failed to open stores", "error", err)
		os.Exit(1)
	}

	registry := tasks.NewRegistry()
	tasks.DefineTasks(registry, tasks.Dependencies{
		Transactions:  stores.Transactions,
		History:       stores.History,
		Client:        httpclient.New(15 * time.Second),
		SigningSecret: cfg.NotificationSigningSecret,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker started", "interval", cfg.WorkerInterval, "tasks", registry.Names())
	tasks.NewRunner(stores.Tasks, registry).Run(ctx, cfg.WorkerInterval)
	slog.Info("worker stopped")
}
