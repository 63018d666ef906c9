package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sep_psp/internal/config"
	"sep_psp/internal/discovery"
	"sep_psp/internal/handlers"
	"sep_psp/internal/httpclient"
	"sep_psp/internal/routing"
)

// The card network keeps no state: every request is forwarded to the issuer chosen by BIN.
func main() {
	cfg := config.Load()
	cfg.InitLogger("pcc")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := discovery.Load(cfg.ServicesFile)
	if err != nil {
		slog.Error("failed to load service table", "error", err)
		os.Exit(1)
	}
	forwarder := routing.NewForwarder(registry, registry, httpclient.New(10*time.Second), cfg.CallbackAPIKey)

	e := handlers.NewEcho("pcc")
	handlers.RegisterNetworkRoutes(e, handlers.NewNetworkHandler(forwarder), cfg.CallbackAPIKey)

	if err := handlers.Serve(ctx, e, cfg.Port); err != nil {
		slog.Error("pcc stopped", "error", err)
		os.Exit(1)
	}
}
