package main

import (
	"context"
	"errors"
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
	"sep_psp/internal/services"
)

func main() {
	cfg := config.Load()
	cfg.InitLogger("bank-" + cfg.BankID)

	if err := run(cfg); err != nil {
		slog.Error("bank stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.BankID == "" {
		return errors.New("BANK_ID is required")
	}
	stores, err := services.OpenStores(cfg)
	if err != nil {
		return err
	}
	resolver, err := discovery.Load(cfg.ServicesFile)
	if err != nil {
		return err
	}
	client := httpclient.New(10 * time.Second)

	engine := routing.NewEngine(routing.Config{
		BankID:        cfg.BankID,
		BINPrefixes:   cfg.BankBINPrefixes,
		DebitAttempts: cfg.BankDebitAttempts,
	}, stores.Accounts, stores.BankPayments, routing.NewPCCClient(resolver, client, cfg.CallbackAPIKey))
	notifier := routing.NewPSPNotifier(resolver, client, cfg.CallbackAPIKey)

	e := handlers.NewEcho(routing.BankService(cfg.BankID))
	handlers.RegisterBankRoutes(e, handlers.NewBankHandler(engine, notifier), cfg.CallbackAPIKey)

	slog.Info("bank ready", "bank_id", cfg.BankID, "bin_prefixes", cfg.BankBINPrefixes)
	return handlers.Serve(ctx, e, cfg.Port)
}
