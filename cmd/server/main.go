package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/midtrans/midtrans-go"

	"sep_psp/internal/callbacks"
	"sep_psp/internal/config"
	"sep_psp/internal/discovery"
	"sep_psp/internal/handlers"
	"sep_psp/internal/httpclient"
	"sep_psp/internal/ledger"
	"sep_psp/internal/plugins"
	"sep_psp/internal/services"
	"sep_psp/internal/tasks"
)

const outboundTimeout = 15 * time.Second

func main() {
	cfg := config.Load()
	cfg.InitLogger("psp")

	if err := run(cfg); err != nil {
		slog.Error("psp stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := services.OpenStores(cfg)
	if err != nil {
		return err
	}
	if stores.DB == nil {
		slog.Warn("DATABASE_URL not set, using in-memory stores")
	}

	resolver, err := discovery.Load(cfg.ServicesFile)
	if err != nil {
		return err
	}
	client := httpclient.New(outboundTimeout)

	var tracker plugins.ExpiryTracker = services.NewMemoryExpiryTracker()
	if cfg.RedisURL != "" {
		rdb, err := services.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		tracker = services.NewRedisExpiryTracker(rdb)
	}

	midtrans.ClientKey = cfg.MidtransClientKey
	registry, err := plugins.NewRegistry(stores.Merchants,
		plugins.NewCardPlugin(resolver, client, cfg.CallbackAPIKey),
		plugins.NewQRPlugin(resolver, client, cfg.CallbackAPIKey),
		plugins.NewPayPalPlugin(resolver, client, cfg.PayPalClientID, cfg.PayPalClientSecret),
		plugins.NewBitcoinPlugin(resolver, client, cfg.CryptoAPIKey, cfg.CryptoInvoiceExpiry, tracker),
		plugins.NewMidtransPlugin(plugins.NewMidtransService(cfg.MidtransServerKey, cfg.MidtransIsProduction), cfg.MidtransServerKey),
	)
	if err != nil {
		return err
	}
	if err := services.SyncPaymentTypes(ctx, registry, stores.PaymentTypes); err != nil {
		slog.Warn("payment type catalogue has problems", "error", err)
	}

	taskRegistry := tasks.NewRegistry()
	defs := tasks.DefineTasks(taskRegistry, tasks.Dependencies{
		Transactions:  stores.Transactions,
		History:       stores.History,
		Client:        client,
		SigningSecret: cfg.NotificationSigningSecret,
	})
	notifier := services.NewNotifier(stores.Tasks, stores.Merchants, defs.MerchantCallback, defs.SubscriptionCallback, cfg.NotificationMaxAttempt)

	l := ledger.New(stores.Transactions, stores.Merchants, registry, notifier)
	gateway := callbacks.New(l, registry, stores.History, cfg.CryptoWebhookSecret)
	paymentService := services.NewPaymentService(l, registry, stores.Merchants, cfg.PublicURL)

	runner := tasks.NewRunner(stores.Tasks, taskRegistry)
	go runner.Run(ctx, cfg.WorkerInterval)

	e := handlers.NewEcho("psp")
	handlers.RegisterPSPRoutes(e, handlers.NewPaymentHandler(paymentService), handlers.NewCallbackHandler(gateway), cfg.CallbackAPIKey)

	return handlers.Serve(ctx, e, cfg.Port)
}
