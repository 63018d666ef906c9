package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DATABASE_URL", "STORAGE_DRIVER", "WORKER_INTERVAL", "BANK_BIN_PREFIXES"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("Port = %s, expected 8080", cfg.Port)
	}
	if cfg.StorageDriver != StorageDriverMemory || cfg.UseDatabase() {
		t.Errorf("expected memory storage without DATABASE_URL, got %s", cfg.StorageDriver)
	}
	if cfg.WorkerInterval != 10*time.Second {
		t.Errorf("WorkerInterval = %s", cfg.WorkerInterval)
	}
	if len(cfg.BankBINPrefixes) != 0 {
		t.Errorf("BankBINPrefixes = %v", cfg.BankBINPrefixes)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://psp@localhost/psp")
	t.Setenv("STORAGE_DRIVER", "")
	t.Setenv("BANK_BIN_PREFIXES", "4111, 5500,,")
	t.Setenv("NOTIFICATION_MAX_ATTEMPT", "not-a-number")
	t.Setenv("CRYPTO_INVOICE_EXPIRY", "15m")
	t.Setenv("MIDTRANS_IS_PRODUCTION", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()
	if !cfg.UseDatabase() {
		t.Error("expected postgres storage when DATABASE_URL is set")
	}
	if len(cfg.BankBINPrefixes) != 2 || cfg.BankBINPrefixes[1] != "5500" {
		t.Errorf("BankBINPrefixes = %v", cfg.BankBINPrefixes)
	}
	if cfg.NotificationMaxAttempt != 5 {
		t.Errorf("invalid integer must fall back to default, got %d", cfg.NotificationMaxAttempt)
	}
	if cfg.CryptoInvoiceExpiry != 15*time.Minute || !cfg.MidtransIsProduction {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel() = %s", cfg.SlogLevel())
	}
}
