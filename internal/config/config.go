// Package config reads process configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	Port          string
	DatabaseURL   string
	StorageDriver string
	RedisURL      string
	ServicesFile  string
	LogLevel      string
	LogSQL        bool

	// PSP
	PublicURL                 string
	CallbackAPIKey            string
	NotificationSigningSecret string
	NotificationMaxAttempt    int
	WorkerInterval            time.Duration

	CryptoWebhookSecret string
	CryptoAPIKey        string
	CryptoInvoiceExpiry time.Duration

	PayPalClientID     string
	PayPalClientSecret string

	MidtransServerKey    string
	MidtransClientKey    string
	MidtransIsProduction bool

	// Bank
	BankID            string
	BankBINPrefixes   []string
	BankDebitAttempts int
}

// Load reads .env when present and then the process environment
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using process environment")
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		StorageDriver: strings.ToLower(getEnv("STORAGE_DRIVER", "")),
		RedisURL:      getEnv("REDIS_URL", ""),
		ServicesFile:  getEnv("SERVICES_FILE", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogSQL:        getEnvBool("DB_LOG_SQL", false),

		PublicURL:                 getEnv("PSP_PUBLIC_URL", "http://localhost:8080"),
		CallbackAPIKey:            getEnv("CALLBACK_API_KEY", ""),
		NotificationSigningSecret: getEnv("NOTIFICATION_SIGNING_SECRET", ""),
		NotificationMaxAttempt:    getEnvInt("NOTIFICATION_MAX_ATTEMPT", 5),
		WorkerInterval:            getEnvDuration("WORKER_INTERVAL", 10*time.Second),

		CryptoWebhookSecret: getEnv("CRYPTO_WEBHOOK_SECRET", ""),
		CryptoAPIKey:        getEnv("CRYPTO_API_KEY", ""),
		CryptoInvoiceExpiry: getEnvDuration("CRYPTO_INVOICE_EXPIRY", 30*time.Minute),

		PayPalClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
		PayPalClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),

		MidtransServerKey:    getEnv("MIDTRANS_SERVER_KEY", ""),
		MidtransClientKey:    getEnv("MIDTRANS_CLIENT_KEY", ""),
		MidtransIsProduction: getEnvBool("MIDTRANS_IS_PRODUCTION", false),

		BankID:            getEnv("BANK_ID", ""),
		BankBINPrefixes:   getEnvList("BANK_BIN_PREFIXES"),
		BankDebitAttempts: getEnvInt("BANK_DEBIT_ATTEMPTS", 3),
	}
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = StorageDriverMemory
		if cfg.DatabaseURL != "" {
			cfg.StorageDriver = StorageDriverPostgres
		}
	}
	return cfg
}

// UseDatabase reports whether stores are backed by gorm
func (c *Config) UseDatabase() bool {
	return c.StorageDriver == StorageDriverPostgres && c.DatabaseURL != ""
}

// SlogLevel parses LogLevel, defaulting to info
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// InitLogger installs a JSON slog handler as the process default
func (c *Config) InitLogger(service string) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: c.SlogLevel()})
	slog.SetDefault(slog.New(handler).With("service", service))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		slog.Warn("invalid boolean in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return d
}

func getEnvList(key string) []string {
	var items []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
