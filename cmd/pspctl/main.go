// Command pspctl is the operator CLI of the PSP: schema migration, task scheduling and QR tooling.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sep_psp/internal/config"
	"sep_psp/internal/services"
)

var rootCmd = &cobra.Command{
	Use:           "pspctl",
	Short:         "Operator tooling for the payment service provider",
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(scheduleTaskCmd)
	rootCmd.AddCommand(schedulePurgeCmd)
	rootCmd.AddCommand(resendCmd)
	rootCmd.AddCommand(qrCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openDatabase loads the environment and opens the migrated database stores
func openDatabase() (*config.Config, *services.Stores, error) {
	cfg := config.Load()
	cfg.InitLogger("pspctl")
	if !cfg.UseDatabase() {
		return nil, nil, fmt.Errorf("DATABASE_URL is not set")
	}
	stores, err := services.OpenStores(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return cfg, stores, nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, err := openDatabase()
		if err != nil {
			return err
		}
		fmt.Println("Schema is up to date")
		return nil
	},
}
