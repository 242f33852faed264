package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mpesa-token-bridge/internal/config"
	"github.com/mpesa-token-bridge/internal/data/memory"
	"github.com/mpesa-token-bridge/internal/data/postgres"
	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/logger"
	"github.com/mpesa-token-bridge/internal/platform/persistence"
)

var Version = "dev"

var configName string

func main() {
	rootCmd := &cobra.Command{
		Use:          "bridgectl",
		Short:        "Operator tooling for the M-Pesa token bridge",
		Version:      Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configName, "config", "bridge_processor", "config file name without the .env suffix")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(reconcileCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// environment is the configuration and logger shared by every subcommand
type environment struct {
	cfg *config.Config
	log *slog.Logger
}

func loadEnvironment() (*environment, error) {
	cfg, err := config.LoadConfig(configName)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return &environment{cfg: cfg, log: logger.NewLogger(cfg)}, nil
}

// openStore returns the configured transaction store and its close function
func (e *environment) openStore(ctx context.Context) (payment.Repository, func(), error) {
	if e.cfg.StoreDriver == config.StoreDriverMemory {
		return memory.NewTransactionRepository(), func() {}, nil
	}

	postgresDB, err := persistence.NewPostgresDB(ctx, e.log, &e.cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open transaction store: %w", err)
	}
	return postgres.NewTransactionRepository(e.log, postgresDB), postgresDB.Close, nil
}
