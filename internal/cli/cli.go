// Package cli holds the cobra commands behind the cycle, portfolio and bot binaries.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MintTrader/MinTrader/internal/config"
	"github.com/MintTrader/MinTrader/internal/storage"
)

// Exit codes shared by all binaries.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitConflict = 2
)

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, storage.ErrVersionConflict):
		return ExitConflict
	default:
		return ExitFailure
	}
}

// Execute runs cmd until SIGINT or SIGTERM and exits with its status.
func Execute(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(ExitCode(err))
}

// overrides are command-line settings that win over the file and the environment.
type overrides struct {
	configPath string
	symbols    string
	provider   string
	store      string
	dryRun     bool
}

func (o *overrides) bind(cmd *cobra.Command, full bool) {
	cmd.PersistentFlags().StringVar(&o.configPath, "config", "config.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&o.store, "store", "", "state backend override (memory, sqlite, redis, s3)")
	if !full {
		return
	}
	cmd.Flags().StringVar(&o.symbols, "symbols", "", "comma-separated symbols, replaces the configured watchlist")
	cmd.Flags().StringVar(&o.provider, "provider", "", "reasoning provider override (openai, deepseek, ollama, rules)")
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "decide and evaluate risk without placing orders or committing")
}

func (o *overrides) load(cmd *cobra.Command) (*config.Config, error) {
	path := o.configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		path = ""
	}

	cfg, err := config.LoadWith(path, func(cfg *config.Config) {
		if o.symbols != "" {
			cfg.Trading.Symbols = config.SplitSymbols(o.symbols)
			cfg.Trading.WatchlistTop = 0
		}
		if o.provider != "" {
			cfg.AI.Provider = o.provider
		}
		if o.store != "" {
			cfg.State.Backend = o.store
		}
		if o.dryRun {
			cfg.Trading.DryRun = true
		}
	})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
