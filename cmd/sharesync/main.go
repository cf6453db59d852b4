// Command sharesync is a thin CLI wrapper around the sync engine: it
// wires configuration, the SQLite store, and the HTTP transport together
// and exposes push, pull, and status as subcommands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/sharesync/internal/config"
	"github.com/steveyegge/sharesync/internal/engine"
	"github.com/steveyegge/sharesync/internal/store/sqlite"
	"github.com/steveyegge/sharesync/internal/transport"
)

var (
	configPath string
	verbose    bool

	// rootCtx/rootCancel are set up once in PersistentPreRun and cancelled
	// on SIGINT/SIGTERM so an in-flight pull's structured-concurrency
	// scope unwinds cleanly.
	rootCtx    context.Context
	rootCancel context.CancelFunc

	cfg *config.Config
	eng *engine.Engine
)

var rootCmd = &cobra.Command{
	Use:   "sharesync",
	Short: "sharesync - client-side sync engine for a Share instance",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		wd, err := os.Getwd()
		if err == nil {
			override, err := config.LoadRepoOverride(wd)
			if err != nil {
				return err
			}
			cfg = override.Apply(cfg)
		}

		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		st, err := sqlite.Connect(rootCtx, cfg.SQLiteDSN, sqlite.WithLogger(logger), sqlite.WithMaxElapsedTime(cfg.ConnectTimeout))
		if err != nil {
			return fmt.Errorf("sharesync: connect store: %w", err)
		}

		tr := transport.NewHTTPClient(cfg.ServerURL, cfg.AuthToken, logger)
		eng = engine.New(st, tr, logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (optional; env vars and defaults apply otherwise)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")

	rootCmd.AddCommand(pushCmd, pullCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
