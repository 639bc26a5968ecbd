package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ayusman/janken/internal/config"
	"github.com/ayusman/janken/internal/store"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// cfg is the loaded configuration shared by subcommands.
	cfg config.Config

	configPath string
	dataDir    string
)

var rootCmd = &cobra.Command{
	Use:           "janken",
	Short:         "Hand gesture classification from a live camera",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			dir := dataDir
			if dir == "" {
				dir = config.DefaultDataDir()
			}
			path = config.Path(dir)
		}

		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		return cfg.Validate()
	},
}

// Execute runs the root command with a context cancelled on SIGINT or
// SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "janken:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.janken/config.json)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.janken)")
}

// openStore opens the history database in the data directory.
func openStore() (*store.Store, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}
	st, err := store.New(cfg.HistoryPath())
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return st, nil
}
