package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/antoniostano/relay/internal/app"
	"github.com/antoniostano/relay/internal/config"
	"github.com/antoniostano/relay/internal/memory"
)

var (
	backendFlag string
	sqliteFlag  string
	dsnFlag     string
	jsonFlag    bool
	rootCmd     = &cobra.Command{
		Use:           "memoryctl",
		Short:         "Inspect and edit the relay's per-user conversational memory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// loadConfig reads the relay environment and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if backendFlag != "" {
		cfg.MemoryBackend = backendFlag
	}
	if sqliteFlag != "" {
		cfg.SQLitePath = sqliteFlag
	}
	if dsnFlag != "" {
		cfg.DatabaseURL = dsnFlag
	}
	// One-shot process; a cache would only add a layer.
	cfg.PreferenceCache = false
	return cfg, nil
}

// withStore opens the configured store for the duration of fn.
func withStore(ctx context.Context, fn func(cfg config.Config, store memory.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&backendFlag, "backend", "b", "", "Memory backend: auto|sqlite|postgres (default from MEMORY_BACKEND)")
	rootCmd.PersistentFlags().StringVar(&sqliteFlag, "sqlite", "", "SQLite database path (default from SQLITE_DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&dsnFlag, "dsn", "", "Postgres connection URL (default from DATABASE_URL)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print JSON instead of a table")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
