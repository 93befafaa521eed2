package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/antoniostano/relay/internal/config"
	"github.com/antoniostano/relay/internal/memory"
)

func init() {
	prefsCmd := &cobra.Command{
		Use:   "prefs USER_ID",
		Short: "List remembered preferences, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(_ config.Config, store memory.Store) error {
				return runPrefs(cmd.Context(), store, args[0], jsonFlag, os.Stdout)
			})
		},
	}
	rootCmd.AddCommand(prefsCmd)

	var maxItems int
	rememberCmd := &cobra.Command{
		Use:   "remember USER_ID ITEM",
		Short: "Remember a preference for a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(cfg config.Config, store memory.Store) error {
				if !cmd.Flags().Changed("max") {
					maxItems = cfg.MemoryMaxPreferences
				}
				return runRemember(cmd.Context(), store, args[0], args[1], maxItems, os.Stdout)
			})
		},
	}
	rememberCmd.Flags().IntVar(&maxItems, "max", memory.DefaultMaxPreferences, "Preference cap to enforce")
	rootCmd.AddCommand(rememberCmd)

	forgetCmd := &cobra.Command{
		Use:   "forget USER_ID",
		Short: "Forget every preference of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(_ config.Config, store memory.Store) error {
				return runForget(cmd.Context(), store, args[0], os.Stdout)
			})
		},
	}
	rootCmd.AddCommand(forgetCmd)
}

func runPrefs(ctx context.Context, store memory.Store, userID string, asJSON bool, out io.Writer) error {
	items, err := store.GetPreferences(ctx, userID)
	if err != nil {
		return err
	}
	if asJSON {
		return json.NewEncoder(out).Encode(items)
	}
	for i, item := range items {
		_, _ = fmt.Fprintf(out, "%d. %s\n", i+1, item)
	}
	return nil
}

func runRemember(ctx context.Context, store memory.Store, userID, item string, maxItems int, out io.Writer) error {
	if err := store.AddPreference(ctx, userID, item, maxItems); err != nil {
		return err
	}
	return runPrefs(ctx, store, userID, false, out)
}

func runForget(ctx context.Context, store memory.Store, userID string, out io.Writer) error {
	if err := store.ClearPreferences(ctx, userID); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "preferences cleared for %s\n", userID)
	return err
}
