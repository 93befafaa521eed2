package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/antoniostano/relay/internal/config"
	"github.com/antoniostano/relay/internal/memory"
)

func init() {
	var limit int
	var ttl int64
	historyCmd := &cobra.Command{
		Use:   "history USER_ID",
		Short: "Print the context window for a user, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(cfg config.Config, store memory.Store) error {
				if !cmd.Flags().Changed("limit") {
					limit = cfg.MemoryMaxMessages
				}
				if !cmd.Flags().Changed("ttl") {
					ttl = cfg.MemoryTTLSeconds
				}
				return runHistory(cmd.Context(), store, args[0], limit, ttl, jsonFlag, os.Stdout)
			})
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 16, "Maximum turns to print")
	historyCmd.Flags().Int64Var(&ttl, "ttl", 0, "Only turns newer than this many seconds (0 = all)")
	rootCmd.AddCommand(historyCmd)

	countCmd := &cobra.Command{
		Use:   "count USER_ID",
		Short: "Count turns inside the TTL window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(cfg config.Config, store memory.Store) error {
				if !cmd.Flags().Changed("ttl") {
					ttl = cfg.MemoryTTLSeconds
				}
				return runCount(cmd.Context(), store, args[0], ttl, os.Stdout)
			})
		},
	}
	countCmd.Flags().Int64Var(&ttl, "ttl", 0, "Only turns newer than this many seconds (0 = all)")
	rootCmd.AddCommand(countCmd)
}

func runHistory(ctx context.Context, store memory.Store, userID string, limit int, ttl int64, asJSON bool, out io.Writer) error {
	turns, err := store.GetHistory(ctx, userID, limit, ttl)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(turns)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tROLE\tCONTENT")
	for _, t := range turns {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", time.Unix(t.Timestamp, 0).UTC().Format(time.RFC3339), t.Role, t.Content)
	}
	return tw.Flush()
}

func runCount(ctx context.Context, store memory.Store, userID string, ttl int64, out io.Writer) error {
	n, err := store.CountContext(ctx, userID, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, n)
	return err
}
