package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/antoniostano/relay/internal/app"
	"github.com/antoniostano/relay/internal/config"
	"github.com/antoniostano/relay/internal/extract"
	"github.com/antoniostano/relay/internal/memory"
	"github.com/antoniostano/relay/internal/session"
)

func init() {
	turnCmd := &cobra.Command{
		Use:   "turn USER_ID TEXT",
		Short: "Run one conversational turn against the configured model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(cfg config.Config, store memory.Store) error {
				model, err := app.NewModel(cfg)
				if err != nil {
					return err
				}
				f := session.NewFacade(store, model, session.Config{
					SystemPrompt:   cfg.SystemPrompt,
					MaxMessages:    cfg.MemoryMaxMessages,
					TTLSeconds:     cfg.MemoryTTLSeconds,
					MaxPreferences: cfg.MemoryMaxPreferences,
					ModelTimeout:   cfg.ModelTimeout,
					FallbackReply:  cfg.FallbackReply,
				},
					session.WithLogger(zerolog.Nop()),
					session.WithDetector(extract.NewKeywordDetector(cfg.RememberKeywords, cfg.ForgetKeywords)),
				)
				return runTurn(cmd.Context(), f, args[0], args[1], os.Stdout)
			})
		},
	}
	rootCmd.AddCommand(turnCmd)
}

func runTurn(ctx context.Context, f *session.Facade, userID, text string, out io.Writer) error {
	res, err := f.RunTurn(ctx, text, userID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
