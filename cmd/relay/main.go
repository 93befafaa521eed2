package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antoniostano/relay/internal/app"
	"github.com/antoniostano/relay/internal/config"
	"github.com/antoniostano/relay/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New("relay", "info")
		log.Fatal().Err(err).Msg("config error")
	}
	log := logger.New("relay", cfg.LogLevel)
	cfg.LogSummary(log)
	cfg.WarnMissing(log)

	ctx := context.Background()
	built, err := app.Build(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal().Stack().Err(err).Msg("build failed")
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Error().Err(err).Msg("cleanup failed")
		}
	}()
	log.Info().Str("model", built.Model).Msg("model resolved")

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	log.Info().Msg("shutdown complete")
}
