package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/webhangin/backend/internal/config"
	"github.com/webhangin/backend/internal/ice"
	"github.com/webhangin/backend/internal/room"
	"github.com/webhangin/backend/internal/server"
	"github.com/webhangin/backend/internal/sfu"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	provider := ice.NewProvider(cfg.Xirsys)
	// Warm the TURN credential cache so the first join does not pay for it.
	provider.Fetch(ctx)

	registry := room.NewRegistry(sfu.NewWorker())
	srv := server.New(cfg, registry, provider)

	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.SetupRouter(),
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("webhangin server started")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
