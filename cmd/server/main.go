package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/consult/internal/adapters/auth"
	router "github.com/dkeye/consult/internal/adapters/http"
	"github.com/dkeye/consult/internal/adapters/store"
	"github.com/dkeye/consult/internal/app"
	"github.com/dkeye/consult/internal/config"
	"github.com/dkeye/consult/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	config.LogConfig{Level: "info", Console: true}.Setup()

	cfg, err := config.Load(nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.Log.Setup()
	if err := cfg.CheckServer(); err != nil {
		log.Fatal().Err(err).Msg("set CONSULT_AUTH_SECRET")
	}

	records, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	hub := app.NewHub(app.NewRecorder(records), app.PolicyByName(cfg.Signal.Backpressure))
	tickets := auth.NewTickets(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TicketTTL)

	r := router.SetupRouter(ctx, cfg, hub, tickets)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("consult signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func openStore(ctx context.Context, cfg config.StoreConfig) (core.CallRecordStore, func(), error) {
	if cfg.Driver != "postgres" {
		log.Info().Str("module", "store").Msg("using in-memory call records")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.OpenPostgres(ctx, cfg.DSN, cfg.Table)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			log.Error().Err(err).Str("module", "store").Msg("close")
		}
	}, nil
}
