// Package main is the entry point for the risk engine HTTP service. It wires
// configuration, the history database, the analysis engine, the maintenance
// scheduler and the API server, then waits for a shutdown signal.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/quantfolio/riskengine/internal/config"
	"github.com/quantfolio/riskengine/internal/engine"
	"github.com/quantfolio/riskengine/internal/marketdata"
	"github.com/quantfolio/riskengine/internal/scheduler"
	"github.com/quantfolio/riskengine/internal/server"
	"github.com/quantfolio/riskengine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting risk engine")

	historyDB, err := marketdata.OpenDB(filepath.Join(cfg.DataDir, "history.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()

	history, err := marketdata.NewHistoryStore(historyDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize history store")
	}

	eng := engine.New(cfg.EngineConfig(), log)

	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.MaintenanceSchedule, scheduler.NewHistoryMaintenanceJob(historyDB, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register maintenance job")
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:         log,
		Engine:      eng,
		History:     history,
		HistoryDB:   historyDB,
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		CORSOrigins: cfg.CORSOrigins,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("Risk engine stopped")
}
