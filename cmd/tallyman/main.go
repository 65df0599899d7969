package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tallyman/internal/api"
	"tallyman/internal/config"
	"tallyman/internal/engine"
	"tallyman/internal/gateway"
	"tallyman/internal/journal"
	"tallyman/internal/metrics"
	"tallyman/internal/scheduler"
	"tallyman/internal/store"
	"tallyman/internal/util"
)

func main() {
	cfgPath := "config/tallyman.yaml"
	if p := os.Getenv("TALLYMAN_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)
	logger.Info("tallyman starting", "simulation", cfg.Simulation, "schedule", cfg.Schedule.Time, "timezone", cfg.Schedule.Timezone)

	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open order store: %v", err)
	}
	defer st.Close()

	gw := gateway.NewSinopacGateway(cfg.Sinopac.BaseURL, cfg.Simulation, cfg.Sinopac.CallTimeout, cfg.Sinopac.OrderRatePerMin, logger)
	creds := gateway.Credentials{
		APIKey:     cfg.Sinopac.APIKey,
		APISecret:  cfg.Sinopac.APISecret,
		CAPath:     cfg.Sinopac.CAPath,
		CAPassword: cfg.Sinopac.CAPassword,
		CAPersonID: cfg.Sinopac.CAPersonID,
	}

	m := metrics.New()
	jr := journal.NewParquetJournal(cfg.Storage.DataDir)
	eng := engine.New(st, gw, creds, jr, m, logger)

	hour, minute, err := cfg.ScheduleTime()
	if err != nil {
		log.Fatalf("invalid schedule: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("invalid timezone: %v", err)
	}

	sched := scheduler.New(hour, minute, loc, func(ctx context.Context) {
		if _, err := eng.RunPass(ctx); err != nil {
			logger.Error("scheduled reconciliation failed", "err", err)
		}
	}, logger)

	srv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: api.NewServer(st, gw, creds, eng, m, logger).Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sched.Start(ctx)
	go func() {
		logger.Info("http front end listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "err", err)
	}
}
