// tallyman-reconcile runs exactly one reconciliation pass and reports its
// start and finish. Intended for an operator triggering a run outside the
// daily schedule.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tallyman/internal/config"
	"tallyman/internal/engine"
	"tallyman/internal/gateway"
	"tallyman/internal/journal"
	"tallyman/internal/metrics"
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

	eng := engine.New(st, gw, creds, journal.NewParquetJournal(cfg.Storage.DataDir), metrics.New(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("reconciliation pass started")
	summary, err := eng.RunPass(ctx)
	if err != nil {
		log.Fatalf("reconciliation pass failed: %v", err)
	}
	fmt.Printf("reconciliation pass finished: submitted=%d retired=%d skipped=%d rejected=%d dropped=%d\n",
		summary.Submitted, summary.Retired, summary.Skipped, summary.Rejected, summary.Dropped)
}
