package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"momentum/internal/amqp"
	"momentum/internal/config"
	applog "momentum/internal/log"
	"momentum/internal/services"
	"momentum/internal/storage"
	"momentum/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	logger.Info("Starting audit-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	auditor := services.NewAuditor(store, cfg.AuditRepair)
	auditWorker := worker.NewAuditWorker(auditor, cfg.AuditSchedule)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Recover from downtime before consuming fresh events.
	startupCtx, startupCancel := context.WithTimeout(ctx, 5*time.Minute)
	if err := auditWorker.RunSweepNow(startupCtx); err != nil {
		logger.Error("Startup sweep failed", "error", err)
		// Keep running; the scheduled sweep will retry.
	}
	startupCancel()

	if err := auditWorker.Start(); err != nil {
		logger.Error("Failed to start audit worker", "error", err)
		os.Exit(1)
	}
	defer auditWorker.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.AMQPURL != "" {
		events, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer events.Close()

		g.Go(func() error {
			return events.ConsumeLedgerEvents(gctx, auditWorker.HandleLedgerEvent)
		})
		logger.Info("Consuming ledger events", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("Ledger event consumption disabled - no AMQP_URL provided")
	}

	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Audit worker failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Audit worker stopped gracefully")
}
