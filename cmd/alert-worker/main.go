package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ledgerengine/internal/backend"
	"ledgerengine/internal/cache"
	"ledgerengine/internal/config"
	"ledgerengine/internal/log"
	"ledgerengine/internal/services"
	"ledgerengine/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()
	level, _ := log.ParseLevel(cfg.LogLevel)
	logger := log.New(log.Config{Level: level, Component: log.ComponentWorker})
	log.SetDefault(logger)

	logger.Info("Starting alert-worker")

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by the alert worker")
		os.Exit(1)
	}
	if cfg.DataBackend == string(backend.MemoryBackend) {
		logger.Warn("Memory backend is process-local; alerts will only reflect this worker's seed data")
	}
	loc, _ := cfg.Location()
	rates, _ := cfg.Rates()
	logger.Info("Exchange rates loaded", "base", cfg.BaseCurrency, "currencies", rates.Currencies())
	clock := services.SystemClock(loc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()
	if res.AMQP == nil {
		logger.Error("Failed to initialize AMQP client")
		os.Exit(1)
	}

	engine := backend.NewEngine(res.Store, res.Publisher, backend.EngineOptions{
		Clock:        clock,
		Converter:    rates,
		BaseCurrency: cfg.BaseCurrency,
		AlertCap:     cfg.AlertCap,
	})

	dedup := cache.NewLRUCache[struct{}](cfg.EventDedupSize, cfg.EventDedupTTL)
	sweeper := cache.NewSweeper(cfg.EventDedupTTL, dedup)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	alertWorker := worker.NewAlertWorker(engine.Alerts, dedup, clock)

	logger.Info("Performing startup alert refresh...")
	if err := alertWorker.StartupRefresh(ctx); err != nil {
		// Keep consuming; the next event retries the refresh
		logger.Error("Failed startup alert refresh", "error", err)
	}

	go func() {
		if err := res.AMQP.ConsumeLedgerEvents(ctx, alertWorker.HandleLedgerEvent); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error("Ledger event consumption failed", "error", err)
			}
			cancel()
		}
	}()

	logger.Info("Alert worker consuming ledger events",
		"queue", cfg.AMQPQueue,
		"alert_cap", cfg.AlertCap,
		"dedup_size", cfg.EventDedupSize,
		"dedup_ttl", cfg.EventDedupTTL)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down alert-worker...")
	cancel()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached")
	case <-time.After(2 * time.Second):
		logger.Info("Alert-worker shutdown complete")
	}
}
