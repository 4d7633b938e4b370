package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ledgerengine/internal/backend"
	"ledgerengine/internal/config"
	"ledgerengine/internal/log"
	"ledgerengine/internal/services"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()
	level, _ := log.ParseLevel(cfg.LogLevel)
	logger := log.New(log.Config{Level: level, Component: log.ComponentRecurring})
	log.SetDefault(logger)

	logger.Info("Starting recurring-worker")

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	loc, _ := cfg.Location()
	rates, _ := cfg.Rates()
	logger.Info("Exchange rates loaded", "base", cfg.BaseCurrency, "currencies", rates.Currencies())

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
	if res.Publisher == nil {
		logger.Info("AMQP disabled - ledger events will not be published")
	}

	engine := backend.NewEngine(res.Store, res.Publisher, backend.EngineOptions{
		Clock:        services.SystemClock(loc),
		Converter:    rates,
		BaseCurrency: cfg.BaseCurrency,
		AlertCap:     cfg.AlertCap,
		Recurring: services.RecurringProcessorConfig{
			Interval:    cfg.RecurringInterval,
			Concurrency: cfg.RecurringConcurrency,
		},
	})

	// The first tick runs immediately, then every interval
	if err := engine.Recurring.Start(ctx); err != nil {
		logger.Error("Failed to start recurring processor", "error", err)
		os.Exit(1)
	}
	logger.Info("Recurring processor configured",
		"interval", cfg.RecurringInterval,
		"concurrency", cfg.RecurringConcurrency,
		"timezone", loc.String(),
		"backend", cfg.DataBackend)

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

	logger.Info("Shutting down recurring-worker...")
	if err := engine.Recurring.Stop(shutdownCtx); err != nil {
		logger.Warn("Shutdown timeout reached", "error", err)
	}
	cancel()
	logger.Info("Recurring-worker shutdown complete")
}
