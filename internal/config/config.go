// Package config loads the engine configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ledgerengine/internal/core"
	"ledgerengine/internal/currency"
	"ledgerengine/internal/log"
)

type Config struct {
	// Backend selection
	DataBackend string

	// Database
	SQLiteDBPath string
	// MemorySeedFile optionally seeds the memory backend from JSON.
	MemorySeedFile string

	// AMQP (empty URL disables event publishing)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Recurring processor
	RecurringInterval    time.Duration
	RecurringConcurrency int

	// Alerts
	AlertCap       int
	EventDedupSize int
	EventDedupTTL  time.Duration

	// Money and dates
	BaseCurrency  string
	ExchangeRates string
	Timezone      string

	LogLevel string
}

func Load() *Config {
	return &Config{
		DataBackend:    getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath:   getEnv("SQLITE_DB_PATH", "./data/ledger.db"),
		MemorySeedFile: getEnv("MEMORY_SEED_FILE", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "ledger"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),

		RecurringInterval:    getEnvDuration("RECURRING_PROCESSOR_INTERVAL", time.Hour),
		RecurringConcurrency: getEnvInt("RECURRING_CONCURRENCY", 4),

		AlertCap:       getEnvInt("ALERT_CAP", 10),
		EventDedupSize: getEnvInt("EVENT_DEDUP_SIZE", 1000),
		EventDedupTTL:  getEnvDuration("EVENT_DEDUP_TTL", time.Hour),

		BaseCurrency:  strings.ToUpper(getEnv("BASE_CURRENCY", "USD")),
		ExchangeRates: getEnv("EXCHANGE_RATES", ""),
		Timezone:      getEnv("TIMEZONE", "Local"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RecurringInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid recurring interval %v: must be at least 1 second", c.RecurringInterval))
	} else if c.RecurringInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid recurring interval %v: must be at most 24 hours", c.RecurringInterval))
	}
	if c.RecurringConcurrency < 1 || c.RecurringConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid recurring concurrency %d: must be between 1 and 64", c.RecurringConcurrency))
	}

	if c.AlertCap < 1 || c.AlertCap > 100 {
		errors = append(errors, fmt.Sprintf("invalid alert cap %d: must be between 1 and 100", c.AlertCap))
	}
	if c.EventDedupSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid event dedup size %d: must be at least 1", c.EventDedupSize))
	}
	if c.EventDedupTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid event dedup TTL %v: must be at least 1 second", c.EventDedupTTL))
	}

	if !core.IsKnownCurrency(c.BaseCurrency) {
		errors = append(errors, fmt.Sprintf("invalid base currency '%s'", c.BaseCurrency))
	} else if _, err := c.Rates(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid exchange rates '%s': %v", c.ExchangeRates, err))
	}
	if _, err := c.Location(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log level: %v", err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Location resolves Timezone; "Local" and "" mean the host zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Rates builds the exchange rate table relative to BaseCurrency.
func (c *Config) Rates() (*currency.Rates, error) {
	return currency.ParseRates(c.BaseCurrency, c.ExchangeRates)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
