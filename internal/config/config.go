package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	// Backend selection
	LedgerBackend string

	// Database
	SQLiteDBPath string

	// AMQP
	AMQPURL             string
	AMQPChangesExchange string
	AMQPNotifyQueue     string

	// Session
	FamilyID          string
	DebounceWindow    time.Duration
	MaxCatchUpPeriods int

	// Worker
	ReconcileSchedule string

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		LedgerBackend: getEnv("LEDGER_BACKEND", "memory"),
		SQLiteDBPath:  getEnv("SQLITE_DB_PATH", "./data/kidbank.db"),

		AMQPURL:             getEnv("AMQP_URL", ""),
		AMQPChangesExchange: getEnv("AMQP_CHANGES_EXCHANGE", "kidbank.changes"),
		AMQPNotifyQueue:     getEnv("AMQP_NOTIFY_QUEUE", "kidbank.notifications"),

		FamilyID:          getEnv("FAMILY_ID", ""),
		DebounceWindow:    getEnvDuration("DEBOUNCE_WINDOW", 500*time.Millisecond),
		MaxCatchUpPeriods: getEnvInt("MAX_CATCHUP_PERIODS", 52),

		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "@every 1h"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.LedgerBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid ledger backend '%s': must be one of %v", c.LedgerBackend, validBackends))
	}

	if c.LedgerBackend == "sqlite" {
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
		if c.AMQPChangesExchange == "" {
			errors = append(errors, "AMQP changes exchange cannot be empty when AMQP URL is provided")
		}
		if c.AMQPNotifyQueue == "" {
			errors = append(errors, "AMQP notify queue cannot be empty when AMQP URL is provided")
		}
	}

	if c.DebounceWindow < 0 {
		errors = append(errors, fmt.Sprintf("invalid debounce window %v: must not be negative", c.DebounceWindow))
	} else if c.DebounceWindow > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid debounce window %v: must be at most 1 minute", c.DebounceWindow))
	}

	if c.MaxCatchUpPeriods < 1 {
		errors = append(errors, fmt.Sprintf("invalid max catch-up periods %d: must be at least 1", c.MaxCatchUpPeriods))
	} else if c.MaxCatchUpPeriods > 520 {
		errors = append(errors, fmt.Sprintf("invalid max catch-up periods %d: must be at most 520", c.MaxCatchUpPeriods))
	}

	if c.ReconcileSchedule != "" {
		if _, err := cron.ParseStandard(c.ReconcileSchedule); err != nil {
			errors = append(errors, fmt.Sprintf("invalid reconcile schedule '%s': %v", c.ReconcileSchedule, err))
		}
	}

	if _, err := c.SlogLevel(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// SlogLevel parses LogLevel (debug, info, warn, error).
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel)
	}
	return level, nil
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
