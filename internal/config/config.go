package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Cache backends accepted by CACHE_BACKEND.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

type Config struct {
	// Ops HTTP server (health, readiness, metrics)
	OpsPort string

	// Ledger store
	SQLiteDBPath      string
	StoreMaxRetries   int
	StoreRetryBackoff time.Duration
	OperationTimeout  time.Duration

	// AMQP; an empty URL disables events
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Recurring scheduler
	RecurringInterval      time.Duration
	RecurringConcurrency   int
	RecurringMaxCatchUp    int
	RecurringRecordTimeout time.Duration

	// Budget alerts
	BudgetSweepInterval time.Duration

	// Category cache
	CacheBackend string
	CacheTTL     time.Duration
	CacheSize    int
	RedisAddr    string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		OpsPort: getEnv("OPS_PORT", "8081"),

		SQLiteDBPath:      getEnv("SQLITE_DB_PATH", "./data/fintrack.db"),
		StoreMaxRetries:   getEnvInt("STORE_MAX_RETRIES", 3),
		StoreRetryBackoff: getEnvDuration("STORE_RETRY_BACKOFF", 50*time.Millisecond),
		OperationTimeout:  getEnvDuration("OPERATION_TIMEOUT", 10*time.Second),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "fintrack"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "transaction_events"),

		RecurringInterval:      getEnvDuration("RECURRING_PROCESSOR_INTERVAL", time.Hour),
		RecurringConcurrency:   getEnvInt("RECURRING_CONCURRENCY", 4),
		RecurringMaxCatchUp:    getEnvInt("RECURRING_MAX_CATCHUP", 1000),
		RecurringRecordTimeout: getEnvDuration("RECURRING_RECORD_TIMEOUT", 30*time.Second),

		BudgetSweepInterval: getEnvDuration("BUDGET_SWEEP_INTERVAL", 6*time.Hour),

		CacheBackend: getEnv("CACHE_BACKEND", CacheMemory),
		CacheTTL:     getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheSize:    getEnvInt("CACHE_SIZE", 256),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.OpsPort); err != nil {
		errors = append(errors, fmt.Sprintf("invalid ops port '%s': must be a number", c.OpsPort))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid ops port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
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
	if c.StoreMaxRetries < 0 || c.StoreMaxRetries > 10 {
		errors = append(errors, fmt.Sprintf("invalid store max retries %d: must be between 0 and 10", c.StoreMaxRetries))
	}
	if c.StoreRetryBackoff <= 0 {
		errors = append(errors, fmt.Sprintf("invalid store retry backoff %v: must be positive", c.StoreRetryBackoff))
	}
	if c.OperationTimeout < 0 {
		errors = append(errors, fmt.Sprintf("invalid operation timeout %v: cannot be negative", c.OperationTimeout))
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
	if c.RecurringMaxCatchUp < 1 {
		errors = append(errors, fmt.Sprintf("invalid recurring max catch-up %d: must be at least 1", c.RecurringMaxCatchUp))
	}
	if c.RecurringRecordTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid recurring record timeout %v: must be positive", c.RecurringRecordTimeout))
	}

	if c.BudgetSweepInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid budget sweep interval %v: must be at least 1 minute", c.BudgetSweepInterval))
	}

	switch c.CacheBackend {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.RedisAddr == "" {
			errors = append(errors, "Redis address is required when using the redis cache backend")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid cache backend '%s': must be one of %v",
			c.CacheBackend, []string{CacheNone, CacheMemory, CacheRedis}))
	}
	if c.CacheBackend != CacheNone {
		if c.CacheTTL <= 0 {
			errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must be positive", c.CacheTTL))
		}
		if c.CacheBackend == CacheMemory && c.CacheSize < 1 {
			errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheSize))
		}
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// EventsEnabled reports whether an AMQP broker is configured.
func (c *Config) EventsEnabled() bool {
	return c.AMQPURL != ""
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
