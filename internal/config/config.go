package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// Backend drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the resolved daemon configuration: the local YAML config with
// environment overrides applied.
type Config struct {
	// Server
	Bind      string
	Port      int
	LogLevel  string
	Debug     bool
	RateLimit int // requests per second per client, 0 disables

	// Learner
	UserID     string
	ContentDir string

	// Backend
	Driver      string // sqlite, postgres
	DatabaseURL string

	// RabbitMQ
	AMQPURL         string
	ConsumerWorkers int

	// Timings
	AdvanceDelay      time.Duration
	MatchAdvanceDelay time.Duration
	FlashDelay        time.Duration
	BadgeDuration     time.Duration

	// Outbox
	FlushInterval     time.Duration
	OutboxBatchSize   int
	OutboxMaxAttempts int
}

// Load applies CADENCE_* environment variables on top of local.
func Load(local *LocalConfig) (*Config, error) {
	if local == nil {
		local = DefaultLocalConfig()
	}
	t := local.Timings

	cfg := &Config{
		Bind:              getEnv("CADENCE_BIND", local.Daemon.Bind),
		Port:              getEnvInt("CADENCE_PORT", local.Daemon.Port),
		LogLevel:          getEnv("CADENCE_LOG_LEVEL", local.Daemon.LogLevel),
		Debug:             getEnvBool("CADENCE_DEBUG", false),
		RateLimit:         getEnvInt("CADENCE_RATE_LIMIT", local.Daemon.RateLimit),
		UserID:            getEnv("CADENCE_USER", local.User.ID),
		ContentDir:        getEnv("CADENCE_CONTENT_DIR", local.Content.Dir),
		Driver:            getEnv("CADENCE_DRIVER", local.Backend.Driver),
		DatabaseURL:       getEnv("CADENCE_DATABASE_URL", local.Backend.DatabaseURL),
		AMQPURL:           getEnv("CADENCE_AMQP_URL", local.Queue.AMQPURL),
		ConsumerWorkers:   getEnvInt("CADENCE_CONSUMER_WORKERS", local.Queue.Workers),
		AdvanceDelay:      getEnvDuration("CADENCE_ADVANCE_DELAY", millis(t.AdvanceMS)),
		MatchAdvanceDelay: getEnvDuration("CADENCE_MATCH_ADVANCE_DELAY", millis(t.MatchAdvanceMS)),
		FlashDelay:        getEnvDuration("CADENCE_FLASH_DELAY", millis(t.FlashMS)),
		BadgeDuration:     getEnvDuration("CADENCE_BADGE_DURATION", millis(t.BadgeMS)),
		FlushInterval:     getEnvDuration("CADENCE_OUTBOX_INTERVAL", time.Duration(local.Outbox.FlushIntervalSeconds)*time.Second),
		OutboxBatchSize:   getEnvInt("CADENCE_OUTBOX_BATCH", local.Outbox.BatchSize),
		OutboxMaxAttempts: getEnvInt("CADENCE_OUTBOX_MAX_ATTEMPTS", local.Outbox.MaxAttempts),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that cannot fall back to a default.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("CADENCE_DATABASE_URL must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown backend driver %q", c.Driver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.UserID == "" {
		return fmt.Errorf("user id must be set")
	}
	return nil
}

// Addr returns the daemon listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
