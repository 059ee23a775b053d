// Package config resolves replipush settings from flags, environment
// variables and .env files, in that order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/replipush/internal/engine"
	"github.com/roach88/replipush/internal/store"
)

// EnvPrefix prefixes every environment variable, e.g. REPLIPUSH_DB.
const EnvPrefix = "replipush"

// Keys. Flag names and viper keys are the same; env vars replace "-" with "_".
const (
	KeyDB           = "db"
	KeyLogLevel     = "log-level"
	KeyMaxOpenConns = "max-open-conns"
	KeyBusyTimeout  = "busy-timeout"
	KeyMaxRetries   = "max-retries"
	KeyBatchPolicy  = "batch-policy"
	KeyAMQPURL      = "amqp-url"
	KeyAMQPExchange = "amqp-exchange"
)

// DefaultAMQPExchange is the topic exchange pokes are published to.
const DefaultAMQPExchange = "replipush.pokes"

// Config is the resolved configuration.
type Config struct {
	DBPath       string
	LogLevel     slog.Level
	MaxOpenConns int
	BusyTimeout  time.Duration
	MaxRetries   int
	BatchPolicy  engine.BatchPolicy
	AMQPURL      string
	AMQPExchange string
}

// StoreOptions converts the storage settings into store.Open options.
func (c *Config) StoreOptions() []store.Option {
	return []store.Option{
		store.WithMaxOpenConns(c.MaxOpenConns),
		store.WithBusyTimeout(c.BusyTimeout),
		store.WithMaxRetries(c.MaxRetries),
	}
}

// LoadEnvFiles loads .env and .env.local from dir. Missing files are
// ignored and variables already set in the environment are never overridden.
func LoadEnvFiles(dir string) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))
	_ = godotenv.Load(filepath.Join(dir, ".env.local"))
}

// SetupFlags registers every setting as a persistent flag of cmd.
func SetupFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String(KeyDB, "replipush.db", "Path to the SQLite database")
	f.String(KeyLogLevel, "info", "Log level (debug, info, warn, error)")
	f.Int(KeyMaxOpenConns, store.DefaultMaxOpenConns, "Maximum open database connections")
	f.Duration(KeyBusyTimeout, store.DefaultBusyTimeout, "How long a writer waits for the database lock")
	f.Int(KeyMaxRetries, store.DefaultMaxRetries, "Transaction retries on lock contention")
	f.String(KeyBatchPolicy, engine.AbortBatch.String(), "What to do after a persistent failure (abort, continue)")
	f.String(KeyAMQPURL, "", "RabbitMQ URL for pokes (empty logs pokes instead)")
	f.String(KeyAMQPExchange, DefaultAMQPExchange, "Topic exchange for pokes")
}

// NewViper returns a viper instance reading REPLIPUSH_* environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load binds cmd's flags to v and returns the validated configuration.
func Load(v *viper.Viper, cmd *cobra.Command) (*Config, error) {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	cfg := &Config{
		DBPath:       v.GetString(KeyDB),
		MaxOpenConns: v.GetInt(KeyMaxOpenConns),
		BusyTimeout:  v.GetDuration(KeyBusyTimeout),
		MaxRetries:   v.GetInt(KeyMaxRetries),
		AMQPURL:      v.GetString(KeyAMQPURL),
		AMQPExchange: v.GetString(KeyAMQPExchange),
	}

	if cfg.DBPath == "" {
		return nil, fmt.Errorf("%s must not be empty", KeyDB)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString(KeyLogLevel))); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyLogLevel, err)
	}
	if cfg.MaxOpenConns < 1 {
		return nil, fmt.Errorf("%s must be at least 1, got %d", KeyMaxOpenConns, cfg.MaxOpenConns)
	}
	if cfg.BusyTimeout < 0 {
		return nil, fmt.Errorf("%s must not be negative", KeyBusyTimeout)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("%s must not be negative, got %d", KeyMaxRetries, cfg.MaxRetries)
	}
	policy, err := engine.ParseBatchPolicy(v.GetString(KeyBatchPolicy))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyBatchPolicy, err)
	}
	cfg.BatchPolicy = policy
	if cfg.AMQPURL != "" && cfg.AMQPExchange == "" {
		return nil, fmt.Errorf("%s is required when %s is set", KeyAMQPExchange, KeyAMQPURL)
	}

	return cfg, nil
}
