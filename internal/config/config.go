// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load(ctx) layers a YAML file and KUDOS_* env vars over the defaults.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"runtime"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Store selects the persistence backend: memory, sqlite or postgres.
	Store       string `koanf:"store"`
	SQLitePath  string `koanf:"sqlite_path"`
	PostgresURL string `koanf:"postgres_url"`

	// RulesPath points at a YAML rule catalog. Empty uses the embedded default.
	RulesPath string `koanf:"rules_path"`

	// EventQueueSize bounds the in-memory queue of event ids awaiting evaluation.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of evaluation workers.
	WorkerCount int `koanf:"worker_count"`

	// TeamQueueSize and TeamWorkerCount size the user change feed consumers.
	TeamQueueSize   int `koanf:"team_queue_size"`
	TeamWorkerCount int `koanf:"team_worker_count"`

	// DedupeSize bounds the producer event id cache.
	DedupeSize int `koanf:"dedupe_size"`

	// TxMaxAttempts bounds conflict retries inside one store transaction.
	TxMaxAttempts int `koanf:"tx_max_attempts"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// RedisAddr enables reward notifications when set.
	RedisAddr    string `koanf:"redis_addr"`
	RedisChannel string `koanf:"redis_channel"`

	// OTLPEndpoint enables trace export when set, e.g. http://localhost:4318.
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	ServiceName  string `koanf:"service_name"`
}

// New creates a Config populated with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		Store:               StoreMemory,
		SQLitePath:          "kudos.db",
		EventQueueSize:      10_000,
		WorkerCount:         runtime.NumCPU() * 4,
		TeamQueueSize:       10_000,
		TeamWorkerCount:     runtime.NumCPU(),
		DedupeSize:          100_000,
		TxMaxAttempts:       10,
		MaxLeaderboardLimit: 100,
		RedisChannel:        "kudos:rewards",
		ServiceName:         "kudos",
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.EventQueueSize <= 0 || c.TeamQueueSize <= 0:
		return fmt.Errorf("%w: queue sizes must be positive", ErrInvalidConfig)
	case c.WorkerCount <= 0 || c.TeamWorkerCount <= 0:
		return fmt.Errorf("%w: worker counts must be positive", ErrInvalidConfig)
	case c.DedupeSize <= 0:
		return fmt.Errorf("%w: dedupe_size must be positive", ErrInvalidConfig)
	case c.TxMaxAttempts <= 0:
		return fmt.Errorf("%w: tx_max_attempts must be positive", ErrInvalidConfig)
	case c.MaxLeaderboardLimit <= 0:
		return fmt.Errorf("%w: max_leaderboard_limit must be positive", ErrInvalidConfig)
	}

	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite_path is required for the sqlite store", ErrInvalidConfig)
		}
	case StorePostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("%w: postgres_url is required for the postgres store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}
	return nil
}
