// Package config loads the relay configuration from the environment. A .env
// file in the working directory is read first when present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/kaloslazo/NubuStream/internal/durability"
)

// Config holds every tunable of the relay process.
type Config struct {
	ListenAddr     string `env:"LISTEN_ADDR" envDefault:":8765"`
	ServerName     string `env:"SERVER_NAME" envDefault:"nubustream-relay"`
	MaxConnections int    `env:"MAX_CONNECTIONS" envDefault:"100000"`

	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"0s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	AuthTimeout       time.Duration `env:"AUTH_TIMEOUT" envDefault:"10s"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"10s"`

	BroadcastConcurrency int `env:"BROADCAST_CONCURRENCY" envDefault:"64"`

	DurabilityBackend string        `env:"DURABILITY_BACKEND" envDefault:"none"`
	DurabilityTimeout time.Duration `env:"DURABILITY_TIMEOUT" envDefault:"2s"`
	RedisAddr         string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	NATSURL           string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	AuditDatabaseURL string `env:"AUDIT_DATABASE_URL"`

	BlockedWords           []string `env:"BLOCKED_WORDS" envSeparator:"," envDefault:"spam,toxic,hate"`
	ModerationSpamPatterns bool     `env:"MODERATION_SPAM_PATTERNS" envDefault:"false"`

	ReclaimEmptyRooms bool `env:"RECLAIM_EMPTY_ROOMS" envDefault:"false"`
	NotifyRejections  bool `env:"NOTIFY_REJECTIONS" envDefault:"false"`

	StatusLogInterval time.Duration `env:"STATUS_LOG_INTERVAL" envDefault:"30s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Load reads .env (if any) and parses the environment into a validated
// Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	return Parse()
}

// Parse reads the current environment without touching .env.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the relay cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("LISTEN_ADDR must not be empty"))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, errors.New("MAX_CONNECTIONS must not be negative"))
	}
	if c.BroadcastConcurrency < 1 {
		errs = append(errs, errors.New("BROADCAST_CONCURRENCY must be at least 1"))
	}
	for name, d := range map[string]time.Duration{
		"READ_TIMEOUT":        c.ReadTimeout,
		"WRITE_TIMEOUT":       c.WriteTimeout,
		"HEARTBEAT_INTERVAL":  c.HeartbeatInterval,
		"HEARTBEAT_TIMEOUT":   c.HeartbeatTimeout,
		"STATUS_LOG_INTERVAL": c.StatusLogInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.AuthTimeout <= 0 {
		errs = append(errs, errors.New("AUTH_TIMEOUT must be positive"))
	}
	if c.DurabilityTimeout <= 0 {
		errs = append(errs, errors.New("DURABILITY_TIMEOUT must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}
	if _, err := c.Backend(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Backend returns the parsed DURABILITY_BACKEND.
func (c Config) Backend() (durability.Backend, error) {
	return durability.ParseBackend(c.DurabilityBackend)
}
