// Package config loads the registry's configuration from environment
// variables and command-line flags, following the nested-struct
// caarlos0/env pattern used elsewhere in this dependency stack.
package config

import (
	"flag"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is the registry's full ambient configuration.
type Config struct {
	Server      ServerConfig      `envPrefix:"SERVER_"`
	Log         LogConfig         `envPrefix:"LOG_"`
	Coordinator CoordinatorConfig `envPrefix:"COORDINATOR_"`
	Logging     LoggingConfig     `envPrefix:"LOGGING_"`
	Metrics     MetricsConfig     `envPrefix:"METRICS_"`
}

// ServerConfig holds the HTTP transport's listen and advertised address.
type ServerConfig struct {
	// HTTPAddr is what this process listens on.
	HTTPAddr string `env:"ADDR" envDefault:":8081"`
	// AdvertiseAddr is what this node advertises as its primary endpoint
	// for replicas to forward writes to. Defaults to HTTPAddr.
	AdvertiseAddr string `env:"ADVERTISE_ADDR"`
}

// LogConfig selects and configures the durable command log backend.
type LogConfig struct {
	// Backend is "pebble" for an embedded single-node log, or "nats" for
	// a JetStream-backed distributed log.
	Backend string `env:"BACKEND" envDefault:"pebble"`

	// PebbleDir is where the embedded log stores its data, used when
	// Backend == "pebble".
	PebbleDir string `env:"PEBBLE_DIR" envDefault:"./data/log"`

	// NATSURL, StreamName are used when Backend == "nats".
	NATSURL    string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	StreamName string `env:"STREAM_NAME" envDefault:"REGISTRY_COMMANDS"`
}

// CoordinatorConfig selects and configures primary election, used only
// when LogConfig.Backend == "nats" (a pebble-backed node is always its
// own, sole primary).
type CoordinatorConfig struct {
	NATSURL      string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	ElectionBucket string `env:"ELECTION_BUCKET" envDefault:"REGISTRY_ELECTION"`
}

// LoggingConfig mirrors the rotation and level knobs natefinch/lumberjack
// and log/slog expose.
type LoggingConfig struct {
	Level      string `env:"LEVEL" envDefault:"info"`
	Output     string `env:"OUTPUT" envDefault:""` // empty means stdout
	MaxSizeMB  int    `env:"MAX_SIZE_MB" envDefault:"100"`
	MaxBackups int    `env:"MAX_BACKUPS" envDefault:"7"`
	MaxAgeDays int    `env:"MAX_AGE_DAYS" envDefault:"30"`
}

// MetricsConfig controls the ambient /metrics endpoint. Enabled decides
// whether metrics are recorded and the endpoint is mounted; the endpoint
// is always mounted at /metrics, and Path is not consulted.
type MetricsConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"true"`
	Path    string `env:"PATH" envDefault:"/metrics"`
}

// Load reads defaults, then environment variables, then command-line
// flags, in that order of increasing precedence.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment variables: %w", err)
	}

	fs := flag.NewFlagSet("registry", flag.ContinueOnError)
	fs.StringVar(&cfg.Server.HTTPAddr, "http-addr", cfg.Server.HTTPAddr, "HTTP server address")
	fs.StringVar(&cfg.Server.AdvertiseAddr, "advertise-addr", cfg.Server.AdvertiseAddr, "Address this node advertises to replicas")
	fs.StringVar(&cfg.Log.Backend, "log-backend", cfg.Log.Backend, "Command log backend: pebble or nats")
	fs.StringVar(&cfg.Log.PebbleDir, "pebble-dir", cfg.Log.PebbleDir, "Data directory for the embedded pebble log")
	fs.StringVar(&cfg.Log.NATSURL, "nats-url", cfg.Log.NATSURL, "NATS server URL for the log and coordinator")
	fs.StringVar(&cfg.Log.StreamName, "stream-name", cfg.Log.StreamName, "JetStream stream name for the command log")
	fs.StringVar(&cfg.Coordinator.ElectionBucket, "election-bucket", cfg.Coordinator.ElectionBucket, "JetStream KV bucket for primary election")
	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Logging.Output, "log-output", cfg.Logging.Output, "Log file path, empty for stdout")
	fs.BoolVar(&cfg.Metrics.Enabled, "metrics-enabled", cfg.Metrics.Enabled, "Expose the /metrics endpoint")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if cfg.Server.AdvertiseAddr == "" {
		cfg.Server.AdvertiseAddr = cfg.Server.HTTPAddr
	}
	cfg.Log.PebbleDir = filepath.Clean(cfg.Log.PebbleDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the registry cannot start with.
func (c *Config) Validate() error {
	switch c.Log.Backend {
	case "pebble", "nats":
	default:
		return fmt.Errorf("unknown log backend %q: want pebble or nats", c.Log.Backend)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server http address cannot be empty")
	}
	return nil
}
