package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mkrogh/auctiond/internal/leader"
)

// Config represents the application configuration.
type Config struct {
	Server         ServerConfig    `yaml:"server"`
	Database       DatabaseConfig  `yaml:"database"`
	Redis          RedisConfig     `yaml:"redis"`
	NATS           NATSConfig      `yaml:"nats"`
	Bidding        BiddingConfig   `yaml:"bidding"`
	Telemetry      TelemetryConfig `yaml:"telemetry"`
	LeaderElection leader.Config   `yaml:"leader_election"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds store settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "postgres" or "memory"
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds the pub/sub bridge settings. An empty Addr disables
// the bridge and events fan out in-process only.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig holds the settlement stream settings. An empty URL disables
// settlement publishing.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// BiddingConfig holds arbitration settings.
type BiddingConfig struct {
	// ExtensionWindow is the default anti-snipe window W for auctions
	// created without their own.
	ExtensionWindow time.Duration `yaml:"extension_window"`
	// MaxCommitRetries bounds internal retries on version conflicts before
	// a bid fails with a transient try-again error.
	MaxCommitRetries int `yaml:"max_commit_retries"`
	// SweepInterval is how often the lifecycle sweeper scans for auctions
	// due to go live or end.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "postgres",
		},
		Bidding: BiddingConfig{
			ExtensionWindow:  2 * time.Minute,
			MaxCommitRetries: 5,
			SweepInterval:    time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "auctiond",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: leader.Defaults(),
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"memory\"", c.Database.Driver)
	}
	if c.Bidding.ExtensionWindow <= 0 {
		return fmt.Errorf("bidding.extension_window must be positive, got %s", c.Bidding.ExtensionWindow)
	}
	if c.Bidding.MaxCommitRetries < 1 {
		return fmt.Errorf("bidding.max_commit_retries must be at least 1, got %d", c.Bidding.MaxCommitRetries)
	}
	if c.Bidding.SweepInterval <= 0 {
		return fmt.Errorf("bidding.sweep_interval must be positive, got %s", c.Bidding.SweepInterval)
	}
	return nil
}
