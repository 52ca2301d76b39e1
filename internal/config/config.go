// Package config loads the replica configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iudanet/dirsync/internal/validation"
)

// EnvConfigPath names the environment variable consulted when no -config flag is given
const EnvConfigPath = "DIRSYNC_CONFIG"

// Storage engines
const (
	EngineBolt   = "bolt"
	EngineSQLite = "sqlite"
)

// Config represents the replica configuration
type Config struct {
	Replica     ReplicaConfig     `yaml:"replica"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Peers       []PeerConfig      `yaml:"peers"`
	Replication ReplicationConfig `yaml:"replication"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
}

// ReplicaConfig identifies this replica
type ReplicaConfig struct {
	Name string `yaml:"name"`
	ID   uint16 `yaml:"id"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects the storage engine
type StorageConfig struct {
	Engine string `yaml:"engine"`
	Path   string `yaml:"path"`
}

// ReplicationConfig represents replay and catch-up configuration
type ReplicationConfig struct {
	Domains         []string      `yaml:"domains"`
	SingleValued    []string      `yaml:"single_valued"`
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	MaxRetries      uint64        `yaml:"max_retries"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	PurgeDelay      time.Duration `yaml:"purge_delay"`
	PurgeInterval   time.Duration `yaml:"purge_interval"`
	CatchUpInterval time.Duration `yaml:"catchup_interval"`
	BatchSize       int           `yaml:"batch_size"`
	PushTimeout     time.Duration `yaml:"push_timeout"`
}

// PeerConfig describes one remote replica
type PeerConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// AuthConfig represents replica-to-replica JWT configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// RateLimitConfig limits requests per replica
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Path    string `yaml:"path"`
	Enabled bool   `yaml:"enabled"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Replica.Name == "" {
		cfg.Replica.Name = fmt.Sprintf("replica-%d", cfg.Replica.ID)
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.Storage.Engine == "" {
		cfg.Storage.Engine = EngineBolt
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "dirsync.db"
	}

	if cfg.Replication.Workers == 0 {
		cfg.Replication.Workers = 8
	}
	if cfg.Replication.QueueSize == 0 {
		cfg.Replication.QueueSize = 256
	}
	if cfg.Replication.MaxRetries == 0 {
		cfg.Replication.MaxRetries = 5
	}
	if cfg.Replication.RetryBaseDelay == 0 {
		cfg.Replication.RetryBaseDelay = 10 * time.Millisecond
	}
	if cfg.Replication.PurgeDelay == 0 {
		cfg.Replication.PurgeDelay = 24 * time.Hour
	}
	if cfg.Replication.PurgeInterval == 0 {
		cfg.Replication.PurgeInterval = time.Hour
	}
	if cfg.Replication.CatchUpInterval == 0 {
		cfg.Replication.CatchUpInterval = 30 * time.Second
	}
	if cfg.Replication.BatchSize == 0 {
		cfg.Replication.BatchSize = 500
	}
	if cfg.Replication.PushTimeout == 0 {
		cfg.Replication.PushTimeout = 10 * time.Second
	}

	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 15 * time.Minute
	}

	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 1000
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Replica.ID == 0 {
		return errors.New("replica.id is required")
	}

	switch c.Storage.Engine {
	case EngineBolt, EngineSQLite:
	default:
		return fmt.Errorf("storage.engine must be one of: %s, %s", EngineBolt, EngineSQLite)
	}

	if len(c.Replication.Domains) == 0 {
		return errors.New("replication.domains must not be empty")
	}
	for _, dn := range c.Replication.Domains {
		if err := validation.ValidateDN(dn); err != nil {
			return fmt.Errorf("replication.domains: %w", err)
		}
	}
	for _, attr := range c.Replication.SingleValued {
		if err := validation.ValidateAttributeType(attr); err != nil {
			return fmt.Errorf("replication.single_valued: %w", err)
		}
	}
	if c.Replication.Workers < 1 {
		return errors.New("replication.workers must be positive")
	}
	if c.Replication.PurgeDelay < 0 {
		return errors.New("replication.purge_delay must not be negative")
	}

	names := make(map[string]bool, len(c.Peers))
	for _, peer := range c.Peers {
		if peer.Name == "" {
			return errors.New("peers: name is required")
		}
		if names[peer.Name] {
			return fmt.Errorf("peers: duplicate name %q", peer.Name)
		}
		names[peer.Name] = true

		u, err := url.Parse(peer.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("peers: %s has invalid url %q", peer.Name, peer.URL)
		}
	}

	if len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 characters")
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return errors.New("logging.format must be one of: text, json")
	}

	return nil
}

// SlogLevel parses the configured level
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// NewLogger creates the logger described by the configuration
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
