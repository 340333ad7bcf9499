package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config represents the gateway configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Remote  RemoteConfig  `yaml:"remote"`
	Poller  PollerConfig  `yaml:"poller"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AuthConfig contains authentication settings for this gateway's own API
type AuthConfig struct {
	APIKeys []APIKey `yaml:"api_keys"`
}

// APIKey represents an API key for authentication
type APIKey struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// RemoteConfig contains the application-service connection settings
type RemoteConfig struct {
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	TokenFile    string        `yaml:"token_file"`    // persisted session tokens; empty = in-memory
	AccessToken  string        `yaml:"access_token"`  // optional pre-seeded session
	RefreshToken string        `yaml:"refresh_token"` //
}

// PollerConfig tunes the run-status poll loop
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxFailures int           `yaml:"max_failures"`
	BackoffMin  time.Duration `yaml:"backoff_min"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables in the config
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills zero-valued fields with the standard tuning
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 30 * time.Second
	}
	if c.Poller.Interval == 0 {
		c.Poller.Interval = 3 * time.Second
	}
	if c.Poller.MaxFailures == 0 {
		c.Poller.MaxFailures = 5
	}
	if c.Poller.BackoffMin == 0 {
		c.Poller.BackoffMin = time.Second
	}
	if c.Poller.BackoffMax == 0 {
		c.Poller.BackoffMax = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks the configuration, reporting every problem at once
func (c *Config) Validate() error {
	var errs error

	if c.Remote.URL == "" {
		errs = multierr.Append(errs, fmt.Errorf("remote.url is required"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Poller.Interval < 0 {
		errs = multierr.Append(errs, fmt.Errorf("poller.interval cannot be negative"))
	}
	if c.Poller.BackoffMin > c.Poller.BackoffMax {
		errs = multierr.Append(errs, fmt.Errorf("poller.backoff_min exceeds poller.backoff_max"))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = multierr.Append(errs, fmt.Errorf("logging.level %q unknown", c.Logging.Level))
	}

	return errs
}
