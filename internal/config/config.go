package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the session service.
// Environment variables are parsed from the SESSION_ prefix; every value
// carries a hardcoded safe default so absence never fails startup.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8002"`

	// Store driver: redis (default) or memory (dev/test)
	StoreDriver string `envconfig:"STORE_DRIVER" default:"redis"`

	// Redis Configuration
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"1"`

	// TTL policy, in minutes. The historic docs disagree on the default
	// session timeout, so it is configuration, never a constant elsewhere.
	DefaultTTLMinutes int `envconfig:"DEFAULT_TTL_MINUTES" default:"180"`
	MinTTLMinutes     int `envconfig:"MIN_TTL_MINUTES" default:"60"`
	MaxTTLMinutes     int `envconfig:"MAX_TTL_MINUTES" default:"480"`

	// Conversation and per-user bounds
	MaxMessagesPerSession  int `envconfig:"MAX_MESSAGES_PER_SESSION" default:"200"`
	MaxMessageContentBytes int `envconfig:"MAX_MESSAGE_CONTENT_BYTES" default:"16384"`
	MaxSessionsPerUser     int `envconfig:"MAX_SESSIONS_PER_USER" default:"50"`

	// Per-call store timeout
	StoreTimeoutMillis int `envconfig:"STORE_TIMEOUT_MILLIS" default:"2000"`

	// Events
	EventBufferSize int    `envconfig:"EVENT_BUFFER_SIZE" default:"256"`
	EventWebhookURL string `envconfig:"EVENT_WEBHOOK_URL" default:""`

	// Health probing
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`
}

// New creates a Config by parsing environment variables.
// Example: SESSION_HTTP_PORT, SESSION_REDIS_ADDR, SESSION_DEFAULT_TTL_MINUTES.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("SESSION", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported SESSION_STORE_DRIVER: %s", c.StoreDriver)
	}
	if c.MinTTLMinutes <= 0 || c.MaxTTLMinutes < c.MinTTLMinutes {
		return fmt.Errorf("invalid TTL bounds: min=%d max=%d", c.MinTTLMinutes, c.MaxTTLMinutes)
	}
	return nil
}

// NewForTesting creates a config specifically for testing.
func NewForTesting() *Config {
	return &Config{
		Environment:               EnvTesting,
		HTTPPort:                  8002,
		StoreDriver:               "memory",
		RedisAddr:                 "localhost:6379",
		RedisDB:                   1,
		DefaultTTLMinutes:         180,
		MinTTLMinutes:             60,
		MaxTTLMinutes:             480,
		MaxMessagesPerSession:     200,
		MaxMessageContentBytes:    16384,
		MaxSessionsPerUser:        50,
		StoreTimeoutMillis:        2000,
		EventBufferSize:           256,
		HealthIntervalSeconds:     30,
		HealthProbeTimeoutSeconds: 2,
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool { return c.Environment == EnvTesting }

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }

// StoreTimeout returns the per-call store timeout as a duration.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMillis) * time.Millisecond
}
