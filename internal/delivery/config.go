package delivery

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Sender kinds.
const (
	KindHTTP  = "http"
	KindNATS  = "nats"
	KindRedis = "redis"
)

// Config selects and configures the sender that drains the update queue.
type Config struct {
	Kind  string      `yaml:"kind"`
	HTTP  HTTPConfig  `yaml:"http"`
	NATS  NATSConfig  `yaml:"nats"`
	Redis RedisConfig `yaml:"redis"`
}

// HTTPConfig configures HTTP delivery.
type HTTPConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`

	// Secret signs request bodies (X-Syntrix-Signature). Empty disables signing.
	Secret string `yaml:"secret"`

	// TokenKey signs a short-lived HS256 bearer token per request.
	// Empty disables the Authorization header.
	TokenKey string        `yaml:"token_key"`
	TokenTTL time.Duration `yaml:"token_ttl"`
	Issuer   string        `yaml:"issuer"`
}

// NATSConfig configures JetStream delivery.
type NATSConfig struct {
	URL         string `yaml:"url"`
	Stream      string `yaml:"stream"`
	Subject     string `yaml:"subject"`
	StorageType string `yaml:"storage_type"`
}

// RedisConfig configures Redis Streams delivery.
type RedisConfig struct {
	Addr   string `yaml:"addr"`
	DB     int    `yaml:"db"`
	Stream string `yaml:"stream"`
	MaxLen int64  `yaml:"max_len"`
}

// DefaultConfig returns default delivery configuration.
func DefaultConfig() Config {
	return Config{
		Kind: KindHTTP,
		HTTP: HTTPConfig{
			Timeout:  5 * time.Second,
			TokenTTL: time.Minute,
			Issuer:   "syntrix-offline",
		},
		NATS: NATSConfig{
			URL:         "nats://localhost:4222",
			Stream:      "OFFLINE_UPDATES",
			Subject:     "offline.updates",
			StorageType: "file",
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Stream: "offline:updates",
		},
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Kind == "" {
		c.Kind = defaults.Kind
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = defaults.HTTP.Timeout
	}
	if c.HTTP.TokenTTL == 0 {
		c.HTTP.TokenTTL = defaults.HTTP.TokenTTL
	}
	if c.HTTP.Issuer == "" {
		c.HTTP.Issuer = defaults.HTTP.Issuer
	}
	if c.NATS.URL == "" {
		c.NATS.URL = defaults.NATS.URL
	}
	if c.NATS.Stream == "" {
		c.NATS.Stream = defaults.NATS.Stream
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = defaults.NATS.Subject
	}
	if c.NATS.StorageType == "" {
		c.NATS.StorageType = defaults.NATS.StorageType
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaults.Redis.Addr
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = defaults.Redis.Stream
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("DELIVERY_KIND"); val != "" {
		c.Kind = val
	}
	if val := os.Getenv("DELIVERY_URL"); val != "" {
		c.HTTP.URL = val
	}
	if val := os.Getenv("DELIVERY_SECRET"); val != "" {
		c.HTTP.Secret = val
	}
	if val := os.Getenv("DELIVERY_TOKEN_KEY"); val != "" {
		c.HTTP.TokenKey = val
	}
	if val := os.Getenv("NATS_URL"); val != "" {
		c.NATS.URL = val
	}
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		c.Redis.Addr = val
	}
}

// ResolvePaths resolves relative paths using the given base directory.
// No paths to resolve in delivery config.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	switch c.Kind {
	case KindHTTP:
		if c.HTTP.Timeout < 0 {
			return errors.New("delivery.http.timeout must be non-negative")
		}
	case KindNATS:
		if c.NATS.Stream == "" || c.NATS.Subject == "" {
			return errors.New("delivery.nats requires stream and subject")
		}
		if c.NATS.StorageType != "file" && c.NATS.StorageType != "memory" {
			return errors.New("delivery.nats.storage_type must be 'file' or 'memory'")
		}
	case KindRedis:
		if c.Redis.Stream == "" {
			return errors.New("delivery.redis.stream is required")
		}
	default:
		return fmt.Errorf("unsupported delivery kind: %s", c.Kind)
	}
	return nil
}
