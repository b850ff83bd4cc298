package gateway

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the HTTP gateway configuration.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodySize limits pushed update bodies, in bytes.
	MaxBodySize int64 `yaml:"max_body_size"`

	// MetricsPath serves Prometheus metrics. Empty disables the endpoint.
	MetricsPath string `yaml:"metrics_path"`

	// AllowedOrigins lists CORS origins. Empty allows every origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultConfig returns safe defaults for development.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            8090,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxBodySize:     1 << 20,
		MetricsPath:     "/metrics",
	}
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Host == "" {
		c.Host = defaults.Host
	}
	if c.Port == 0 {
		c.Port = defaults.Port
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaults.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaults.IdleTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if c.MaxBodySize == 0 {
		c.MaxBodySize = defaults.MaxBodySize
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("GATEWAY_HOST"); val != "" {
		c.Host = val
	}
	if val := os.Getenv("GATEWAY_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Port = port
		}
	}
	if val := os.Getenv("GATEWAY_ALLOWED_ORIGINS"); val != "" {
		c.AllowedOrigins = strings.Split(val, ",")
	}
}

// ResolvePaths has nothing to resolve.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("gateway.port %d is out of range", c.Port)
	}
	if c.MaxBodySize < 0 {
		return fmt.Errorf("gateway.max_body_size must not be negative")
	}
	if c.MetricsPath != "" && !strings.HasPrefix(c.MetricsPath, "/") {
		return fmt.Errorf("gateway.metrics_path must start with '/'")
	}
	return nil
}
