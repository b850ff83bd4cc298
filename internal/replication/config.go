package replication

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/syntrixbase/syntrix-offline/internal/metrics"
)

// Config configures the upstream replication started at boot.
type Config struct {
	Enabled      bool          `yaml:"enabled"`
	Name         string        `yaml:"name"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	Checkpoint   Policy        `yaml:"checkpoint"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		Name:         "upstream",
		RetryBackoff: 5 * time.Second,
		Checkpoint:   DefaultPolicy(),
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Name == "" {
		c.Name = defaults.Name
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
	if c.Checkpoint.Interval == 0 {
		c.Checkpoint.Interval = defaults.Checkpoint.Interval
	}
	if c.Checkpoint.EventCount == 0 {
		c.Checkpoint.EventCount = defaults.Checkpoint.EventCount
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("REPLICATION_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Enabled = b
		}
	}
}

// ResolvePaths has nothing to resolve.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.RetryBackoff < 0 {
		return fmt.Errorf("replication.retry_backoff must not be negative")
	}
	if c.Checkpoint.Interval < 0 || c.Checkpoint.EventCount < 0 {
		return fmt.Errorf("replication.checkpoint values must not be negative")
	}
	return nil
}

// Options converts the configuration into replication options.
func (c Config) Options(logger *slog.Logger, m metrics.Metrics) Options {
	return Options{
		Name:         c.Name,
		RetryBackoff: c.RetryBackoff,
		Checkpoint:   c.Checkpoint,
		Logger:       logger,
		Metrics:      m,
	}
}
