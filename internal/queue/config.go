package queue

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config configures a Queue.
type Config struct {
	// Name labels logs and metrics.
	Name string `yaml:"name"`
	// AutoDrain starts a background drain after every push.
	AutoDrain bool `yaml:"auto_drain"`
	// RetryBackoff is how long a drain requested while another one runs
	// waits before trying again.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Name:         "default",
		AutoDrain:    true,
		RetryBackoff: time.Second,
	}
}

// ApplyDefaults fills in zero values with defaults.
// AutoDrain is left alone; an explicit false cannot be told apart from unset.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("QUEUE_AUTO_DRAIN"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.AutoDrain = b
		}
	}
	if val := os.Getenv("QUEUE_RETRY_BACKOFF"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.RetryBackoff = d
		}
	}
}

// ResolvePaths has nothing to resolve.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.RetryBackoff < 0 {
		return fmt.Errorf("queue.retry_backoff must not be negative")
	}
	return nil
}
