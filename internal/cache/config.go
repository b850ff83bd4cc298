package cache

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config configures the router built at boot.
type Config struct {
	// Verbose logs every lookup at Info.
	Verbose bool `yaml:"verbose"`
	// Exclusions are URIs that always bypass the local store.
	// Entries prefixed with "re:" are regular expressions.
	Exclusions []string `yaml:"exclusions"`
	// Fallback fetches misses from an origin server. Disabled when URL is empty.
	Fallback FallbackConfig `yaml:"fallback"`
	// Resources are JSON:API collections served from the local store.
	Resources []ResourceConfig `yaml:"resources"`
	// Aggregates are reduced values over cached documents.
	Aggregates []AggregateConfig `yaml:"aggregates"`
}

type FallbackConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	// WriteThrough stores fetched resources so later lookups hit locally.
	WriteThrough bool `yaml:"write_through"`
}

func DefaultConfig() Config {
	return Config{
		Fallback: FallbackConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Fallback.Timeout == 0 {
		c.Fallback.Timeout = DefaultConfig().Fallback.Timeout
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("CACHE_FALLBACK_URL"); val != "" {
		c.Fallback.URL = val
	}
	if val := os.Getenv("CACHE_EXCLUSIONS"); val != "" {
		c.Exclusions = strings.Split(val, ",")
	}
}

// ResolvePaths has nothing to resolve.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate checks exclusions, resources and aggregates compile and the
// fallback URL is absolute.
func (c *Config) Validate() error {
	if _, err := ParseMatchers(c.Exclusions); err != nil {
		return fmt.Errorf("cache.exclusions: %w", err)
	}
	for i, res := range c.Resources {
		if _, _, err := res.build(); err != nil {
			return fmt.Errorf("cache.resources[%d]: %w", i, err)
		}
	}
	for i, agg := range c.Aggregates {
		if _, _, err := agg.build(); err != nil {
			return fmt.Errorf("cache.aggregates[%d]: %w", i, err)
		}
	}
	if c.Fallback.URL != "" {
		u, err := url.Parse(c.Fallback.URL)
		if err != nil {
			return fmt.Errorf("cache.fallback.url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("cache.fallback.url must be an http(s) URL, got %q", c.Fallback.URL)
		}
	}
	if c.Fallback.Timeout < 0 {
		return fmt.Errorf("cache.fallback.timeout must not be negative")
	}
	return nil
}
