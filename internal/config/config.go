package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/syntrixbase/syntrix-offline/internal/cache"
	storage "github.com/syntrixbase/syntrix-offline/internal/core/storage/config"
	"github.com/syntrixbase/syntrix-offline/internal/delivery"
	"github.com/syntrixbase/syntrix-offline/internal/gateway"
	"github.com/syntrixbase/syntrix-offline/internal/queue"
	"github.com/syntrixbase/syntrix-offline/internal/replication"
	"gopkg.in/yaml.v3"
)

// DefaultDir is the config directory LoadConfig reads from.
const DefaultDir = "config"

// Config holds the application configuration
type Config struct {
	Cache       cache.Config       `yaml:"cache"`
	Queue       queue.Config       `yaml:"queue"`
	Delivery    delivery.Config    `yaml:"delivery"`
	Replication replication.Config `yaml:"replication"`
	Storage     storage.Config     `yaml:"storage"`
	Gateway     gateway.Config     `yaml:"gateway"`
	Logging     LoggingConfig      `yaml:"logging"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Cache:       cache.DefaultConfig(),
		Queue:       queue.DefaultConfig(),
		Delivery:    delivery.DefaultConfig(),
		Replication: replication.DefaultConfig(),
		Storage:     storage.DefaultConfig(),
		Gateway:     gateway.DefaultConfig(),
		Logging:     DefaultLoggingConfig(),
	}
}

// LoadConfig loads configuration from DefaultDir and exits on invalid values.
func LoadConfig() *Config {
	cfg, err := Load(DefaultDir)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	return cfg
}

// Load reads configuration in this order:
// defaults -> config.yml -> config.local.yml -> .env -> ApplyDefaults ->
// ApplyEnvOverrides -> ResolvePaths -> Validate.
// Missing files are skipped. Unreadable or malformed files are logged and
// skipped too, leaving the values loaded so far.
func Load(configDir string) (*Config, error) {
	cfg := Default()

	loadFile(filepath.Join(configDir, "config.yml"), cfg)
	loadFile(filepath.Join(configDir, "config.local.yml"), cfg)

	// Variables already set in the environment win over .env.
	if err := godotenv.Load(filepath.Join(filepath.Dir(configDir), ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Warning: Error reading .env: %v", err)
	}

	if err := ApplyServiceConfigs(configDir,
		&cfg.Logging,
		&cfg.Storage,
		&cfg.Cache,
		&cfg.Queue,
		&cfg.Delivery,
		&cfg.Replication,
		&cfg.Gateway,
	); err != nil {
		return nil, err
	}

	if cfg.Replication.Enabled && cfg.Storage.Stores.Upstream.Backend == "" {
		return nil, fmt.Errorf("replication is enabled but storage.stores.upstream.backend is not set")
	}
	return cfg, nil
}

func loadFile(filename string, cfg *Config) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		log.Printf("Warning: Error reading %s: %v", filename, err)
		return
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("Warning: Error parsing %s: %v", filename, err)
	}
}
