package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backend types.
const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
	BackendMongo  = "mongo"
)

// Store names.
const (
	StoreCache    = "cache"
	StoreQueue    = "queue"
	StoreUpstream = "upstream"
)

type Config struct {
	Backends map[string]BackendConfig `yaml:"backends"`
	Stores   StoresConfig             `yaml:"stores"`
}

type BackendConfig struct {
	Type   string       `yaml:"type"` // "memory", "pebble", "mongo"
	Pebble PebbleConfig `yaml:"pebble"`
	Mongo  MongoConfig  `yaml:"mongo"`
}

type PebbleConfig struct {
	// Path is the base directory; each store opens a subdirectory named after it.
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory"`
	FeedBuffer int    `yaml:"feed_buffer"`
}

type MongoConfig struct {
	URI          string `yaml:"uri"`
	DatabaseName string `yaml:"database_name"`
}

// StoreConfig binds a logical store to a backend.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Collection is the MongoDB collection. Defaults to the store name.
	Collection string `yaml:"collection"`
}

type StoresConfig struct {
	Cache StoreConfig `yaml:"cache"`
	Queue StoreConfig `yaml:"queue"`
	// Upstream is the replication source. Leave Backend empty to disable.
	Upstream StoreConfig `yaml:"upstream"`
}

func DefaultConfig() Config {
	return Config{
		Backends: map[string]BackendConfig{
			"default_pebble": {
				Type: BackendPebble,
				Pebble: PebbleConfig{
					Path: "data/offline",
				},
			},
			"default_mongo": {
				Type: BackendMongo,
				Mongo: MongoConfig{
					URI:          "mongodb://localhost:27017",
					DatabaseName: "syntrix",
				},
			},
		},
		Stores: StoresConfig{
			Cache: StoreConfig{Backend: "default_pebble"},
			Queue: StoreConfig{Backend: "default_pebble"},
		},
	}
}

// Validate checks that every store references a known backend.
func (c *Config) Validate() error {
	for name, b := range c.Backends {
		switch b.Type {
		case BackendMemory:
		case BackendPebble:
			if b.Pebble.Path == "" && !b.Pebble.InMemory {
				return fmt.Errorf("storage.backends.%s.pebble.path is required", name)
			}
		case BackendMongo:
			if b.Mongo.URI == "" {
				return fmt.Errorf("storage.backends.%s.mongo.uri is required", name)
			}
			if b.Mongo.DatabaseName == "" {
				return fmt.Errorf("storage.backends.%s.mongo.database_name is required", name)
			}
		default:
			return fmt.Errorf("storage.backends.%s: unsupported backend type %q", name, b.Type)
		}
	}

	required := map[string]StoreConfig{StoreCache: c.Stores.Cache, StoreQueue: c.Stores.Queue}
	for name, s := range required {
		if s.Backend == "" {
			return fmt.Errorf("storage.stores.%s.backend is required", name)
		}
	}
	for name, s := range c.Stores.All() {
		if _, ok := c.Backends[s.Backend]; !ok {
			return fmt.Errorf("store '%s' references unknown backend '%s'", name, s.Backend)
		}
	}
	return nil
}

// All returns every configured store keyed by name. Disabled stores are omitted.
func (s StoresConfig) All() map[string]StoreConfig {
	out := make(map[string]StoreConfig, 3)
	for name, cfg := range map[string]StoreConfig{
		StoreCache:    s.Cache,
		StoreQueue:    s.Queue,
		StoreUpstream: s.Upstream,
	} {
		if cfg.Backend == "" {
			continue
		}
		if cfg.Collection == "" {
			cfg.Collection = name
		}
		out[name] = cfg
	}
	return out
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Backends == nil {
		c.Backends = defaults.Backends
	}
	if c.Stores.Cache.Backend == "" {
		c.Stores.Cache.Backend = defaults.Stores.Cache.Backend
	}
	if c.Stores.Queue.Backend == "" {
		c.Stores.Queue.Backend = defaults.Stores.Queue.Backend
	}
	for name, b := range c.Backends {
		if b.Type == BackendPebble && b.Pebble.FeedBuffer == 0 {
			b.Pebble.FeedBuffer = 256
			c.Backends[name] = b
		}
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("MONGO_URI"); val != "" {
		if backend, ok := c.Backends["default_mongo"]; ok {
			backend.Mongo.URI = val
			c.Backends["default_mongo"] = backend
		}
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		if backend, ok := c.Backends["default_mongo"]; ok {
			backend.Mongo.DatabaseName = val
			c.Backends["default_mongo"] = backend
		}
	}
	if val := os.Getenv("OFFLINE_DATA_DIR"); val != "" {
		if backend, ok := c.Backends["default_pebble"]; ok {
			backend.Pebble.Path = val
			c.Backends["default_pebble"] = backend
		}
	}
}

// ResolvePaths resolves relative pebble paths against the parent of
// configDir, so data directories sit next to the config directory.
func (c *Config) ResolvePaths(configDir string) {
	baseDir := filepath.Dir(configDir)
	for name, b := range c.Backends {
		if b.Type == BackendPebble && b.Pebble.Path != "" && !filepath.IsAbs(b.Pebble.Path) {
			b.Pebble.Path = filepath.Join(baseDir, b.Pebble.Path)
			c.Backends[name] = b
		}
	}
}
