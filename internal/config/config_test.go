package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/syntrix-offline/internal/delivery"
)

func writeConfigFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoad_Defaults(t *testing.T) {
	root := t.TempDir()
	configDir := filepath.Join(root, "config")

	cfg, err := Load(configDir)
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Queue.Name)
	assert.True(t, cfg.Queue.AutoDrain)
	assert.Equal(t, delivery.KindHTTP, cfg.Delivery.Kind)
	assert.False(t, cfg.Replication.Enabled)
	assert.Equal(t, 8090, cfg.Gateway.Port)
	assert.Equal(t, filepath.Join(root, "logs"), cfg.Logging.Dir)
	assert.Equal(t, filepath.Join(root, "data/offline"), cfg.Storage.Backends["default_pebble"].Pebble.Path)
}

func TestLoad_FilesOverrideInOrder(t *testing.T) {
	root := t.TempDir()
	configDir := filepath.Join(root, "config")
	writeConfigFile(t, configDir, "config.yml", `
cache:
  verbose: true
  exclusions: ["/login", "re:^/admin/"]
  fallback:
    url: "http://origin:8080/api"
queue:
  name: outbox
  auto_drain: false
delivery:
  kind: nats
gateway:
  port: 7070
`)
	writeConfigFile(t, configDir, "config.local.yml", `
gateway:
  port: 7171
`)

	cfg, err := Load(configDir)
	require.NoError(t, err)

	assert.True(t, cfg.Cache.Verbose)
	assert.Equal(t, []string{"/login", "re:^/admin/"}, cfg.Cache.Exclusions)
	assert.Equal(t, "http://origin:8080/api", cfg.Cache.Fallback.URL)
	assert.Equal(t, 10*time.Second, cfg.Cache.Fallback.Timeout)
	assert.Equal(t, "outbox", cfg.Queue.Name)
	assert.False(t, cfg.Queue.AutoDrain)
	assert.Equal(t, delivery.KindNATS, cfg.Delivery.Kind)
	assert.Equal(t, "OFFLINE_UPDATES", cfg.Delivery.NATS.Stream)
	assert.Equal(t, 7171, cfg.Gateway.Port)
}

func TestLoad_EnvOverrides(t *testing.T) {
	root := t.TempDir()
	t.Setenv("DELIVERY_URL", "http://env/updates")
	t.Setenv("GATEWAY_PORT", "9191")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("MONGO_URI", "mongodb://env:27017")

	cfg, err := Load(filepath.Join(root, "config"))
	require.NoError(t, err)

	assert.Equal(t, "http://env/updates", cfg.Delivery.HTTP.URL)
	assert.Equal(t, 9191, cfg.Gateway.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "debug", cfg.Logging.File.Level)
	assert.Equal(t, "mongodb://env:27017", cfg.Storage.Backends["default_mongo"].Mongo.URI)
}

func TestLoad_DotEnv(t *testing.T) {
	root := t.TempDir()
	writeConfigFile(t, root, ".env", "DELIVERY_SECRET=from-dotenv\nREDIS_ADDR=redis:6379\n")
	t.Setenv("REDIS_ADDR", "redis-env:6379")
	// godotenv sets variables it loads; restore them after the test.
	t.Setenv("DELIVERY_SECRET", "")
	require.NoError(t, os.Unsetenv("DELIVERY_SECRET"))

	cfg, err := Load(filepath.Join(root, "config"))
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.Delivery.HTTP.Secret)
	assert.Equal(t, "redis-env:6379", cfg.Delivery.Redis.Addr)
}

func TestLoad_BadFilesKeepDefaults(t *testing.T) {
	root := t.TempDir()
	configDir := filepath.Join(root, "config")
	// A directory where a file is expected fails to read.
	require.NoError(t, os.MkdirAll(filepath.Join(configDir, "config.yml"), 0755))
	writeConfigFile(t, configDir, "config.local.yml", "not: [valid")

	cfg, err := Load(configDir)
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Gateway.Port)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Storage.Backends["default_mongo"].Mongo.URI)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad exclusion", "cache:\n  exclusions: [\"re:(\"]\n"},
		{"bad delivery kind", "delivery:\n  kind: carrier-pigeon\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"unknown backend", "storage:\n  stores:\n    cache:\n      backend: missing\n"},
		{"replication without upstream", "replication:\n  enabled: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configDir := filepath.Join(t.TempDir(), "config")
			writeConfigFile(t, configDir, "config.yml", tt.content)

			_, err := Load(configDir)
			assert.Error(t, err)
		})
	}
}

func TestLoad_ReplicationWithUpstream(t *testing.T) {
	configDir := filepath.Join(t.TempDir(), "config")
	writeConfigFile(t, configDir, "config.yml", `
replication:
  enabled: true
  checkpoint:
    event_count: 10
storage:
  stores:
    upstream:
      backend: default_mongo
      collection: resources
`)

	cfg, err := Load(configDir)
	require.NoError(t, err)
	assert.True(t, cfg.Replication.Enabled)
	assert.Equal(t, 10, cfg.Replication.Checkpoint.EventCount)
	assert.Equal(t, time.Second, cfg.Replication.Checkpoint.Interval)
	assert.Equal(t, "resources", cfg.Storage.Stores.Upstream.Collection)
}
