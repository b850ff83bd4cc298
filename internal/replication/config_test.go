package replication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/syntrix-offline/internal/metrics"
)

func TestConfig_Lifecycle(t *testing.T) {
	cfg := Config{Checkpoint: Policy{EventCount: 10}}
	cfg.ApplyDefaults()
	assert.Equal(t, "upstream", cfg.Name)
	assert.Equal(t, 5*time.Second, cfg.RetryBackoff)
	assert.Equal(t, Policy{Interval: time.Second, EventCount: 10}, cfg.Checkpoint)

	t.Setenv("REPLICATION_ENABLED", "1")
	cfg.ApplyEnvOverrides()
	cfg.ResolvePaths("config")
	assert.True(t, cfg.Enabled)
	require.NoError(t, cfg.Validate())

	cfg.Checkpoint.EventCount = -1
	assert.Error(t, cfg.Validate())
	cfg.Checkpoint.EventCount = 1
	cfg.RetryBackoff = -1
	assert.Error(t, cfg.Validate())
}

func TestConfig_Options(t *testing.T) {
	m := &metrics.NoopMetrics{}
	opts := DefaultConfig().Options(nil, m)
	assert.Equal(t, "upstream", opts.Name)
	assert.Equal(t, 5*time.Second, opts.RetryBackoff)
	assert.Equal(t, DefaultPolicy(), opts.Checkpoint)
	assert.Same(t, m, opts.Metrics)
}
