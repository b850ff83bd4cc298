package storage

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/config"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/memory"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/pebblestore"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

func TestNewFactory_MemoryAndPebble(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{
		Backends: map[string]config.BackendConfig{
			"mem":  {Type: config.BackendMemory},
			"disk": {Type: config.BackendPebble, Pebble: config.PebbleConfig{Path: t.TempDir()}},
		},
		Stores: config.StoresConfig{
			Cache:    config.StoreConfig{Backend: "disk"},
			Queue:    config.StoreConfig{Backend: "disk"},
			Upstream: config.StoreConfig{Backend: "mem"},
		},
	}

	f, err := NewFactory(ctx, cfg, slog.Default())
	require.NoError(t, err)
	defer f.Close()

	assert.IsType(t, &pebblestore.Store{}, f.Cache())
	assert.IsType(t, &pebblestore.Store{}, f.Queue())
	assert.IsType(t, &memory.Store{}, f.Upstream())

	// Cache and queue live in separate directories.
	_, err = f.Cache().Put(ctx, &model.Document{ID: "a", Payload: 1})
	require.NoError(t, err)
	_, err = f.Queue().Get(ctx, "a")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}

func TestNewFactory_NoUpstream(t *testing.T) {
	cfg := config.Config{
		Backends: map[string]config.BackendConfig{"mem": {Type: config.BackendMemory}},
		Stores: config.StoresConfig{
			Cache: config.StoreConfig{Backend: "mem"},
			Queue: config.StoreConfig{Backend: "mem"},
		},
	}

	f, err := NewFactory(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer f.Close()

	assert.NotNil(t, f.Cache())
	assert.NotSame(t, f.Cache(), f.Queue())
	assert.Nil(t, f.Upstream())
}

func TestNewFactory_Errors(t *testing.T) {
	orig := newMongoProvider
	defer func() { newMongoProvider = orig }()
	newMongoProvider = func(ctx context.Context, uri, dbName string, logger *slog.Logger) (mongoProvider, error) {
		return nil, errors.New("connection refused")
	}

	tests := []struct {
		name    string
		cfg     config.Config
		wantErr string
	}{
		{
			name: "unknown backend",
			cfg: config.Config{
				Stores: config.StoresConfig{Cache: config.StoreConfig{Backend: "missing"}},
			},
			wantErr: "backend not found: missing",
		},
		{
			name: "unsupported type",
			cfg: config.Config{
				Backends: map[string]config.BackendConfig{"pg": {Type: "postgres"}},
				Stores:   config.StoresConfig{Cache: config.StoreConfig{Backend: "pg"}},
			},
			wantErr: "unsupported backend type: postgres",
		},
		{
			name: "mongo unavailable",
			cfg: config.Config{
				Backends: map[string]config.BackendConfig{"m": {Type: config.BackendMongo}},
				Stores:   config.StoresConfig{Queue: config.StoreConfig{Backend: "m"}},
			},
			wantErr: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFactory(context.Background(), tt.cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
