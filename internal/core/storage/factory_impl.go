package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/syntrixbase/syntrix-offline/internal/core/storage/config"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/memory"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/mongo"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/pebblestore"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/types"
)

// mongoProvider interface to allow mocking
type mongoProvider interface {
	Provider
	DocumentStore(collection string) *mongo.DocumentStore
}

// Dependency injection for testing
var newMongoProvider = func(ctx context.Context, uri, dbName string, logger *slog.Logger) (mongoProvider, error) {
	return mongo.NewProvider(ctx, uri, dbName, logger)
}

type factory struct {
	providers map[string]Provider
	stores    map[string]types.IndexedStore
	logger    *slog.Logger
	mu        sync.Mutex
}

// NewFactory opens every configured store. Stores sharing a MongoDB backend
// share its connection.
func NewFactory(ctx context.Context, cfg config.Config, logger *slog.Logger) (StorageFactory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &factory{
		providers: make(map[string]Provider),
		stores:    make(map[string]types.IndexedStore),
		logger:    logger.With("component", "storage"),
	}
	success := false
	defer func() {
		if !success {
			f.Close()
		}
	}()

	for name, storeCfg := range cfg.Stores.All() {
		backendCfg, ok := cfg.Backends[storeCfg.Backend]
		if !ok {
			return nil, fmt.Errorf("backend not found: %s", storeCfg.Backend)
		}

		store, err := f.openStore(ctx, name, storeCfg, backendCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open store %s: %w", name, err)
		}
		if creator, ok := store.(types.Creator); ok {
			if err := creator.Create(ctx); err != nil {
				store.Close(ctx)
				return nil, fmt.Errorf("failed to prepare store %s: %w", name, err)
			}
		}
		f.stores[name] = store
		f.logger.Info("Store ready", "store", name, "backend", storeCfg.Backend, "type", backendCfg.Type)
	}

	success = true

	return f, nil
}

func (f *factory) openStore(ctx context.Context, name string, storeCfg config.StoreConfig, backendCfg config.BackendConfig) (types.IndexedStore, error) {
	switch backendCfg.Type {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendPebble:
		return pebblestore.Open(pebblestore.Options{
			Path:       filepath.Join(backendCfg.Pebble.Path, name),
			InMemory:   backendCfg.Pebble.InMemory,
			FeedBuffer: backendCfg.Pebble.FeedBuffer,
			Logger:     f.logger,
		})
	case config.BackendMongo:
		p, err := f.getMongoProvider(ctx, storeCfg.Backend, backendCfg.Mongo)
		if err != nil {
			return nil, err
		}
		return p.DocumentStore(storeCfg.Collection), nil
	}
	return nil, fmt.Errorf("unsupported backend type: %s", backendCfg.Type)
}

func (f *factory) getMongoProvider(ctx context.Context, name string, cfg config.MongoConfig) (mongoProvider, error) {
	if p, ok := f.providers[name]; ok {
		mp, ok := p.(mongoProvider)
		if !ok {
			return nil, fmt.Errorf("backend %s is not a mongo provider", name)
		}
		return mp, nil
	}
	p, err := newMongoProvider(ctx, cfg.URI, cfg.DatabaseName, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize backend %s: %w", name, err)
	}
	f.providers[name] = p
	return p, nil
}

func (f *factory) Cache() types.IndexedStore {
	return f.stores[config.StoreCache]
}

func (f *factory) Queue() types.IndexedStore {
	return f.stores[config.StoreQueue]
}

func (f *factory) Upstream() types.ChangeFeed {
	store, ok := f.stores[config.StoreUpstream]
	if !ok {
		return nil
	}
	feed, ok := store.(types.ChangeFeed)
	if !ok {
		return nil
	}
	return feed
}

func (f *factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctx := context.Background()
	var errs []error
	for name, s := range f.stores {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("store %s: %w", name, err))
		}
		delete(f.stores, name)
	}
	for name, p := range f.providers {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("backend %s: %w", name, err))
		}
		delete(f.providers, name)
	}
	return errors.Join(errs...)
}
