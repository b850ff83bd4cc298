package storage

import (
	"context"

	"github.com/syntrixbase/syntrix-offline/internal/core/storage/types"
)

// StorageFactory opens the stores the offline layer runs on.
type StorageFactory interface {
	// Cache returns the store backing the cache router.
	Cache() types.IndexedStore

	// Queue returns the store backing the update queue.
	Queue() types.IndexedStore

	// Upstream returns the replication source, or nil when none is configured.
	Upstream() types.ChangeFeed

	// Close closes every store and underlying connection.
	Close() error
}

// Provider is a backend connection shared by the stores opened on it.
type Provider interface {
	Close(ctx context.Context) error
}
