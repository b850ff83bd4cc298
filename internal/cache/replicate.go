package cache

import (
	"context"

	"github.com/syntrixbase/syntrix-offline/internal/core/storage/types"
	"github.com/syntrixbase/syntrix-offline/internal/replication"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// ReplicateFrom starts continuous replication from source into the local
// store, replacing any active replication. Replication errors are logged and
// never stop the router; the replication keeps reconnecting.
func (r *Router) ReplicateFrom(ctx context.Context, source types.ChangeFeed) error {
	r.StopReplication()

	opts := r.replOpts
	if opts.Logger == nil {
		opts.Logger = r.logger
	}
	if opts.Metrics == nil {
		opts.Metrics = r.metrics
	}

	h, err := replication.Start(ctx, source, r.store, opts)
	if err != nil {
		return err
	}
	if err := h.On(replication.EventError, func(info replication.Info) {
		r.logger.Warn("Upstream replication failed", "error", info.Err, "docs_written", info.DocsWritten)
	}); err != nil {
		h.Cancel()
		return err
	}

	r.mu.Lock()
	r.replication = h
	r.mu.Unlock()
	return nil
}

// On subscribes to lifecycle events of the active replication.
// It fails with model.ErrNoReplication when none is active.
func (r *Router) On(event replication.EventName, l replication.Listener) error {
	r.mu.RLock()
	h := r.replication
	r.mu.RUnlock()
	if h == nil {
		return model.ErrNoReplication
	}
	return h.On(event, l)
}

// Replicating reports whether a replication is active.
func (r *Router) Replicating() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.replication != nil
}

// StopReplication cancels the active replication, if any, and waits for it
// to finish.
func (r *Router) StopReplication() {
	r.mu.Lock()
	h := r.replication
	r.replication = nil
	r.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}
