// Package replication copies changes from a source change feed into a
// target store for as long as the replication runs.
//
// A replication reconnects after source errors, resuming from a checkpoint
// saved in the target, and reports its lifecycle through listeners:
// "change" for every applied document, "uptodate" when the source has no
// backlog left, "error" for every failed attempt and "complete" once when
// it stops.
package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/syntrixbase/syntrix-offline/internal/core/storage/types"
	"github.com/syntrixbase/syntrix-offline/internal/metrics"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// EventName names a replication lifecycle event.
type EventName string

const (
	EventChange   EventName = "change"
	EventUpToDate EventName = "uptodate"
	EventComplete EventName = "complete"
	EventError    EventName = "error"
)

// ParseEventName validates a lifecycle event name.
func ParseEventName(name string) (EventName, error) {
	switch e := EventName(name); e {
	case EventChange, EventUpToDate, EventComplete, EventError:
		return e, nil
	}
	return "", fmt.Errorf("unknown replication event %q", name)
}

// Info describes one lifecycle event.
type Info struct {
	Event EventName `json:"event"`
	// ID and Deleted are set for change events.
	ID      string `json:"id,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	// Document is the applied document of a change event.
	Document *model.Document `json:"doc,omitempty"`
	// DocsWritten counts the changes applied so far.
	DocsWritten int64 `json:"docs_written"`
	// Err is set for error events.
	Err error `json:"-"`
}

// Listener receives lifecycle events. Listeners run on the replication
// goroutine and must not block.
type Listener func(Info)

// Options configures a replication.
type Options struct {
	// Name identifies the replication's checkpoint. Defaults to "default".
	Name string

	// RetryBackoff is the wait before reconnecting after an error.
	RetryBackoff time.Duration

	// Checkpoint controls how often progress is saved.
	Checkpoint Policy

	Logger  *slog.Logger
	Metrics metrics.Metrics
}

// Handle controls a running replication.
type Handle struct {
	name        string
	source      types.ChangeFeed
	target      types.IndexedStore
	checkpoints *checkpoints
	tracker     *tracker
	backoff     time.Duration
	logger      *slog.Logger
	metrics     metrics.Metrics

	mu        sync.RWMutex
	listeners map[EventName][]Listener

	seq     interface{}
	written int64

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Start begins replicating source into target. A target that implements
// types.Creator is created first. The replication stops when ctx is done
// or Cancel is called.
func Start(ctx context.Context, source types.ChangeFeed, target types.IndexedStore, opts Options) (*Handle, error) {
	if source == nil || target == nil {
		return nil, fmt.Errorf("replication requires a source and a target")
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.Checkpoint == (Policy{}) {
		opts.Checkpoint = DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = &metrics.NoopMetrics{}
	}

	if creator, ok := target.(types.Creator); ok {
		if err := creator.Create(ctx); err != nil {
			return nil, fmt.Errorf("failed to create replication target: %w", err)
		}
	}

	h := &Handle{
		name:        opts.Name,
		source:      source,
		target:      target,
		checkpoints: newCheckpoints(target, opts.Name),
		tracker:     newTracker(opts.Checkpoint),
		backoff:     opts.RetryBackoff,
		logger:      opts.Logger.With("component", "replication", "replication", opts.Name),
		metrics:     opts.Metrics,
		listeners:   make(map[EventName][]Listener),
		done:        make(chan struct{}),
	}

	seq, err := h.checkpoints.load(ctx)
	if err != nil {
		return nil, err
	}
	h.seq = seq

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	go h.run(runCtx)

	if seq != nil {
		h.logger.Info("Replication started from checkpoint", "seq", seq)
	} else {
		h.logger.Info("Replication started")
	}
	return h, nil
}

// On registers a listener for event.
func (h *Handle) On(event EventName, l Listener) error {
	if _, err := ParseEventName(string(event)); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[event] = append(h.listeners[event], l)
	return nil
}

func (h *Handle) emit(info Info) {
	info.DocsWritten = h.written
	h.mu.RLock()
	ls := append([]Listener(nil), h.listeners[info.Event]...)
	h.mu.RUnlock()
	for _, l := range ls {
		l(info)
	}
}

// Cancel stops the replication and waits for it to finish.
// Listeners registered before Cancel receive the complete event.
func (h *Handle) Cancel() {
	h.cancel()
	<-h.done
}

// Done is closed once the replication has stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the error that stopped the replication, or nil when it was
// canceled. It is only meaningful after Done is closed.
func (h *Handle) Err() error {
	return h.err
}

func (h *Handle) run(ctx context.Context) {
	defer close(h.done)
	defer h.emit(Info{Event: EventComplete})
	defer h.saveOnShutdown()

	for {
		if ctx.Err() != nil {
			return
		}

		err := h.pull(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = fmt.Errorf("%w: change feed closed", model.ErrReplication)
		}

		h.metrics.IncReplicationError(h.name)
		if errors.Is(err, model.ErrClosed) {
			h.logger.Error("Replication stopped: store closed", "error", err)
			h.err = err
			h.emit(Info{Event: EventError, Err: err})
			return
		}
		h.logger.Error("Replication error, reconnecting", "error", err, "backoff", h.backoff)
		h.emit(Info{Event: EventError, Err: err})

		select {
		case <-ctx.Done():
			return
		case <-time.After(h.backoff):
		}
	}
}

// pull consumes one change feed connection until it fails or ctx is done.
// The connection is released when pull returns.
func (h *Handle) pull(ctx context.Context) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := h.source.Changes(connCtx, h.seq)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrReplication, err)
	}

	for evt := range ch {
		switch evt.Type {
		case types.EventPut, types.EventDelete:
			if err := h.apply(ctx, evt); err != nil {
				return err
			}
			h.seq = evt.Seq
			if h.tracker.record() {
				h.save(ctx)
			}
		case types.EventUpToDate:
			if evt.Seq != nil {
				h.seq = evt.Seq
			}
			h.save(ctx)
			h.logger.Debug("Replication up to date", "docs_written", h.written)
			h.emit(Info{Event: EventUpToDate})
		case types.EventError:
			return fmt.Errorf("%w: %w", model.ErrReplication, evt.Err)
		}
	}
	return nil
}

func (h *Handle) apply(ctx context.Context, evt types.Event) error {
	if model.IsLocalID(evt.ID) {
		return nil
	}

	if evt.Type == types.EventDelete {
		err := h.target.Remove(ctx, &model.Document{ID: evt.ID})
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("failed to apply delete of %q: %w", evt.ID, err)
		}
		h.written++
		h.metrics.IncReplicated(h.name, string(types.EventDelete))
		h.emit(Info{Event: EventChange, ID: evt.ID, Deleted: true})
		return nil
	}

	if evt.Document == nil {
		return nil
	}
	doc := &model.Document{ID: evt.ID, Payload: evt.Document.Payload}
	res, err := h.target.Put(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to apply %q: %w", evt.ID, err)
	}
	if !res.OK {
		return &model.ValidationError{Op: "replicate", ID: evt.ID}
	}
	doc.Rev = res.Rev
	h.written++
	h.metrics.IncReplicated(h.name, string(types.EventPut))
	h.emit(Info{Event: EventChange, ID: evt.ID, Document: doc})
	return nil
}

func (h *Handle) save(ctx context.Context) {
	if h.seq == nil {
		return
	}
	if err := h.checkpoints.save(ctx, h.seq); err != nil {
		h.logger.Warn("Failed to save checkpoint", "error", err)
		return
	}
	h.tracker.reset()
}

func (h *Handle) saveOnShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.save(ctx)
	h.logger.Info("Replication stopped", "docs_written", h.written)
}
