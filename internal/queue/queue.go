// Package queue implements a durable, strictly ordered queue of outbound
// updates.
//
// Every pushed update is persisted with a sort key one higher than any key
// assigned before it, recovered from the store on first use so ordering
// survives restarts. A drain delivers the queued updates to a Sender in
// sort key order, one at a time, and removes each update only after the
// sender accepted it. Delivery is at least once: a crash between a send and
// the removal redelivers the update, carrying the same idempotency key.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/types"
	"github.com/syntrixbase/syntrix-offline/internal/metrics"
	"github.com/syntrixbase/syntrix-offline/internal/view"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// Delivery is one update handed to a Sender.
type Delivery struct {
	// IdempotencyKey is the same for every attempt to deliver this update.
	IdempotencyKey string      `json:"idempotency_key"`
	SortKey        int64       `json:"sort_key"`
	Update         interface{} `json:"update"`
}

// Sender delivers updates to their destination.
type Sender interface {
	Send(ctx context.Context, d *Delivery) (interface{}, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, d *Delivery) (interface{}, error)

func (f SenderFunc) Send(ctx context.Context, d *Delivery) (interface{}, error) {
	return f(ctx, d)
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// Queue is a durable update queue over an IndexedStore.
type Queue struct {
	store   types.IndexedStore
	sender  Sender
	cfg     Config
	logger  *slog.Logger
	metrics metrics.Metrics

	// keyMu serializes sort key assignment together with the write that
	// persists the key, so a drain never sees key n+1 without key n.
	keyMu     sync.Mutex
	recovered bool
	lastKey   int64

	mu          sync.Mutex
	draining    bool
	autoPending bool
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a queue that persists into store and delivers through sender.
func New(store types.IndexedStore, sender Sender, cfg Config, opts ...Option) *Queue {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		store:  store,
		sender: sender,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	q.logger = q.logger.With("component", "queue", "queue", cfg.Name)
	if q.metrics == nil {
		q.metrics = &metrics.NoopMetrics{}
	}
	return q
}

// Push persists update behind every update pushed before it and, with
// AutoDrain, starts a background drain.
func (q *Queue) Push(ctx context.Context, update interface{}) (*model.QueuedUpdate, error) {
	if q.isClosed() {
		return nil, model.ErrClosed
	}

	entry, err := q.persist(ctx, update)
	if err != nil {
		q.metrics.IncPushFailure(q.cfg.Name)
		return nil, err
	}
	q.metrics.IncPush(q.cfg.Name)
	q.logger.Debug("Update queued", "sort", entry.SortKey, "key", entry.IdempotencyKey)

	if q.cfg.AutoDrain {
		q.autoDrain()
	}
	return entry, nil
}

func (q *Queue) persist(ctx context.Context, update interface{}) (*model.QueuedUpdate, error) {
	q.keyMu.Lock()
	defer q.keyMu.Unlock()

	if !q.recovered {
		max, err := q.maxSortKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to recover sort key: %w", err)
		}
		q.lastKey = max
		q.recovered = true
		q.logger.Debug("Recovered sort key", "sort", max)
	}

	entry := &model.QueuedUpdate{
		SortKey:        q.lastKey + 1,
		IdempotencyKey: uuid.NewString(),
		Update:         update,
	}
	res, err := q.store.Put(ctx, entry.Document())
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, &model.ValidationError{Op: "add update to queue", ID: res.ID}
	}
	q.lastKey = entry.SortKey
	entry.ID = res.ID
	entry.Rev = res.Rev
	return entry, nil
}

func (q *Queue) autoDrain() {
	q.mu.Lock()
	if q.closed || q.autoPending {
		q.mu.Unlock()
		return
	}
	q.autoPending = true
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		if err := q.Drain(q.ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, model.ErrClosed) {
			q.logger.Warn("Background drain failed", "error", err)
		}
	}()
}

// Schedule runs one drain after delay and returns its outcome.
func (q *Queue) Schedule(ctx context.Context, delay time.Duration) error {
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.ctx.Done():
			return model.ErrClosed
		case <-timer.C:
		}
	}
	return q.Drain(ctx)
}

// Drain delivers every queued update in sort key order and returns the
// first failure, which stops the pass. Drains never overlap: a drain
// requested while another one runs retries after RetryBackoff and returns
// the retry's outcome.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return model.ErrClosed
	}
	if q.draining {
		q.mu.Unlock()
		q.metrics.IncDrainRetry(q.cfg.Name)
		q.logger.Debug("Drain already running, retrying later", "backoff", q.cfg.RetryBackoff)
		return q.Schedule(ctx, q.cfg.RetryBackoff)
	}
	q.draining = true
	q.autoPending = false
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	updates, err := q.Updates(ctx)
	if err != nil {
		return err
	}
	q.metrics.SetPending(q.cfg.Name, len(updates))
	if len(updates) == 0 {
		return nil
	}

	q.logger.Debug("Draining queue", "pending", len(updates))
	for i, u := range updates {
		if _, err := q.send(ctx, u); err != nil {
			q.metrics.SetPending(q.cfg.Name, len(updates)-i)
			return err
		}
	}
	q.metrics.SetPending(q.cfg.Name, 0)
	q.logger.Info("Queue drained", "delivered", len(updates))
	return nil
}

// send delivers one update and removes it from the store.
func (q *Queue) send(ctx context.Context, u *model.QueuedUpdate) (interface{}, error) {
	start := time.Now()
	res, err := q.sender.Send(ctx, &Delivery{
		IdempotencyKey: u.IdempotencyKey,
		SortKey:        u.SortKey,
		Update:         u.Update,
	})
	if err != nil {
		fatal := model.IsFatal(err)
		q.metrics.IncDeliveryFailure(q.cfg.Name, fatal)
		q.logger.Warn("Delivery failed", "sort", u.SortKey, "fatal", fatal, "error", err)
		return nil, &model.DeliveryError{SortKey: u.SortKey, Update: u.Update, Cause: err}
	}
	q.metrics.ObserveDeliveryLatency(q.cfg.Name, time.Since(start))

	if err := q.store.Remove(ctx, &model.Document{ID: u.ID, Rev: u.Rev}); err != nil {
		q.metrics.IncCleanupFailure(q.cfg.Name)
		q.logger.Error("Delivered update could not be removed", "sort", u.SortKey, "error", err)
		return nil, &model.CleanupError{SortKey: u.SortKey, Update: u.Update, Cause: err}
	}
	q.metrics.IncDeliverySuccess(q.cfg.Name)
	return res, nil
}

// Length returns the number of queued updates.
func (q *Queue) Length(ctx context.Context) (int, error) {
	res, err := q.store.Query(ctx, view.View{Map: sortKeys, Reduce: view.Count()}, view.QueryOptions{})
	if err != nil {
		return 0, err
	}
	if len(res.Rows) == 0 {
		return 0, nil
	}
	n, ok := model.ToInt64(res.Rows[0].Value)
	if !ok {
		return 0, fmt.Errorf("unexpected queue count %v", res.Rows[0].Value)
	}
	return int(n), nil
}

// Updates returns the queued updates in delivery order.
func (q *Queue) Updates(ctx context.Context) ([]*model.QueuedUpdate, error) {
	res, err := q.store.Query(ctx, view.View{Map: sortKeys}, view.QueryOptions{IncludeDocs: true})
	if err != nil {
		return nil, err
	}
	out := make([]*model.QueuedUpdate, 0, len(res.Rows))
	for _, row := range res.Rows {
		u, err := model.QueuedUpdateFromDocument(row.Doc)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Close stops background drains and waits for them to finish.
// It does not close the store.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.logger.Info("Queue closed")
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) maxSortKey(ctx context.Context) (int64, error) {
	res, err := q.store.Query(ctx, view.View{Map: sortKeys, Reduce: view.Max()}, view.QueryOptions{})
	if err != nil {
		return 0, err
	}
	if len(res.Rows) == 0 {
		return 0, nil
	}
	max, ok := model.ToInt64(res.Rows[0].Value)
	if !ok {
		return 0, fmt.Errorf("unexpected max sort key %v", res.Rows[0].Value)
	}
	return max, nil
}

// sortKeys emits queue entries keyed and valued by their sort key.
func sortKeys(doc *model.Document, emit view.EmitFunc) {
	v, ok := doc.Field(model.FieldSort)
	if !ok {
		return
	}
	if _, ok := model.ToInt64(v); ok {
		emit(v, v)
	}
}
