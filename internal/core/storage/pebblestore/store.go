// Package pebblestore provides a durable IndexedStore on PebbleDB.
//
// Documents are stored as zstd-compressed JSON under "d/<id>". Every write
// also records the document id under a big-endian sequence key "s/<seq>",
// replacing the document's previous sequence entry, so the change feed can
// replay the latest revision of every document in write order.
package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/feed"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/types"
	"github.com/syntrixbase/syntrix-offline/internal/view"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// Options configures the store.
type Options struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory keeps the database in memory. Contents are lost on Close.
	InMemory bool

	// FeedBuffer is the number of live events buffered per change feed.
	FeedBuffer int

	// Logger for store operations.
	Logger *slog.Logger
}

// Store implements types.IndexedStore and types.ChangeFeed on PebbleDB.
type Store struct {
	db     *pebble.DB
	hub    *feed.Hub
	logger *slog.Logger

	// mu serializes writes so sequence numbers follow write order.
	mu     sync.Mutex
	seq    uint64
	closed bool
}

// Compile-time checks
var (
	_ types.IndexedStore = (*Store)(nil)
	_ types.ChangeFeed   = (*Store)(nil)
)

// Open opens or creates a store.
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pebble-store")

	dbOpts := &pebble.Options{}
	if opts.InMemory {
		dbOpts.FS = vfs.NewMem()
	} else {
		if opts.Path == "" {
			return nil, fmt.Errorf("store path is required")
		}
		if err := os.MkdirAll(opts.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := pebble.Open(opts.Path, dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}

	s := &Store{
		db:     db,
		hub:    feed.NewHub(opts.FeedBuffer),
		logger: logger,
	}

	seq, err := s.loadSeq()
	if err != nil {
		db.Close()
		return nil, err
	}
	s.seq = seq

	logger.Info("Store opened", "path", opts.Path, "in_memory", opts.InMemory, "seq", seq)
	return s, nil
}

func (s *Store) loadSeq() (uint64, error) {
	val, closer, err := s.db.Get(seqKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence: %w", err)
	}
	defer closer.Close()
	return decodeSeq(val)
}

func (s *Store) getRecord(id string) (*record, error) {
	val, closer, err := s.db.Get(docKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return decodeRecord(val)
}

// Get retrieves a document by id.
func (s *Store) Get(ctx context.Context, id string) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.getRecord(id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Deleted {
		return nil, fmt.Errorf("%w: missing document %q", model.ErrNotFound, id)
	}
	return &model.Document{ID: id, Rev: rec.Rev, Payload: rec.Data}, nil
}

// Put creates or overwrites a document.
func (s *Store) Put(ctx context.Context, doc *model.Document) (types.PutResult, error) {
	if err := ctx.Err(); err != nil {
		return types.PutResult{}, err
	}
	payload, err := model.NormalizePayload(doc.Payload)
	if err != nil {
		return types.PutResult{}, err
	}
	id := doc.ID
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.PutResult{}, model.ErrClosed
	}

	prev, err := s.getRecord(id)
	if err != nil {
		return types.PutResult{}, err
	}
	gen := 1
	if prev != nil {
		gen = prev.Gen + 1
	}

	rec := &record{
		Rev:  fmt.Sprintf("%d-%s", gen, uuid.NewString()[:8]),
		Gen:  gen,
		Seq:  s.seq + 1,
		Data: payload,
	}
	if err := s.write(id, prev, rec); err != nil {
		return types.PutResult{}, err
	}

	if !model.IsLocalID(id) {
		stored := &model.Document{ID: id, Rev: rec.Rev, Payload: payload}
		s.hub.Publish(types.Event{Type: types.EventPut, ID: id, Document: stored, Seq: rec.Seq})
	}

	return types.PutResult{OK: true, ID: id, Rev: rec.Rev}, nil
}

// Remove deletes a document, leaving a tombstone for the change feed.
func (s *Store) Remove(ctx context.Context, doc *model.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.ErrClosed
	}

	prev, err := s.getRecord(doc.ID)
	if err != nil {
		return err
	}
	if prev == nil || prev.Deleted {
		return fmt.Errorf("%w: missing document %q", model.ErrNotFound, doc.ID)
	}

	rec := &record{
		Rev:     fmt.Sprintf("%d-%s", prev.Gen+1, uuid.NewString()[:8]),
		Gen:     prev.Gen + 1,
		Seq:     s.seq + 1,
		Deleted: true,
	}
	if err := s.write(doc.ID, prev, rec); err != nil {
		return err
	}

	if !model.IsLocalID(doc.ID) {
		s.hub.Publish(types.Event{Type: types.EventDelete, ID: doc.ID, Seq: rec.Seq})
	}
	return nil
}

// write must be called with mu held.
func (s *Store) write(id string, prev, rec *record) error {
	val, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if prev != nil {
		if err := batch.Delete(seqIndexKey(prev.Seq), nil); err != nil {
			return err
		}
	}
	if err := batch.Set(docKey(id), val, nil); err != nil {
		return err
	}
	if !model.IsLocalID(id) {
		if err := batch.Set(seqIndexKey(rec.Seq), []byte(id), nil); err != nil {
			return err
		}
	}
	if err := batch.Set(seqKey, encodeSeq(rec.Seq), nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit write: %w", err)
	}

	s.seq = rec.Seq
	return nil
}

// Query executes a view over every live document.
func (s *Store) Query(ctx context.Context, v view.View, opts view.QueryOptions) (*model.ViewResult, error) {
	return view.Execute(ctx, s.scan, v, opts)
}

func (s *Store) scan(ctx context.Context, fn func(doc *model.Document) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: docPrefix,
		UpperBound: prefixEnd(docPrefix),
	})
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := decodeRecord(iter.Value())
		if err != nil {
			return err
		}
		if rec.Deleted {
			continue
		}
		id := string(iter.Key()[len(docPrefix):])
		if err := fn(&model.Document{ID: id, Rev: rec.Rev, Payload: rec.Data}); err != nil {
			return err
		}
	}

	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}
	return nil
}

// Changes replays every change after since (a sequence number), reports
// EventUpToDate, then streams live changes until ctx is done.
func (s *Store) Changes(ctx context.Context, since interface{}) (<-chan types.Event, error) {
	after, err := feed.ParseSeq(since)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, model.ErrClosed
	}

	backlog, err := s.backlog(after)
	if err != nil {
		return nil, err
	}
	sub, ok := s.hub.Subscribe()
	if !ok {
		return nil, model.ErrClosed
	}

	return s.hub.Stream(ctx, sub, backlog, s.seq), nil
}

// backlog must be called with mu held.
func (s *Store) backlog(after uint64) ([]types.Event, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: seqIndexKey(after + 1),
		UpperBound: prefixEnd(seqPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var events []types.Event
	for iter.First(); iter.Valid(); iter.Next() {
		id := string(iter.Value())
		rec, err := s.getRecord(id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			s.logger.Warn("Sequence entry without document", "id", id)
			continue
		}
		if rec.Deleted {
			events = append(events, types.Event{Type: types.EventDelete, ID: id, Seq: rec.Seq})
			continue
		}
		doc := &model.Document{ID: id, Rev: rec.Rev, Payload: rec.Data}
		events = append(events, types.Event{Type: types.EventPut, ID: id, Document: doc, Seq: rec.Seq})
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}
	return events, nil
}

// Close ends every change feed and closes the database.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.hub.Close()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close pebble database: %w", err)
	}
	s.logger.Info("Store closed")
	return nil
}
