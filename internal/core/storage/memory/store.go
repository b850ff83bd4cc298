// Package memory provides an in-memory IndexedStore with a change feed.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/feed"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/types"
	"github.com/syntrixbase/syntrix-offline/internal/view"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

type entry struct {
	doc     *model.Document
	seq     uint64
	gen     int
	deleted bool
}

// Store implements types.IndexedStore and types.ChangeFeed in memory.
type Store struct {
	docs *xsync.MapOf[string, *entry]
	hub  *feed.Hub

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

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		docs: xsync.NewMapOf[string, *entry](),
		hub:  feed.NewHub(feed.DefaultBuffer),
	}
}

// Get retrieves a document by id.
func (s *Store) Get(ctx context.Context, id string) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := s.docs.Load(id)
	if !ok || e.deleted {
		return nil, fmt.Errorf("%w: missing document %q", model.ErrNotFound, id)
	}
	return e.doc.Clone()
}

// Put creates or overwrites a document.
func (s *Store) Put(ctx context.Context, doc *model.Document) (types.PutResult, error) {
	if err := ctx.Err(); err != nil {
		return types.PutResult{}, err
	}
	stored, err := doc.Clone()
	if err != nil {
		return types.PutResult{}, err
	}
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.PutResult{}, model.ErrClosed
	}

	gen := 1
	if prev, ok := s.docs.Load(stored.ID); ok {
		gen = prev.gen + 1
	}
	stored.Rev = fmt.Sprintf("%d-%s", gen, uuid.NewString()[:8])
	s.seq++
	s.docs.Store(stored.ID, &entry{doc: stored, seq: s.seq, gen: gen})

	if !model.IsLocalID(stored.ID) {
		s.hub.Publish(types.Event{Type: types.EventPut, ID: stored.ID, Document: stored, Seq: s.seq})
	}

	return types.PutResult{OK: true, ID: stored.ID, Rev: stored.Rev}, nil
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

	prev, ok := s.docs.Load(doc.ID)
	if !ok || prev.deleted {
		return fmt.Errorf("%w: missing document %q", model.ErrNotFound, doc.ID)
	}
	s.seq++
	s.docs.Store(doc.ID, &entry{doc: &model.Document{ID: doc.ID}, seq: s.seq, gen: prev.gen + 1, deleted: true})

	if !model.IsLocalID(doc.ID) {
		s.hub.Publish(types.Event{Type: types.EventDelete, ID: doc.ID, Seq: s.seq})
	}
	return nil
}

// Query executes a view over every live document.
func (s *Store) Query(ctx context.Context, v view.View, opts view.QueryOptions) (*model.ViewResult, error) {
	return view.Execute(ctx, s.scan, v, opts)
}

func (s *Store) scan(ctx context.Context, fn func(doc *model.Document) error) error {
	var err error
	s.docs.Range(func(id string, e *entry) bool {
		if e.deleted {
			return true
		}
		var doc *model.Document
		if doc, err = e.doc.Clone(); err != nil {
			return false
		}
		err = fn(doc)
		return err == nil
	})
	return err
}

// Changes replays every change after since (a sequence number), reports
// EventUpToDate, then streams live changes until ctx is done.
func (s *Store) Changes(ctx context.Context, since interface{}) (<-chan types.Event, error) {
	after, err := feed.ParseSeq(since)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, model.ErrClosed
	}
	sub, ok := s.hub.Subscribe()
	if !ok {
		s.mu.Unlock()
		return nil, model.ErrClosed
	}

	var backlog []types.Event
	s.docs.Range(func(docID string, e *entry) bool {
		if e.seq <= after || model.IsLocalID(docID) {
			return true
		}
		evt := types.Event{Type: types.EventPut, ID: docID, Document: e.doc, Seq: e.seq}
		if e.deleted {
			evt = types.Event{Type: types.EventDelete, ID: docID, Seq: e.seq}
		}
		backlog = append(backlog, evt)
		return true
	})
	snapshot := s.seq
	s.mu.Unlock()

	sort.Slice(backlog, func(i, j int) bool {
		return backlog[i].Seq.(uint64) < backlog[j].Seq.(uint64)
	})

	return s.hub.Stream(ctx, sub, backlog, snapshot), nil
}

// Subscribers returns the number of open change feeds.
func (s *Store) Subscribers() int {
	return s.hub.Len()
}

// Len returns the number of live documents, local documents included.
func (s *Store) Len() int {
	n := 0
	s.docs.Range(func(_ string, e *entry) bool {
		if !e.deleted {
			n++
		}
		return true
	})
	return n
}

// Close stops accepting writes and ends every change feed.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.hub.Close()
	return nil
}
