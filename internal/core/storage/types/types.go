package types

import (
	"context"

	"github.com/syntrixbase/syntrix-offline/internal/view"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// PutResult is the store acknowledgement of a write.
type PutResult struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// IndexedStore is the local document store: key/value documents plus
// map/reduce view queries over all of them.
type IndexedStore interface {
	// Get retrieves a document by id.
	// Misses return an error wrapping model.ErrNotFound.
	Get(ctx context.Context, id string) (*model.Document, error)

	// Put creates or overwrites a document. An empty ID is replaced by a
	// generated one, so Put doubles as post.
	Put(ctx context.Context, doc *model.Document) (PutResult, error)

	// Remove deletes a document.
	// Removing a missing document returns an error wrapping model.ErrNotFound.
	Remove(ctx context.Context, doc *model.Document) error

	// Query executes a view over every document.
	Query(ctx context.Context, v view.View, opts view.QueryOptions) (*model.ViewResult, error)

	// Close releases the store.
	Close(ctx context.Context) error
}

// EventType represents the type of change
type EventType string

const (
	EventPut      EventType = "put"
	EventDelete   EventType = "delete"
	EventUpToDate EventType = "uptodate"
	EventError    EventType = "error"
)

// Event is one entry of a change feed.
type Event struct {
	Type EventType `json:"type"`

	// ID of the changed document. Empty for EventUpToDate.
	ID string `json:"id,omitempty"`

	// Document is the new state. Nil for deletes.
	Document *model.Document `json:"document,omitempty"`

	// Seq is an opaque, backend specific position. Passing the Seq of the
	// last applied event to Changes resumes the feed after it.
	Seq interface{} `json:"-"`

	// Err is set for EventError, the last event before the feed closes.
	Err error `json:"-"`
}

// ChangeFeed is a source of document changes.
type ChangeFeed interface {
	// Changes streams changes after since (nil = from the beginning, or from
	// "now" for backends without history). Backends with history first
	// replay it, then send an EventUpToDate, then stream live changes.
	// The channel is closed when ctx is done. A feed that fails sends an
	// EventError and closes.
	Changes(ctx context.Context, since interface{}) (<-chan Event, error)
}

// Creator is implemented by stores that must be prepared before first use.
type Creator interface {
	Create(ctx context.Context) error
}

// StoreProvider provides access to an IndexedStore.
type StoreProvider interface {
	Store() IndexedStore
}
