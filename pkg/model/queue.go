package model

import (
	"fmt"
)

// Payload field names of a queued update document.
const (
	FieldSort   = "sort"
	FieldUpdate = "update"
	FieldKey    = "key"
)

// QueuedUpdate is a pending outbound write.
type QueuedUpdate struct {
	// ID is the document id of the queue entry.
	ID string `json:"id"`
	// Rev is the revision of the queue entry, needed to remove it.
	Rev string `json:"rev,omitempty"`
	// SortKey orders delivery; it is assigned at push time.
	SortKey int64 `json:"sort"`
	// IdempotencyKey is stable across redeliveries of the same update.
	IdempotencyKey string `json:"key"`
	// Update is the application payload.
	Update interface{} `json:"update"`
}

// Document returns the queue entry as a storable document.
func (u *QueuedUpdate) Document() *Document {
	return &Document{
		ID:  u.ID,
		Rev: u.Rev,
		Payload: map[string]interface{}{
			FieldSort:   u.SortKey,
			FieldUpdate: u.Update,
			FieldKey:    u.IdempotencyKey,
		},
	}
}

// QueuedUpdateFromDocument decodes a queue entry document.
func QueuedUpdateFromDocument(doc *Document) (*QueuedUpdate, error) {
	if doc == nil {
		return nil, fmt.Errorf("queue entry is nil")
	}
	sortVal, ok := doc.Field(FieldSort)
	if !ok {
		return nil, fmt.Errorf("queue entry %q has no sort key", doc.ID)
	}
	sortKey, ok := ToInt64(sortVal)
	if !ok {
		return nil, fmt.Errorf("queue entry %q has non-numeric sort key %v", doc.ID, sortVal)
	}
	update, ok := doc.Field(FieldUpdate)
	if !ok {
		return nil, fmt.Errorf("queue entry %q has no update", doc.ID)
	}
	key, _ := doc.Field(FieldKey)
	keyStr, _ := key.(string)

	return &QueuedUpdate{
		ID:             doc.ID,
		Rev:            doc.Rev,
		SortKey:        sortKey,
		IdempotencyKey: keyStr,
		Update:         update,
	}, nil
}

// ToInt64 converts a numeric value in any of its decoded shapes to int64.
func ToInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	}
	return 0, false
}
