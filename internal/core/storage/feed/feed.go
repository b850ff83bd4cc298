// Package feed fans store writes out to change feed subscribers.
//
// Stores call Subscribe and snapshot their backlog under the same lock
// that orders their writes, then hand both to Stream. Stream replays the
// backlog, reports EventUpToDate and forwards live events whose sequence
// is past the snapshot.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syntrixbase/syntrix-offline/internal/core/storage/types"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// DefaultBuffer is the number of live events buffered per subscriber.
const DefaultBuffer = 256

// ErrSlowConsumer ends a feed whose subscriber fell more than its buffer behind.
var ErrSlowConsumer = errors.New("change feed consumer too slow")

// Subscription receives live events from a Hub.
type Subscription struct {
	id int
	ch chan types.Event
	// err is set before ch is closed when the subscription is dropped.
	err error
}

// Hub tracks live subscriptions.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int
	buffer int
	closed bool
}

// NewHub creates a hub buffering up to buffer events per subscriber.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{subs: make(map[int]*Subscription), buffer: buffer}
}

// Subscribe registers a new subscription. It returns false once the hub is closed.
func (h *Hub) Subscribe() (*Subscription, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	sub := &Subscription{id: h.nextID, ch: make(chan types.Event, h.buffer)}
	h.nextID++
	h.subs[sub.id] = sub
	return sub, true
}

// Publish delivers evt to every subscriber without blocking.
// Subscribers with a full buffer are dropped with ErrSlowConsumer.
func (h *Hub) Publish(evt types.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		select {
		case sub.ch <- evt:
		default:
			sub.err = ErrSlowConsumer
			close(sub.ch)
			delete(h.subs, id)
		}
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; ok {
		delete(h.subs, sub.id)
	}
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
}

// Stream replays backlog, emits EventUpToDate at snapshot and then forwards
// live events from sub until ctx is done or the hub drops the subscription.
// Live events must carry a uint64 Seq.
func (h *Hub) Stream(ctx context.Context, sub *Subscription, backlog []types.Event, snapshot uint64) <-chan types.Event {
	out := make(chan types.Event)

	go func() {
		defer close(out)
		defer h.unsubscribe(sub)

		send := func(evt types.Event) bool {
			select {
			case out <- evt:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for _, evt := range backlog {
			if !send(evt) {
				return
			}
		}
		if !send(types.Event{Type: types.EventUpToDate, Seq: snapshot}) {
			return
		}

		for {
			select {
			case evt, ok := <-sub.ch:
				if !ok {
					if sub.err != nil {
						send(types.Event{Type: types.EventError, Err: sub.err})
					}
					return
				}
				if seq, isSeq := evt.Seq.(uint64); isSeq && seq <= snapshot {
					continue
				}
				if !send(evt) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// ParseSeq converts a change feed checkpoint to a sequence number.
// A nil checkpoint starts from the beginning.
func ParseSeq(since interface{}) (uint64, error) {
	if since == nil {
		return 0, nil
	}
	if seq, ok := since.(uint64); ok {
		return seq, nil
	}
	n, ok := model.ToInt64(since)
	if !ok || n < 0 {
		return 0, fmt.Errorf("invalid sequence %v", since)
	}
	return uint64(n), nil
}
