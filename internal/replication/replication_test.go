package replication

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/memory"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/types"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

type recorder struct {
	mu     sync.Mutex
	events []Info
}

func (r *recorder) listen(h *Handle) {
	for _, e := range []EventName{EventChange, EventUpToDate, EventComplete, EventError} {
		_ = h.On(e, r.add)
	}
}

func (r *recorder) add(info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, info)
}

func (r *recorder) count(e EventName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, info := range r.events {
		if info.Event == e {
			n++
		}
	}
	return n
}

func TestParseEventName(t *testing.T) {
	for _, name := range []string{"change", "uptodate", "complete", "error"} {
		e, err := ParseEventName(name)
		require.NoError(t, err)
		assert.Equal(t, EventName(name), e)
	}
	_, err := ParseEventName("paused")
	assert.Error(t, err)
}

func TestStart_RequiresStores(t *testing.T) {
	_, err := Start(context.Background(), nil, memory.New(), Options{})
	assert.Error(t, err)
}

func TestReplication_CopiesBacklogAndLiveChanges(t *testing.T) {
	ctx := context.Background()
	source := memory.New()
	target := memory.New()

	_, err := source.Put(ctx, &model.Document{ID: "/products/1", Payload: map[string]interface{}{"name": "a"}})
	require.NoError(t, err)
	_, err = source.Put(ctx, &model.Document{ID: "/products/2", Payload: map[string]interface{}{"name": "b"}})
	require.NoError(t, err)

	h, err := Start(ctx, source, target, Options{Name: "test"})
	require.NoError(t, err)
	rec := &recorder{}
	rec.listen(h)

	assert.Eventually(t, func() bool {
		_, err := target.Get(ctx, "/products/2")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	_, err = source.Put(ctx, &model.Document{ID: "/products/3", Payload: "live"})
	require.NoError(t, err)
	require.NoError(t, source.Remove(ctx, &model.Document{ID: "/products/1"}))

	assert.Eventually(t, func() bool {
		_, err3 := target.Get(ctx, "/products/3")
		_, err1 := target.Get(ctx, "/products/1")
		return err3 == nil && errors.Is(err1, model.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	h.Cancel()
	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed after Cancel")
	}
	assert.NoError(t, h.Err())
	assert.Equal(t, 1, rec.count(EventComplete))
	assert.GreaterOrEqual(t, rec.count(EventChange), 2)

	// The checkpoint lives in the target and is invisible to views.
	cp, err := target.Get(ctx, CheckpointPrefix+"test")
	require.NoError(t, err)
	seq, ok := cp.Field("seq")
	assert.True(t, ok)
	assert.Equal(t, float64(4), seq)
}

func TestReplication_ResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	source := memory.New()
	target := memory.New()

	_, err := source.Put(ctx, &model.Document{ID: "a", Payload: 1})
	require.NoError(t, err)

	h, err := Start(ctx, source, target, Options{})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		_, err := target.Get(ctx, "a")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	h.Cancel()

	// Deleting from the target directly must not be undone by a resumed run.
	require.NoError(t, target.Remove(ctx, &model.Document{ID: "a"}))
	_, err = source.Put(ctx, &model.Document{ID: "b", Payload: 2})
	require.NoError(t, err)

	h, err = Start(ctx, source, target, Options{})
	require.NoError(t, err)
	defer h.Cancel()

	assert.Eventually(t, func() bool {
		_, err := target.Get(ctx, "b")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	_, err = target.Get(ctx, "a")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReplication_UpToDateEvent(t *testing.T) {
	ctx := context.Background()
	source := memory.New()
	target := memory.New()

	// Register before the first event by starting on an empty source.
	h, err := Start(ctx, &gatedFeed{ChangeFeed: source, gate: make(chan struct{})}, target, Options{})
	require.NoError(t, err)
	defer h.Cancel()

	rec := &recorder{}
	rec.listen(h)
	close(h.source.(*gatedFeed).gate)

	assert.Eventually(t, func() bool { return rec.count(EventUpToDate) == 1 }, 2*time.Second, 10*time.Millisecond)
}

// gatedFeed holds Changes until gate is closed.
type gatedFeed struct {
	types.ChangeFeed
	gate chan struct{}
}

func (g *gatedFeed) Changes(ctx context.Context, since interface{}) (<-chan types.Event, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.ChangeFeed.Changes(ctx, since)
}

// flakyFeed fails every connection until failures runs out.
type flakyFeed struct {
	mu       sync.Mutex
	failures int
	calls    int
	next     types.ChangeFeed
}

func (f *flakyFeed) Changes(ctx context.Context, since interface{}) (<-chan types.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		ch := make(chan types.Event, 1)
		ch <- types.Event{Type: types.EventError, Err: errors.New("connection reset")}
		close(ch)
		return ch, nil
	}
	return f.next.Changes(ctx, since)
}

func TestReplication_ReconnectsAfterErrors(t *testing.T) {
	ctx := context.Background()
	source := memory.New()
	target := memory.New()
	_, err := source.Put(ctx, &model.Document{ID: "a", Payload: 1})
	require.NoError(t, err)

	feed := &flakyFeed{failures: 2, next: source}
	var (
		mu   sync.Mutex
		errs []error
	)
	h, err := Start(ctx, &gatedFeed{ChangeFeed: feed, gate: make(chan struct{})}, target, Options{RetryBackoff: 5 * time.Millisecond})
	require.NoError(t, err)
	defer h.Cancel()
	require.NoError(t, h.On(EventError, func(info Info) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, info.Err)
	}))
	close(h.source.(*gatedFeed).gate)

	assert.Eventually(t, func() bool {
		_, err := target.Get(ctx, "a")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], model.ErrReplication)
	assert.Contains(t, errs[0].Error(), "connection reset")
}

// failingTarget rejects the first failures writes.
type failingTarget struct {
	types.IndexedStore
	mu       sync.Mutex
	failures int
}

func (f *failingTarget) Put(ctx context.Context, doc *model.Document) (types.PutResult, error) {
	f.mu.Lock()
	fail := f.failures > 0 && !model.IsLocalID(doc.ID)
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return types.PutResult{}, errors.New("disk full")
	}
	return f.IndexedStore.Put(ctx, doc)
}

func (f *failingTarget) remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures
}

func TestReplication_ApplyErrorsReleaseConnections(t *testing.T) {
	ctx := context.Background()
	source := memory.New()
	for _, id := range []string{"a", "b", "c"} {
		_, err := source.Put(ctx, &model.Document{ID: id, Payload: id})
		require.NoError(t, err)
	}
	store := memory.New()
	target := &failingTarget{IndexedStore: store, failures: 20}

	before := runtime.NumGoroutine()
	h, err := Start(ctx, source, target, Options{RetryBackoff: time.Millisecond})
	require.NoError(t, err)
	defer h.Cancel()

	assert.Eventually(t, func() bool {
		_, err := store.Get(ctx, "c")
		return err == nil && target.remaining() == 0
	}, 5*time.Second, 5*time.Millisecond)

	// Only the live connection stays subscribed.
	assert.Eventually(t, func() bool { return source.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before+5 }, 2*time.Second, 5*time.Millisecond)

	h.Cancel()
	assert.Eventually(t, func() bool { return source.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestReplication_StopsWhenSourceClosed(t *testing.T) {
	ctx := context.Background()
	source := memory.New()
	require.NoError(t, source.Close(ctx))

	h, err := Start(ctx, source, memory.New(), Options{RetryBackoff: time.Millisecond})
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("replication did not stop")
	}
	assert.ErrorIs(t, h.Err(), model.ErrClosed)
}

func TestReplication_ParentContextCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h, err := Start(ctx, memory.New(), memory.New(), Options{})
	require.NoError(t, err)

	cancel()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("replication did not stop with its context")
	}
	assert.NoError(t, h.Err())
}

func TestHandle_OnUnknownEvent(t *testing.T) {
	h, err := Start(context.Background(), memory.New(), memory.New(), Options{})
	require.NoError(t, err)
	defer h.Cancel()
	assert.Error(t, h.On("paused", func(Info) {}))
}

func TestTracker(t *testing.T) {
	tr := newTracker(Policy{EventCount: 2, Interval: time.Hour})
	assert.False(t, tr.record())
	assert.True(t, tr.record())
	tr.reset()
	assert.False(t, tr.record())

	tr = newTracker(Policy{Interval: time.Nanosecond})
	time.Sleep(time.Millisecond)
	assert.True(t, tr.record())
}
