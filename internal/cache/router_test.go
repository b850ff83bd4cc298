package cache

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/memory"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/types"
	"github.com/syntrixbase/syntrix-offline/internal/replication"
	"github.com/syntrixbase/syntrix-offline/internal/view"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, id string) (*model.Document, error) {
	args := m.Called(ctx, id)
	if doc := args.Get(0); doc != nil {
		return doc.(*model.Document), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) Put(ctx context.Context, doc *model.Document) (types.PutResult, error) {
	args := m.Called(ctx, doc)
	return args.Get(0).(types.PutResult), args.Error(1)
}

func (m *mockStore) Remove(ctx context.Context, doc *model.Document) error {
	return m.Called(ctx, doc).Error(0)
}

func (m *mockStore) Query(ctx context.Context, v view.View, opts view.QueryOptions) (*model.ViewResult, error) {
	args := m.Called(ctx, v, opts)
	if res := args.Get(0); res != nil {
		return res.(*model.ViewResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func fallbackReturning(v interface{}) FallbackFunc {
	return func(ctx context.Context, uri string, opts *model.RequestOptions) (interface{}, error) {
		return v, nil
	}
}

func TestRouter_GetFromStore(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, err := store.Put(ctx, &model.Document{ID: "/products/1", Payload: map[string]interface{}{"product": map[string]interface{}{"id": 1}}})
	require.NoError(t, err)

	r := New(store)
	res, err := r.Get(ctx, "/products/1", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"product": map[string]interface{}{"id": float64(1)}}, res)
}

func TestRouter_NotFoundWithoutFallback(t *testing.T) {
	r := New(memory.New())

	_, err := r.Get(context.Background(), "/missing", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, model.HTTPStatus(err))
	assert.Equal(t, "couldn't find cache entry for URI '/missing'", err.Error())

	var lookup *model.LookupError
	require.True(t, errors.As(err, &lookup))
	assert.Equal(t, http.StatusNotFound, lookup.Status)
	assert.Equal(t, "/missing", lookup.URI)
	assert.Error(t, lookup.Cause, "the store error is kept as cause")
}

func TestRouter_FallbackOnMiss(t *testing.T) {
	var gotURI string
	var gotOpts *model.RequestOptions
	r := New(memory.New()).FallbackTo(func(ctx context.Context, uri string, opts *model.RequestOptions) (interface{}, error) {
		gotURI, gotOpts = uri, opts
		return map[string]interface{}{"from": "fallback"}, nil
	})

	opts := model.NewRequestOptions("/remote")
	opts.Data["q"] = "x"
	res, err := r.Get(context.Background(), "/remote", opts)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"from": "fallback"}, res)
	assert.Equal(t, "/remote", gotURI)
	assert.Same(t, opts, gotOpts)
}

func TestRouter_FallbackErrorPropagates(t *testing.T) {
	boom := errors.New("network down")
	r := New(memory.New()).FallbackTo(func(ctx context.Context, uri string, opts *model.RequestOptions) (interface{}, error) {
		return nil, boom
	})
	_, err := r.Get(context.Background(), "/x", nil)
	assert.ErrorIs(t, err, boom)
}

func TestRouter_StoreErrorPropagates(t *testing.T) {
	boom := errors.New("disk failure")
	store := new(mockStore)
	store.On("Get", mock.Anything, "/x").Return(nil, boom)

	fallbackCalled := false
	r := New(store).FallbackTo(func(ctx context.Context, uri string, opts *model.RequestOptions) (interface{}, error) {
		fallbackCalled = true
		return nil, nil
	})

	_, err := r.Get(context.Background(), "/x", nil)
	assert.Same(t, boom, err)
	assert.False(t, fallbackCalled)
	store.AssertExpectations(t)
}

func TestRouter_ExclusionBeatsRoute(t *testing.T) {
	routeCalled := false
	r := New(memory.New()).
		RouteFunc(MustPattern(`^/admin`), func(ctx context.Context, p types.StoreProvider, opts *model.RequestOptions) (interface{}, error) {
			routeCalled = true
			return "route", nil
		}).
		Exclude(Exact("/admin/live")).
		FallbackTo(fallbackReturning("fallback"))

	res, err := r.Get(context.Background(), "/admin/live", nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback", res)
	assert.False(t, routeCalled)

	res, err = r.Get(context.Background(), "/admin/other", nil)
	require.NoError(t, err)
	assert.Equal(t, "route", res)
}

func TestRouter_ExcludedWithoutFallback(t *testing.T) {
	store := new(mockStore)
	r := New(store).Exclude(MustPattern(`^/live/`))

	assert.True(t, r.IsExcluded("/live/feed"))
	assert.False(t, r.IsExcluded("/cached"))

	_, err := r.Get(context.Background(), "/live/feed", nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
	store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestRouter_ExcludeReplacesExclusions(t *testing.T) {
	r := New(memory.New()).Exclude(Exact("/a"), MustPattern(`^/live/`))
	assert.True(t, r.IsExcluded("/a"))

	r.Exclude(Exact("/b"))
	assert.False(t, r.IsExcluded("/a"))
	assert.False(t, r.IsExcluded("/live/feed"))
	assert.True(t, r.IsExcluded("/b"))

	r.Exclude()
	assert.False(t, r.IsExcluded("/b"))
}

func TestRouter_RoutesFirstMatchWins(t *testing.T) {
	handler := func(name string) HandlerFunc {
		return func(ctx context.Context, p types.StoreProvider, opts *model.RequestOptions) (interface{}, error) {
			return name, nil
		}
	}
	r := New(memory.New()).
		RouteFunc(Exact("/products"), handler("exact")).
		RouteFunc(MustPattern(`^/products`), handler("pattern")).
		RouteFunc(MustPattern(`.*`), handler("catch-all"))

	tests := []struct {
		uri  string
		want string
	}{
		{"/products", "exact"},
		{"/products/1", "pattern"},
		{"/other", "catch-all"},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			res, err := r.Get(context.Background(), tt.uri, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
		})
	}
}

func TestRouter_RouteFailureSkipsFallback(t *testing.T) {
	routeErr := model.NewLookupError("/products", nil)
	fallbackCalled := false
	r := New(memory.New()).
		RouteFunc(Exact("/products"), func(ctx context.Context, p types.StoreProvider, opts *model.RequestOptions) (interface{}, error) {
			return nil, routeErr
		}).
		FallbackTo(func(ctx context.Context, uri string, opts *model.RequestOptions) (interface{}, error) {
			fallbackCalled = true
			return "fallback", nil
		})

	_, err := r.Get(context.Background(), "/products", nil)
	assert.Same(t, routeErr, err)
	assert.False(t, fallbackCalled)
}

func TestRouter_RouteReceivesRouterAndOptions(t *testing.T) {
	store := memory.New()
	var got types.StoreProvider
	var gotOpts *model.RequestOptions
	r := New(store)
	r.RouteFunc(Exact("/q"), func(ctx context.Context, p types.StoreProvider, opts *model.RequestOptions) (interface{}, error) {
		got, gotOpts = p, opts
		return nil, nil
	})

	opts := &model.RequestOptions{Data: map[string]interface{}{"limit": 5}}
	_, err := r.Get(context.Background(), "/q", opts)
	require.NoError(t, err)
	assert.Same(t, r, got)
	assert.Same(t, store, got.Store())
	assert.Equal(t, "/q", gotOpts.URI)
	assert.Equal(t, 5, gotOpts.Data["limit"])
}

func TestParseMatcher(t *testing.T) {
	m, err := ParseMatcher("/exact")
	require.NoError(t, err)
	assert.Equal(t, Exact("/exact"), m)
	assert.True(t, m.Match("/exact"))
	assert.False(t, m.Match("/exact/1"))

	m, err = ParseMatcher(`re:^/users/\d+$`)
	require.NoError(t, err)
	assert.True(t, m.Match("/users/42"))
	assert.False(t, m.Match("/users/me"))
	assert.Equal(t, `re:^/users/\d+$`, m.(Pattern).String())

	_, err = ParseMatcher("re:(")
	assert.Error(t, err)

	list, err := ParseMatchers([]string{"/a", "re:^/b"})
	require.NoError(t, err)
	assert.Len(t, list, 2)
	_, err = ParseMatchers([]string{"re:["})
	assert.Error(t, err)

	assert.False(t, Pattern{}.Match("/x"))
	assert.True(t, NewPattern(regexp.MustCompile("x")).Match("/x"))
}

func TestRouter_Replication(t *testing.T) {
	ctx := context.Background()
	remote := memory.New()
	_, err := remote.Put(ctx, &model.Document{ID: "/products/1", Payload: "remote"})
	require.NoError(t, err)

	r := New(memory.New(), WithReplication(replication.Options{Name: "upstream"}))
	assert.ErrorIs(t, r.On(replication.EventChange, func(replication.Info) {}), model.ErrNoReplication)
	r.StopReplication()

	require.NoError(t, r.ReplicateFrom(ctx, remote))
	assert.True(t, r.Replicating())

	completed := make(chan struct{})
	require.NoError(t, r.On(replication.EventComplete, func(replication.Info) { close(completed) }))
	assert.Error(t, r.On("bogus", func(replication.Info) {}))

	assert.Eventually(t, func() bool {
		res, err := r.Get(ctx, "/products/1", nil)
		return err == nil && res == "remote"
	}, 2*time.Second, 10*time.Millisecond)

	r.StopReplication()
	assert.False(t, r.Replicating())
	select {
	case <-completed:
	case <-time.After(time.Second):
		t.Fatal("complete event not delivered")
	}
	assert.ErrorIs(t, r.On(replication.EventChange, func(replication.Info) {}), model.ErrNoReplication)
}

func TestRouter_ReplicationErrorsAreSwallowed(t *testing.T) {
	ctx := context.Background()
	closed := memory.New()
	require.NoError(t, closed.Close(ctx))

	r := New(memory.New(), WithReplication(replication.Options{RetryBackoff: time.Millisecond}))
	require.NoError(t, r.ReplicateFrom(ctx, closed))
	defer r.StopReplication()

	// The router keeps serving reads.
	_, err := r.Get(ctx, "/x", nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
