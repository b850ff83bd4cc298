package query

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/memory"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/types"
	"github.com/syntrixbase/syntrix-offline/internal/view"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

type storeProvider struct {
	store types.IndexedStore
}

func (p storeProvider) Store() types.IndexedStore {
	return p.store
}

func newProvider(t *testing.T, ids ...string) storeProvider {
	t.Helper()
	store := memory.New()
	for _, id := range ids {
		_, err := store.Put(context.Background(), &model.Document{ID: id, Payload: id})
		require.NoError(t, err)
	}
	return storeProvider{store: store}
}

func TestHandler_MapFunction(t *testing.T) {
	p := newProvider(t, "/one", "/two")
	h := NewHandler(func(doc *model.Document, emit view.EmitFunc) {
		if doc.Payload == "/two" {
			emit(doc.Payload, nil)
		}
	})

	out, err := h.Get(context.Background(), p, nil)
	require.NoError(t, err)
	res := out.(*model.ViewResult)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "/two", res.Rows[0].ID)
	require.NotNil(t, res.Rows[0].Doc)
	assert.Equal(t, "/two", res.Rows[0].Doc.Payload)
}

func TestHandler_Pattern(t *testing.T) {
	p := newProvider(t, "/one", "/two")
	h := NewPatternHandler(regexp.MustCompile(`^/one$`))

	out, err := h.Get(context.Background(), p, model.NewRequestOptions("/one"))
	require.NoError(t, err)
	res := out.(*model.ViewResult)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "/one", res.Rows[0].ID)
}

func TestHandler_Formatter(t *testing.T) {
	p := newProvider(t, "/one", "/two")
	formatted := []int{1}
	fn := func(res *model.ViewResult, opts *model.RequestOptions) (interface{}, error) {
		return formatted, nil
	}

	tests := []struct {
		name string
		opt  Option
	}{
		{"func", WithFormatterFunc(fn)},
		{"interface", WithFormatter(FormatterFunc(fn))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewHandler(view.All(), tt.opt).Get(context.Background(), p, nil)
			require.NoError(t, err)
			assert.Equal(t, formatted, out)
		})
	}
}

func TestHandler_Reduce(t *testing.T) {
	p := newProvider(t, "/one", "/two")
	h := NewHandler(view.All(), WithReduce(func(keys, values []interface{}, rereduce bool) (interface{}, error) {
		return "reduced", nil
	}))

	assert.False(t, h.QueryFor(model.NewRequestOptions("")).IncludeDocs)

	out, err := h.Get(context.Background(), p, nil)
	require.NoError(t, err)
	res := out.(*model.ViewResult)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "reduced", res.Rows[0].Value)
	assert.Nil(t, res.Rows[0].Doc)
}

func TestHandler_FilterBeforeFormatter(t *testing.T) {
	p := newProvider(t, "/one", "/two")

	var filterSaw, formatterSaw int
	h := NewHandler(view.All(),
		WithFilterFunc(func(res *model.ViewResult, opts *model.RequestOptions) (*model.ViewResult, error) {
			filterSaw = res.TotalRows
			return &model.ViewResult{Rows: res.Rows[:1], TotalRows: res.TotalRows}, nil
		}),
		WithFormatterFunc(func(res *model.ViewResult, opts *model.RequestOptions) (interface{}, error) {
			formatterSaw = res.TotalRows
			return res.Rows[0].ID, nil
		}),
	)

	out, err := h.Get(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, "/one", out)
	assert.Equal(t, 2, filterSaw)
	assert.Equal(t, 1, formatterSaw)
}

func TestHandler_FilterRecomputesTotal(t *testing.T) {
	p := newProvider(t, "/one", "/two")
	h := NewHandler(view.All(), WithFilter(&RowFilter{
		Extract: func(key string, row model.ViewRow) (interface{}, bool) {
			return row.ID, true
		},
	}))

	opts := model.NewRequestOptions("/q")
	opts.Data["id"] = "/one"
	out, err := h.Get(context.Background(), p, opts)
	require.NoError(t, err)
	res := out.(*model.ViewResult)
	assert.Equal(t, 1, res.TotalRows)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "/one", res.Rows[0].ID)
}

func TestHandler_StageErrors(t *testing.T) {
	p := newProvider(t, "/one")
	boom := errors.New("boom")

	_, err := NewHandler(view.All(), WithFilterFunc(func(*model.ViewResult, *model.RequestOptions) (*model.ViewResult, error) {
		return nil, boom
	})).Get(context.Background(), p, nil)
	assert.ErrorIs(t, err, boom)

	_, err = NewHandler(view.All(), WithFilterFunc(func(*model.ViewResult, *model.RequestOptions) (*model.ViewResult, error) {
		return nil, nil
	})).Get(context.Background(), p, nil)
	assert.Error(t, err)

	_, err = NewHandler(nil).Get(context.Background(), p, nil)
	assert.Error(t, err, "a view without a map function is rejected by the store")
}

func TestHandler_QueryFor(t *testing.T) {
	h := NewHandler(view.All())

	tests := []struct {
		name string
		data map[string]interface{}
		want view.QueryOptions
	}{
		{"none", nil, view.QueryOptions{IncludeDocs: true}},
		{"limit", map[string]interface{}{"limit": 10}, view.QueryOptions{IncludeDocs: true, Limit: 10}},
		{"offset string", map[string]interface{}{"offset": "5"}, view.QueryOptions{IncludeDocs: true, Skip: 5}},
		{"both float", map[string]interface{}{"limit": float64(2), "offset": float64(1)}, view.QueryOptions{IncludeDocs: true, Limit: 2, Skip: 1}},
		{"invalid", map[string]interface{}{"limit": "many"}, view.QueryOptions{IncludeDocs: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.QueryFor(&model.RequestOptions{Data: tt.data}))
		})
	}
}

func TestHandler_Pagination(t *testing.T) {
	p := newProvider(t, "/a", "/b", "/c")
	opts := model.NewRequestOptions("/q")
	opts.Data["limit"] = 1
	opts.Data["offset"] = 1

	out, err := NewHandler(view.All()).Get(context.Background(), p, opts)
	require.NoError(t, err)
	res := out.(*model.ViewResult)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "/b", res.Rows[0].ID)
	assert.Equal(t, 3, res.TotalRows)
	assert.Equal(t, 1, res.Offset)
}

func TestIdentity(t *testing.T) {
	res := &model.ViewResult{TotalRows: 3}
	out, err := Identity.Format(res, nil)
	require.NoError(t, err)
	assert.Same(t, res, out)
}
