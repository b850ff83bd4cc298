// Package query runs map/reduce views against the local store and shapes
// their results through an optional filter stage and formatter stage.
//
// The filter always runs before the formatter, and a filtered result has its
// TotalRows reset to the number of remaining rows so formatters see
// post-filter counts.
package query

import (
	"context"
	"fmt"
	"regexp"

	"github.com/syntrixbase/syntrix-offline/internal/core/storage/types"
	"github.com/syntrixbase/syntrix-offline/internal/view"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// Pagination parameters read from RequestOptions.Data.
const (
	ParamLimit  = "limit"
	ParamOffset = "offset"
)

// Option configures a Handler.
type Option func(*Handler)

// WithReduce sets the view's reduce function. Reduced queries never include
// documents.
func WithReduce(fn view.ReduceFunc) Option {
	return func(h *Handler) { h.view.Reduce = fn }
}

// WithFilter sets the filter stage.
func WithFilter(f Filter) Option {
	return func(h *Handler) { h.filter = f }
}

// WithFilterFunc sets a bare function as the filter stage.
func WithFilterFunc(fn FilterFunc) Option {
	return WithFilter(fn)
}

// WithFormatter sets the formatter stage.
func WithFormatter(f Formatter) Option {
	return func(h *Handler) { h.formatter = f }
}

// WithFormatterFunc sets a bare function as the formatter stage.
func WithFormatterFunc(fn FormatterFunc) Option {
	return WithFormatter(fn)
}

// Handler executes one view and shapes its result.
type Handler struct {
	view      view.View
	filter    Filter
	formatter Formatter
}

// NewHandler creates a handler for the view mapped by mapFn.
func NewHandler(mapFn view.MapFunc, opts ...Option) *Handler {
	h := &Handler{view: view.View{Map: mapFn}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewPatternHandler creates a handler over the documents whose id matches re.
func NewPatternHandler(re *regexp.Regexp, opts ...Option) *Handler {
	return NewHandler(view.MatchKey(re), opts...)
}

// QueryFor builds the view query for a request: limit and offset paginate,
// and documents are included unless the view reduces.
func (h *Handler) QueryFor(opts *model.RequestOptions) view.QueryOptions {
	q := view.QueryOptions{IncludeDocs: h.view.Reduce == nil}
	if limit, ok := opts.IntParam(ParamLimit); ok && limit > 0 {
		q.Limit = limit
	}
	if offset, ok := opts.IntParam(ParamOffset); ok && offset > 0 {
		q.Skip = offset
	}
	return q
}

// Get runs the view against the provider's store, then the filter, then the
// formatter. Without a formatter the *model.ViewResult itself is returned.
func (h *Handler) Get(ctx context.Context, provider types.StoreProvider, opts *model.RequestOptions) (interface{}, error) {
	if opts == nil {
		opts = model.NewRequestOptions("")
	}

	res, err := provider.Store().Query(ctx, h.view, h.QueryFor(opts))
	if err != nil {
		return nil, err
	}

	if h.filter != nil {
		res, err = h.filter.Filter(res, opts)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, fmt.Errorf("filter returned no result for %q", opts.URI)
		}
		res.TotalRows = len(res.Rows)
	}

	if h.formatter != nil {
		return h.formatter.Format(res, opts)
	}
	return res, nil
}
