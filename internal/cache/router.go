// Package cache resolves read requests against the local store.
//
// A Router checks exclusions first, then registered routes in
// registration order, then falls back to a direct store lookup by URI. Only
// exclusions and default-path misses consult the fallback; a matched
// route's result or failure is returned as-is.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/syntrixbase/syntrix-offline/internal/core/storage/types"
	"github.com/syntrixbase/syntrix-offline/internal/metrics"
	"github.com/syntrixbase/syntrix-offline/internal/replication"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// Handler serves a routed request.
type Handler interface {
	Get(ctx context.Context, provider types.StoreProvider, opts *model.RequestOptions) (interface{}, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, provider types.StoreProvider, opts *model.RequestOptions) (interface{}, error)

func (f HandlerFunc) Get(ctx context.Context, provider types.StoreProvider, opts *model.RequestOptions) (interface{}, error) {
	return f(ctx, provider, opts)
}

// FallbackFunc resolves excluded URIs and default-path misses.
type FallbackFunc func(ctx context.Context, uri string, opts *model.RequestOptions) (interface{}, error)

type route struct {
	matcher Matcher
	handler Handler
}

// Option configures a Router.
type Option func(*Router)

// WithVerbose logs every lookup at Info instead of Debug.
func WithVerbose(verbose bool) Option {
	return func(r *Router) { r.verbose = verbose }
}

// WithLogger sets the router logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithReplication sets the options used by ReplicateFrom.
func WithReplication(opts replication.Options) Option {
	return func(r *Router) { r.replOpts = opts }
}

// Router dispatches read requests by URI.
type Router struct {
	store    types.IndexedStore
	verbose  bool
	logger   *slog.Logger
	metrics  metrics.Metrics
	replOpts replication.Options

	mu          sync.RWMutex
	routes      []route
	exclusions  []Matcher
	fallback    FallbackFunc
	replication *replication.Handle
}

var _ types.StoreProvider = (*Router)(nil)

// New creates a router over store.
func New(store types.IndexedStore, opts ...Option) *Router {
	r := &Router{store: store}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "cache")
	if r.metrics == nil {
		r.metrics = &metrics.NoopMetrics{}
	}
	return r
}

// Store returns the local store.
func (r *Router) Store() types.IndexedStore {
	return r.store
}

// Route registers handler for URIs accepted by matcher.
// Routes are tried in registration order and the first match wins.
func (r *Router) Route(matcher Matcher, handler Handler) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{matcher: matcher, handler: handler})
	return r
}

// RouteFunc registers a bare function as a route handler.
func (r *Router) RouteFunc(matcher Matcher, fn HandlerFunc) *Router {
	return r.Route(matcher, fn)
}

// Exclude sets the matchers whose URIs always go to the fallback,
// replacing any earlier exclusions. Exclude() clears them.
func (r *Router) Exclude(matchers ...Matcher) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exclusions = append([]Matcher(nil), matchers...)
	return r
}

// FallbackTo sets the fallback function, replacing any previous one.
func (r *Router) FallbackTo(fn FallbackFunc) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = fn
	return r
}

// IsExcluded reports whether uri matches any exclusion.
func (r *Router) IsExcluded(uri string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isExcludedLocked(uri)
}

func (r *Router) isExcludedLocked(uri string) bool {
	for _, m := range r.exclusions {
		if m.Match(uri) {
			return true
		}
	}
	return false
}

// Get resolves uri. opts may be nil.
func (r *Router) Get(ctx context.Context, uri string, opts *model.RequestOptions) (interface{}, error) {
	if opts == nil {
		opts = model.NewRequestOptions(uri)
	}
	if opts.URI == "" {
		opts.URI = uri
	}

	r.mu.RLock()
	excluded := r.isExcludedLocked(uri)
	fallback := r.fallback
	var handler Handler
	if !excluded {
		for _, rt := range r.routes {
			if rt.matcher.Match(uri) {
				handler = rt.handler
				break
			}
		}
	}
	r.mu.RUnlock()

	switch {
	case excluded:
		if fallback == nil {
			return r.done(uri, metrics.LookupExcluded, nil, model.NewLookupError(uri, nil))
		}
		res, err := fallback(ctx, uri, opts)
		return r.done(uri, metrics.LookupExcluded, res, err)

	case handler != nil:
		res, err := handler.Get(ctx, r, opts)
		return r.done(uri, metrics.LookupRoute, res, err)
	}

	doc, err := r.store.Get(ctx, uri)
	if err == nil {
		return r.done(uri, metrics.LookupHit, doc.Payload, nil)
	}
	if !errors.Is(err, model.ErrNotFound) {
		return r.done(uri, metrics.LookupError, nil, err)
	}
	if fallback == nil {
		return r.done(uri, metrics.LookupMiss, nil, model.NewLookupError(uri, err))
	}
	res, err := fallback(ctx, uri, opts)
	return r.done(uri, metrics.LookupFallback, res, err)
}

func (r *Router) done(uri, result string, res interface{}, err error) (interface{}, error) {
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			r.metrics.IncLookup(metrics.LookupMiss)
		} else {
			r.metrics.IncLookup(metrics.LookupError)
		}
		if r.verbose {
			r.logger.Warn("Cache lookup failed", "uri", uri, "path", result, "error", err)
		} else {
			r.logger.Debug("Cache lookup failed", "uri", uri, "path", result, "error", err)
		}
		return nil, err
	}
	r.metrics.IncLookup(result)
	if r.verbose {
		r.logger.Info("Cache lookup", "uri", uri, "path", result)
	} else {
		r.logger.Debug("Cache lookup", "uri", uri, "path", result)
	}
	return res, nil
}
