package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/syntrixbase/syntrix-offline/internal/core/storage/types"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

const maxFallbackBody = 10 << 20

// HTTPFallback fetches cache misses from an origin server: the request URI is
// resolved against the base URL and the option data becomes the query string.
type HTTPFallback struct {
	client *http.Client
	base   *url.URL
	// store receives fetched resources when write-through is enabled.
	store  types.IndexedStore
	logger *slog.Logger
}

// NewHTTPFallback creates a fallback for cfg. store may be nil, which
// disables write-through regardless of cfg.
func NewHTTPFallback(cfg FallbackConfig, store types.IndexedStore, logger *slog.Logger) (*HTTPFallback, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid fallback url %q", cfg.URL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &HTTPFallback{
		client: &http.Client{Timeout: cfg.Timeout},
		base:   base,
		logger: logger.With("component", "fallback"),
	}
	if cfg.WriteThrough {
		f.store = store
	}
	return f, nil
}

// Fetch is a FallbackFunc.
func (f *HTTPFallback) Fetch(ctx context.Context, uri string, opts *model.RequestOptions) (interface{}, error) {
	target := f.resolve(uri, opts)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, model.WrapError(fmt.Errorf("fallback request for %q failed: %w", uri, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFallbackBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, model.NewLookupError(uri, errors.New("origin returned 404"))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("fallback for %q returned status %d", uri, resp.StatusCode)
	}

	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("fallback for %q returned invalid JSON: %w", uri, err)
	}

	if f.store != nil {
		f.writeThrough(ctx, uri, payload)
	}
	return payload, nil
}

func (f *HTTPFallback) writeThrough(ctx context.Context, uri string, payload interface{}) {
	doc := &model.Document{ID: uri, Payload: payload}
	if existing, err := f.store.Get(ctx, uri); err == nil {
		doc.Rev = existing.Rev
	}
	res, err := f.store.Put(ctx, doc)
	if err == nil && !res.OK {
		err = &model.ValidationError{Op: "cache fallback result", ID: uri}
	}
	if err != nil {
		f.logger.Warn("Failed to cache fallback result", "uri", uri, "error", err)
	}
}

func (f *HTTPFallback) resolve(uri string, opts *model.RequestOptions) string {
	u := *f.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(uri, "/")
	q := u.Query()
	if opts != nil {
		for k, v := range opts.Data {
			q.Set(k, fmt.Sprint(v))
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
