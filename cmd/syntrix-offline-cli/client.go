package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// client talks to a running gateway.
type client struct {
	base *url.URL
	http *http.Client
}

func newClient(addr string, timeout time.Duration) (*client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway address %q: %w", addr, err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("invalid gateway address %q: missing host", addr)
	}
	return &client{base: base, http: &http.Client{Timeout: timeout}}, nil
}

// apiError mirrors the gateway's error body.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway returned %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (c *client) do(ctx context.Context, method, path string, query url.Values, body []byte) (json.RawMessage, error) {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query.Encode()

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return nil, apiErr
	}
	return raw, nil
}

// Get reads uri through the cache router. args are key=value pairs; a key
// given twice becomes a list.
func (c *client) Get(ctx context.Context, uri string, args []string) (json.RawMessage, error) {
	query := url.Values{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		query.Add(key, value)
	}
	return c.do(ctx, http.MethodGet, "/v1/cache/"+strings.TrimPrefix(uri, "/"), query, nil)
}

// Push queues a JSON update.
func (c *client) Push(ctx context.Context, update string) (json.RawMessage, error) {
	if !json.Valid([]byte(update)) {
		return nil, fmt.Errorf("update must be JSON")
	}
	return c.do(ctx, http.MethodPost, "/v1/queue", nil, []byte(update))
}

// Drain drains the queue now, or schedules a drain when delay is set.
func (c *client) Drain(ctx context.Context, delay string) (json.RawMessage, error) {
	query := url.Values{}
	if delay != "" {
		query.Set("delay", delay)
	}
	return c.do(ctx, http.MethodPost, "/v1/queue/drain", query, nil)
}

func (c *client) Length(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/queue/length", nil, nil)
}

func (c *client) Updates(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/queue", nil, nil)
}

func (c *client) Health(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}
