// Package gateway exposes the cache router and the update queue over HTTP:
// cached reads, queue pushes and drains, replication events over a
// websocket, health and Prometheus metrics.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/schema"
	"github.com/syntrixbase/syntrix-offline/internal/cache"
	"github.com/syntrixbase/syntrix-offline/internal/queue"
)

// Server routes HTTP requests to the router and the queue.
type Server struct {
	cfg     Config
	router  *cache.Router
	queue   *queue.Queue
	events  *eventHub
	metrics http.Handler
	logger  *slog.Logger
	verbose bool
	decoder *schema.Decoder

	// ctx outlives requests; scheduled drains run on it.
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards closed; wg tracks scheduled drains.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the gateway logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetricsHandler serves h at Config.MetricsPath.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithVerbose logs every request at Info.
func WithVerbose(verbose bool) Option {
	return func(s *Server) { s.verbose = verbose }
}

// New creates a gateway. Neither router nor q may be nil.
func New(cfg Config, router *cache.Router, q *queue.Queue, opts ...Option) (*Server, error) {
	if router == nil || q == nil {
		return nil, errors.New("gateway requires a router and a queue")
	}
	cfg.ApplyDefaults()

	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		router:  router,
		queue:   q,
		decoder: decoder,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "gateway")
	s.events = newEventHub(s.logger, s.originAllowed)
	return s, nil
}

// WatchReplication forwards the lifecycle events of the router's active
// replication to websocket clients. Call it after every ReplicateFrom.
func (s *Server) WatchReplication() error {
	return s.events.watch(s.router)
}

// RegisterRoutes registers every gateway route on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	timeout := s.cfg.RequestTimeout

	mux.HandleFunc("GET /v1/cache/{uri...}", withTimeout(s.handleCacheGet, timeout))

	mux.HandleFunc("POST /v1/queue", withTimeout(maxBodySize(s.handlePush, s.cfg.MaxBodySize), timeout))
	mux.HandleFunc("GET /v1/queue", withTimeout(s.handleUpdates, timeout))
	mux.HandleFunc("GET /v1/queue/length", withTimeout(s.handleLength, timeout))
	mux.HandleFunc("POST /v1/queue/drain", withTimeout(s.handleDrain, timeout))

	mux.HandleFunc("GET /v1/replication/events", s.handleReplicationEvents)

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil && s.cfg.MetricsPath != "" {
		mux.Handle("GET "+s.cfg.MetricsPath, s.metrics)
	}
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return Chain(mux,
		s.recoveryMiddleware,
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.securityHeadersMiddleware,
		s.corsMiddleware,
	)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP gateway", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.Close()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown failed: %w", err)
	}
	s.logger.Info("HTTP gateway stopped")
	return nil
}

// Close disconnects websocket clients, cancels scheduled drains and waits
// for them to return.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.events.close()
	s.wg.Wait()
}

// goBackground runs fn in a goroutine that Close waits for. It reports false
// without running fn once the server is closed.
func (s *Server) goBackground(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}
