// Package main runs the offline data layer: the cache router, the update
// queue and the HTTP gateway in front of them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/syntrixbase/syntrix-offline/internal/cache"
	"github.com/syntrixbase/syntrix-offline/internal/config"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/pebblestore"
	"github.com/syntrixbase/syntrix-offline/internal/core/storage/types"
	"github.com/syntrixbase/syntrix-offline/internal/delivery"
	"github.com/syntrixbase/syntrix-offline/internal/gateway"
	"github.com/syntrixbase/syntrix-offline/internal/logging"
	"github.com/syntrixbase/syntrix-offline/internal/metrics"
	"github.com/syntrixbase/syntrix-offline/internal/queue"
)

func main() {
	configDir := flag.String("config", config.DefaultDir, "Configuration directory")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}

	err = run(cfg)
	if err != nil {
		slog.Error("Exiting", "error", err)
	}
	if lerr := logging.Shutdown(); lerr != nil {
		log.Printf("Failed to close log files: %v", lerr)
	}
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.NewPrometheus(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// Storage
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	factory, err := storage.NewFactory(initCtx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := factory.Close(); err != nil {
			logger.Warn("Failed to close storage", "error", err)
		}
	}()
	registerStoreCollectors(reg, map[string]types.IndexedStore{
		"cache": factory.Cache(),
		"queue": factory.Queue(),
	})

	// Read path
	router := cache.New(factory.Cache(),
		cache.WithLogger(logger),
		cache.WithVerbose(cfg.Cache.Verbose),
		cache.WithMetrics(m),
		cache.WithReplication(cfg.Replication.Options(logger, m)),
	)
	exclusions, err := cache.ParseMatchers(cfg.Cache.Exclusions)
	if err != nil {
		return err
	}
	router.Exclude(exclusions...)
	if err := router.RouteResources(cfg.Cache.Resources); err != nil {
		return err
	}
	if err := router.RouteAggregates(cfg.Cache.Aggregates); err != nil {
		return err
	}
	if cfg.Cache.Fallback.URL != "" {
		fallback, err := cache.NewHTTPFallback(cfg.Cache.Fallback, factory.Cache(), logger)
		if err != nil {
			return err
		}
		router.FallbackTo(fallback.Fetch)
	}

	// Write path
	sender, err := delivery.New(initCtx, cfg.Delivery, logger)
	if err != nil {
		return fmt.Errorf("failed to create delivery sender: %w", err)
	}
	defer func() {
		if err := sender.Close(); err != nil {
			logger.Warn("Failed to close delivery sender", "error", err)
		}
	}()
	q := queue.New(factory.Queue(), sender, cfg.Queue, queue.WithLogger(logger), queue.WithMetrics(m))
	defer q.Close()

	gw, err := gateway.New(cfg.Gateway, router, q,
		gateway.WithLogger(logger),
		gateway.WithVerbose(cfg.Cache.Verbose),
		gateway.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	)
	if err != nil {
		return err
	}

	if cfg.Replication.Enabled {
		if err := router.ReplicateFrom(ctx, factory.Upstream()); err != nil {
			return fmt.Errorf("failed to start replication: %w", err)
		}
		defer router.StopReplication()
		if err := gw.WatchReplication(); err != nil {
			return err
		}
	}

	// Flush whatever an earlier run left behind.
	var wg sync.WaitGroup
	if n, err := q.Length(ctx); err == nil && n > 0 {
		logger.Info("Pending updates from a previous run", "pending", n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.Drain(ctx); err != nil {
				logger.Warn("Startup drain failed", "error", err)
			}
		}()
	}

	logger.Info("Offline data layer started", "gateway", cfg.Gateway.Addr(), "replication", cfg.Replication.Enabled)
	err = gw.ListenAndServe(ctx)
	logger.Info("Shutting down")
	wg.Wait()
	return err
}

// registerStoreCollectors exports engine metrics for the stores backed by
// PebbleDB.
func registerStoreCollectors(reg prometheus.Registerer, stores map[string]types.IndexedStore) {
	for name, s := range stores {
		if ps, ok := s.(*pebblestore.Store); ok {
			reg.MustRegister(pebblestore.NewCollector(ps, name))
		}
	}
}
