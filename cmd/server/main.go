// Package main is the entry point for the activity gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cdeskio/activity-gateway/internal/breaker"
	"github.com/cdeskio/activity-gateway/internal/cache"
	"github.com/cdeskio/activity-gateway/internal/config"
	"github.com/cdeskio/activity-gateway/internal/dispatcher"
	"github.com/cdeskio/activity-gateway/internal/health"
	"github.com/cdeskio/activity-gateway/internal/ingest"
	"github.com/cdeskio/activity-gateway/internal/logging"
	"github.com/cdeskio/activity-gateway/internal/metrics"
	"github.com/cdeskio/activity-gateway/internal/pool"
	"github.com/cdeskio/activity-gateway/internal/realtime"
	"github.com/cdeskio/activity-gateway/internal/registry"
	"github.com/cdeskio/activity-gateway/internal/tag"
	"github.com/cdeskio/activity-gateway/internal/ticket"
	"github.com/cdeskio/activity-gateway/internal/vault"
	"github.com/cdeskio/activity-gateway/internal/warehouse/pgxconn"
	"github.com/cdeskio/activity-gateway/internal/warmer"
	"github.com/cdeskio/activity-gateway/internal/wsstream"
)

const (
	serviceName    = "activity-gateway"
	serviceVersion = "1.0.0"
)

func main() {
	var showVersion = flag.Bool("version", false, "Show version information")
	var showHelp = flag.Bool("help", false, "Show help information")
	var configPath = flag.String("config", "", "Path to a YAML configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		os.Exit(0)
	}

	if *showHelp {
		fmt.Printf("%s - activity telemetry gateway for cdesk\n\n", serviceName)
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		fmt.Printf("  -config     Path to a YAML configuration file\n")
		fmt.Printf("  -version    Show version information\n")
		fmt.Printf("  -help       Show this help message\n")
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal startup error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	breakers := breaker.NewRegistry(cfg.Breaker, logger, 64)
	v := vault.New(cfg.Accounts, breakers)

	factory := &pgxconn.Factory{}
	pools := pool.New(cfg.Pool, factory, v, breakers, logger)
	if err := pools.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing connection pools: %w", err)
	}

	reg, err := registry.New(registry.BuildDefaultTemplates(registry.DefaultTableNames()))
	if err != nil {
		return fmt.Errorf("building template registry: %w", err)
	}

	tags, err := tag.New()
	if err != nil {
		return fmt.Errorf("building correlation tag generator: %w", err)
	}

	log, err := ingest.Open(cfg.Ingest, logger)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer log.Close()

	cacheMetrics := cache.NewMetrics(cfg.Metrics.Namespace)
	ctxCache, err := cache.New(cfg.Cache, logger, cacheMetrics)
	if err != nil {
		return fmt.Errorf("building context cache: %w", err)
	}
	defer ctxCache.Close()

	realtimeMetrics := realtime.NewRealtimeMetrics(cfg.Metrics.Namespace)
	eventBus := realtime.NewEventBus(logger, realtimeMetrics)
	publisher := realtime.NewEventPublisher(eventBus, logger, realtimeMetrics)
	if err := eventBus.Start(ctx); err != nil {
		return fmt.Errorf("starting event bus: %w", err)
	}
	defer eventBus.Stop(context.Background())

	stream := wsstream.New(eventBus, logger)

	tickets := ticket.New(cfg.Ticket, pools, reg, tags, publisher, logger)
	tickets.Start()
	defer tickets.Close()

	m := metrics.New(cfg.Metrics.Namespace, dispatcher.ToolNames, cfg.Metrics.RollupInterval, logger)
	m.Start()
	defer m.Close()

	disp := dispatcher.New(dispatcher.Config{}, log, ctxCache, pools, reg, tickets, tags, m, logger)

	monitor := health.New(health.DefaultConfig(), v, breakers, pools, publisher, logger)
	monitor.Start(ctx)
	defer monitor.Close()

	warmerCtx, cancelWarmer := context.WithCancel(ctx)
	defer cancelWarmer()
	hotKeys := warmer.New(warmer.DefaultConfig(), ctxCache, tickets, "read_context", logger)
	go hotKeys.Start(warmerCtx)
	defer hotKeys.Stop()

	router := disp.Router(monitor, pools, stream)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sanitized := config.NewDefaultSanitizer().Sanitize(cfg)
	logger.Info("activity gateway starting",
		"service", serviceName,
		"version", serviceVersion,
		"addr", server.Addr,
		"accounts", len(sanitized.Accounts),
		"ingest_dir", sanitized.Ingest.Dir,
		"cache_max_entries", sanitized.Cache.MaxEntries,
		"pool_min_size", sanitized.Pool.MinSize,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-quit:
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	if err := pools.Close(); err != nil {
		logger.Warn("error closing connection pools", "error", err)
	}

	logger.Info("activity gateway stopped")
	return nil
}
