// Package main is the entry point for the reputation engine.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/peerhelp/reputation/internal/cache"
	"github.com/peerhelp/reputation/internal/config"
	"github.com/peerhelp/reputation/internal/engine"
	"github.com/peerhelp/reputation/internal/eventstream"
	"github.com/peerhelp/reputation/internal/health"
	"github.com/peerhelp/reputation/internal/ledger"
	"github.com/peerhelp/reputation/internal/middleware"
	"github.com/peerhelp/reputation/internal/tracing"
	"github.com/peerhelp/reputation/internal/trust"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Reputation Engine")
		fmt.Println()
		fmt.Println("Usage: engine [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	logger.Info("configuration loaded", "config", cfg.LogSummary())

	tracer, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "reputation-engine",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingOTLPEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("failed to close database", "error", err)
		}
	}()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	checkers := map[string]health.Checker{
		"postgres": health.NewDBChecker(db),
	}

	// The snapshot cache is optional; without Redis, reads fall through to
	// postgres.
	var snapshots trust.SnapshotPublisher
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid redis URL", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(opts)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed to close redis client", "error", err)
			}
		}()
		snapshots = cache.NewSnapshotCache(redisClient, cfg.SnapshotTTL)
		checkers["redis"] = health.NewRedisChecker(redisClient)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	trustMetrics := trust.NewMetrics()
	if err := trustMetrics.Register(registry); err != nil {
		logger.Error("failed to register trust metrics", "error", err)
		os.Exit(1)
	}
	engineMetrics := engine.NewMetrics()
	if err := engineMetrics.Register(registry); err != nil {
		logger.Error("failed to register engine metrics", "error", err)
		os.Exit(1)
	}

	policy := trust.DefaultPolicy()
	usage := ledger.NewPostgresStore(db, logger)
	users := trust.NewPostgresStore(db, logger)
	calc := trust.NewCalculator(policy, users, usage, snapshots, logger, trustMetrics)
	eng := engine.New(policy, usage, users, calc, logger, engineMetrics)

	dispatcher := eventstream.NewDispatcher(eng, logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	streamClient, err := eventstream.NewClient(
		eventstream.DefaultConfig(cfg.StreamURL),
		dispatcher.Handler(rootCtx),
		logger,
	)
	if err != nil {
		logger.Error("failed to create stream client", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/health", health.NewHandler(checkers, 5*time.Second))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	var handler http.Handler = middleware.RequestID(middleware.Logging(logger)(mux))
	if cfg.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	// Run the stream client until shutdown
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		if err := streamClient.Run(rootCtx); err != nil && rootCtx.Err() == nil {
			logger.Error("stream client stopped", "error", err)
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	<-streamDone

	if err := tracer.Shutdown(ctx); err != nil {
		logger.Warn("tracer shutdown failed", "error", err)
	}

	logger.Info("engine stopped")
}
