package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nulzo/inference-gateway/cmd"
	"github.com/nulzo/inference-gateway/internal/analytics"
	"github.com/nulzo/inference-gateway/internal/backend"
	"github.com/nulzo/inference-gateway/internal/config"
	"github.com/nulzo/inference-gateway/internal/connector"
	"github.com/nulzo/inference-gateway/internal/gateway"
	"github.com/nulzo/inference-gateway/internal/platform/logger"
	"github.com/nulzo/inference-gateway/internal/platform/otel"
	"github.com/nulzo/inference-gateway/internal/registry"
	"github.com/nulzo/inference-gateway/internal/server"
	"github.com/nulzo/inference-gateway/internal/store/cache"
	"github.com/nulzo/inference-gateway/internal/store/sqlite"
	"github.com/nulzo/inference-gateway/internal/task"
	"github.com/nulzo/inference-gateway/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	// backend adapters register themselves with the factory
	_ "github.com/nulzo/inference-gateway/internal/backend/echo"
	_ "github.com/nulzo/inference-gateway/internal/backend/ollama"
	_ "github.com/nulzo/inference-gateway/internal/backend/openai"
)

const maxCachedEndpoints = 10000

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = cfg.Log.Format
	logCfg.Sampling = cfg.Server.Env == "production"
	log := logger.Initialize(logCfg)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	go cmd.WarnIfOutdated(ctx, log)

	if cfg.Tracing.Enabled {
		shutdown, err := otel.InitTracer(otel.Options{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     cmd.AppVersion,
			Environment: cfg.Server.Env,
			SampleRatio: cfg.Tracing.SampleRatio,
			Pretty:      cfg.Tracing.Pretty,
		}, log, os.Stdout)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			_ = shutdown(context.Background())
		}()
	}

	repo, err := sqlite.NewSQLiteStorage(cfg.Database.DSN, log)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		_ = repo.Close()
	}()

	endpointCache, closeCache, err := newEndpointCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	services, err := backend.Bootstrap(ctx, cfg.Services, log)
	if err != nil {
		return fmt.Errorf("failed to start backend services: %w", err)
	}

	models := registry.NewStore(repo, endpointCache, cfg.Inference.EndpointCacheTTL, log.Named("registry"))
	synced, err := models.Sync(ctx, cfg.Endpoints, services.Has)
	if err != nil {
		return fmt.Errorf("failed to sync configured endpoints: %w", err)
	}
	log.Info("inference endpoints synced", zap.Int("count", synced))

	tasks := task.NewManager(log.Named("tasks"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	telemetry.RegisterActiveStreams(reg, tasks.Len)

	ingestor := analytics.NewIngestor(log.Named("analytics"), repo, analytics.IngestorOptions{
		BufferSize: 1000,
		BatchSize:  100,
		FlushTime:  2 * time.Second,
	})
	ingestor.Start(context.WithoutCancel(ctx))
	defer ingestor.Stop()

	usage := analytics.NewService(repo)
	go analytics.RunRetention(ctx, usage, cfg.Inference.LogRetention, time.Hour, log.Named("analytics"))

	sink := telemetry.Multi{telemetry.NewPrometheusSink(reg), ingestor}

	gw := gateway.NewService(log.Named("gateway"), models, services, tasks, sink, gateway.Options{
		DefaultTimeout: cfg.Inference.DefaultTimeout,
		StreamBuffer:   cfg.Inference.StreamBuffer,
	})

	srv := server.New(cfg, log, server.Dependencies{
		Gateway:    gw,
		Endpoints:  models,
		Services:   services,
		Connectors: connector.NewService(repo.Connectors(), cfg.Inference.MaxPageSize),
		Analytics:  usage,
		Gatherer:   reg,
		LogLevel:   logger.Level(),
	})

	return srv.Run(ctx)
}

// newEndpointCache picks Redis when enabled and falls back to process memory otherwise.
func newEndpointCache(ctx context.Context, cfg *config.Config, log *zap.Logger) (cache.CacheService, func(), error) {
	if !cfg.Redis.Enabled {
		log.Info("using in-memory endpoint cache")
		return cache.NewMemoryCache(cache.WithMaxEntries(maxCachedEndpoints)), func() {}, nil
	}

	rc, err := cache.NewRedisCache(ctx, cache.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   "inference-gateway:",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	log.Info("using redis endpoint cache", zap.String("addr", cfg.Redis.Addr))
	return rc, func() { _ = rc.Close() }, nil
}
