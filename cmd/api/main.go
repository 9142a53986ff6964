package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/imagehandler/internal/api"
	"github.com/dunamismax/imagehandler/internal/config"
	"github.com/dunamismax/imagehandler/internal/pipeline"
	"github.com/dunamismax/imagehandler/internal/queue"
	"github.com/dunamismax/imagehandler/internal/ratelimit"
	"github.com/dunamismax/imagehandler/internal/storage"
	"github.com/dunamismax/imagehandler/internal/store"
	"github.com/dunamismax/imagehandler/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger, err := config.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("component", "api"))

	for _, warning := range cfg.Warnings() {
		logger.Warn(warning)
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName + "-api",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatal("setup tracing", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	if err := pipeline.Startup(); err != nil {
		logger.Fatal("start codec runtime", zap.Error(err))
	}
	defer pipeline.Shutdown()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Region:   cfg.Storage.Region,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatal("create storage client", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, err := pipeline.NewEngine(storageClient, pipeline.Config{
		MaxConcurrency: cfg.Transform.MaxConcurrency,
		Timeout:        cfg.Transform.Timeout,
	}, logger, pipeline.NewMetrics(registry))
	if err != nil {
		logger.Fatal("create transform engine", zap.Error(err))
	}

	transforms, closeStore, err := store.Open(ctx, cfg.Database.DSN, cfg.Database.MemoryRecords)
	if err != nil {
		logger.Fatal("open transform store", zap.Error(err))
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("transform store close failed", zap.Error(err))
		}
	}()

	opts := api.Options{
		StrictClientErrors: cfg.API.StrictClientErrors,
		CORSOrigins:        cfg.API.CORSOrigins,
		Registry:           registry,
	}

	if cfg.Export.Enabled() {
		queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Warn("queue client close failed", zap.Error(err))
			}
		}()
		opts.Exports = queueClient
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer func() { _ = redisClient.Close() }()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.Fatal("create rate limiter", zap.Error(err))
		}
		opts.RateLimiter = limiter
		opts.RateLimitCosts = ratelimit.Costs{
			PassThrough: cfg.RateLimit.PassThroughCost,
			Transform:   cfg.RateLimit.TransformCost,
			Export:      cfg.RateLimit.ExportCost,
		}
	}

	app := api.NewServer(logger, engine, transforms, opts)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Transform.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.API.Addr),
			zap.String("codec", pipeline.Backend()),
			zap.Bool("exports", cfg.Export.Enabled()),
			zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
