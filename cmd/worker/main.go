package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/imagehandler/internal/config"
	"github.com/dunamismax/imagehandler/internal/pipeline"
	"github.com/dunamismax/imagehandler/internal/storage"
	"github.com/dunamismax/imagehandler/internal/store"
	"github.com/dunamismax/imagehandler/internal/telemetry"
	"github.com/dunamismax/imagehandler/internal/webhook"
	"github.com/dunamismax/imagehandler/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger, err := config.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("component", "worker"))

	for _, warning := range cfg.Warnings() {
		logger.Warn(warning)
	}

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName + "-worker",
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

	if cfg.Export.Enabled() {
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := storageClient.EnsureBucket(bucketCtx, cfg.Export.Bucket)
		cancel()
		if err != nil {
			logger.Fatal("ensure export bucket", zap.String("bucket", cfg.Export.Bucket), zap.Error(err))
		}
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

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	}, logger)

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, cfg.Export, worker.Deps{
		Engine:     engine,
		Storage:    storageClient,
		Webhooks:   webhookClient,
		Transforms: transforms,
		Registry:   registry,
	})
	if err != nil {
		logger.Fatal("create worker", zap.Error(err))
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting worker",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.String("queue", cfg.Queue.Name),
		zap.String("redis", cfg.Queue.RedisAddr),
		zap.String("export_bucket", cfg.Export.Bucket),
		zap.String("codec", pipeline.Backend()),
	)

	// Run blocks until SIGINT/SIGTERM and drains in-flight tasks.
	if err := srv.Run(); err != nil {
		logger.Error("worker failed", zap.Error(err))
	}
}
