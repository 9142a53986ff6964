// Package worker renders queued exports into the export bucket.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/imagehandler/internal/config"
	"github.com/dunamismax/imagehandler/internal/domain"
	"github.com/dunamismax/imagehandler/internal/pipeline"
	"github.com/dunamismax/imagehandler/internal/queue"
	"github.com/dunamismax/imagehandler/internal/store"
	"github.com/dunamismax/imagehandler/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Transformer interface {
	ProcessImage(ctx context.Context, req *pipeline.Request) ([]byte, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Deps struct {
	Engine     Transformer
	Storage    pipeline.ObjectWriter
	Webhooks   *webhook.Client
	Transforms store.TransformStore
	Registry   *prometheus.Registry
}

type Server struct {
	logger        *zap.Logger
	server        *asynq.Server
	engine        Transformer
	emitter       pipeline.ExportEmitter
	webhookClient webhookSender
	webhookURL    string
	transforms    store.TransformStore
	metrics       *metrics
	tracer        trace.Tracer
}

func NewServer(
	logger *zap.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	exportCfg config.ExportConfig,
	deps Deps,
) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("transform engine is required")
	}
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if !exportCfg.Enabled() {
		return nil, fmt.Errorf("export bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Transforms == nil {
		deps.Transforms = store.NewMemoryTransformStore()
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Warn("task failed",
						zap.String("type", task.Type()),
						zap.Int("retry", retried),
						zap.Int("max_retry", maxRetry),
						zap.Error(err),
					)
				}),
			},
		),
		engine:     deps.Engine,
		emitter:    pipeline.ExportEmitter{Storage: deps.Storage, Bucket: exportCfg.Bucket},
		webhookURL: exportCfg.WebhookURL,
		transforms: deps.Transforms,
		metrics:    newMetrics(registry),
		tracer:     otel.Tracer("imagehandler/worker"),
	}
	if deps.Webhooks != nil {
		s.webhookClient = deps.Webhooks
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeExportImage, s.handleExportImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleExportImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.TransformStatusFailed

	payload, err := queue.ParseExportImagePayload(task)
	if err != nil {
		s.metrics.exportsTotal.WithLabelValues(outcome).Inc()
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.export_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("export.id", payload.ExportID),
		attribute.String("image.bucket", payload.Bucket),
		attribute.String("image.key", payload.Key),
		attribute.String("image.edits", payload.Edits),
	)
	defer span.End()
	defer func() {
		s.metrics.exportDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.exportsTotal.WithLabelValues(outcome).Inc()
	}()

	s.metrics.activeExports.Inc()
	defer s.metrics.activeExports.Dec()

	s.logger.Info("exporting image",
		zap.String("export_id", payload.ExportID),
		zap.String("bucket", payload.Bucket),
		zap.String("key", payload.Key),
		zap.String("edits", payload.Edits),
	)

	out, req, err := s.export(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.CodeOf(err))

		retryable := errors.Is(err, domain.ErrInternal) && !finalAttempt(ctx)
		if retryable {
			return fmt.Errorf("export %s: %w", payload.ExportID, err)
		}

		s.recordExport(ctx, payload, startedAt, req, pipeline.Output{}, err)
		s.dispatchWebhook(ctx, webhook.EventExportFailed, s.exportEvent(payload, pipeline.Output{}, err))
		if errors.Is(err, domain.ErrInternal) {
			return fmt.Errorf("export %s: %w", payload.ExportID, err)
		}
		return fmt.Errorf("export %s: %v: %w", payload.ExportID, err, asynq.SkipRetry)
	}

	outcome = domain.TransformStatusSucceeded
	s.metrics.exportBytesTotal.Add(float64(out.Bytes))
	s.recordExport(ctx, payload, startedAt, req, out, nil)
	s.dispatchWebhook(ctx, webhook.EventExported, s.exportEvent(payload, out, nil))

	s.logger.Info("exported image",
		zap.String("export_id", payload.ExportID),
		zap.String("location", out.Bucket+"/"+out.Key),
		zap.Int("bytes", out.Bytes),
	)
	span.SetStatus(codes.Ok, "exported")
	return nil
}

// export renders the payload and writes it to the export bucket. Store write
// failures are classified as internal so they are retried.
func (s *Server) export(ctx context.Context, payload queue.ExportImagePayload) (pipeline.Output, *pipeline.Request, error) {
	req, err := pipeline.RequestFromExport(payload.ExportRequest)
	if err != nil {
		return pipeline.Output{}, nil, err
	}

	data, err := s.engine.ProcessImage(ctx, req)
	if err != nil {
		return pipeline.Output{}, req, err
	}

	out, err := s.emitter.Emit(ctx, payload.ExportRequest, req, data)
	if err != nil {
		return pipeline.Output{}, req, domain.AsInternal("ExportWriteError", err)
	}
	return out, req, nil
}

func (s *Server) recordExport(ctx context.Context, payload queue.ExportImagePayload, startedAt time.Time, req *pipeline.Request, out pipeline.Output, err error) {
	rec := domain.TransformRecord{
		ID:           payload.ExportID,
		Origin:       domain.OriginExport,
		Bucket:       payload.Bucket,
		Key:          payload.Key,
		Edits:        payload.Edits,
		OutputFormat: strings.ToLower(payload.Format),
		ContentType:  out.ContentType,
		OutputBytes:  out.Bytes,
		DurationMS:   time.Since(startedAt).Milliseconds(),
		Status:       domain.TransformStatusSucceeded,
		CreatedAt:    payload.RequestedAt,
	}
	if req != nil {
		rec.SourceBytes = len(req.OriginalImage)
	}
	if err != nil {
		rec.Status = domain.TransformStatusFailed
		rec.Error = domain.CodeOf(err)
	}

	if err := s.transforms.Record(ctx, rec); err != nil {
		s.logger.Warn("record export failed", zap.String("export_id", payload.ExportID), zap.Error(err))
	}
}

func (s *Server) exportEvent(payload queue.ExportImagePayload, out pipeline.Output, err error) webhook.ExportEvent {
	event := webhook.ExportEvent{
		ExportID:    payload.ExportID,
		Bucket:      payload.Bucket,
		Key:         payload.Key,
		Edits:       payload.Edits,
		RequestedAt: payload.RequestedAt,
		FinishedAt:  time.Now().UTC(),
	}
	if err != nil {
		event.Error = domain.MessageOf(err)
		return event
	}
	event.Location = out.Bucket + "/" + out.Key
	event.ContentType = out.ContentType
	event.Bytes = out.Bytes
	return event
}

// dispatchWebhook delivers event when a webhook is configured. Delivery
// failures are logged and never fail the export.
func (s *Server) dispatchWebhook(ctx context.Context, event string, body webhook.ExportEvent) {
	if s.webhookURL == "" || s.webhookClient == nil {
		return
	}

	if err := s.webhookClient.Send(ctx, s.webhookURL, event, body); err != nil {
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		s.logger.Warn("webhook delivery failed",
			zap.String("export_id", body.ExportID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

// finalAttempt reports whether asynq will not retry the running task again.
// Outside asynq every attempt is final.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
