// Package api is the HTTP surface of the image handler.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/imagehandler/internal/domain"
	"github.com/dunamismax/imagehandler/internal/id"
	"github.com/dunamismax/imagehandler/internal/pipeline"
	"github.com/dunamismax/imagehandler/internal/queue"
	"github.com/dunamismax/imagehandler/internal/ratelimit"
	"github.com/dunamismax/imagehandler/internal/store"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Transformer runs one image request end to end.
type Transformer interface {
	ProcessImage(ctx context.Context, req *pipeline.Request) ([]byte, error)
}

type ExportEnqueuer interface {
	EnqueueExportImage(ctx context.Context, payload queue.ExportImagePayload) (*asynq.TaskInfo, error)
}

type Options struct {
	StrictClientErrors bool
	CORSOrigins        []string
	// Registry receives the API collectors and is served on /metrics.
	Registry    *prometheus.Registry
	RateLimiter RateLimiter
	// RateLimitCosts prices requests for RateLimiter. Zero uses
	// ratelimit.DefaultCosts.
	RateLimitCosts ratelimit.Costs
	// Exports enables ?export=true. Nil disables it.
	Exports ExportEnqueuer
}

type Server struct {
	logger       *zap.Logger
	engine       Transformer
	transforms   store.TransformStore
	exports      ExportEnqueuer
	rateLimiter  RateLimiter
	costs        ratelimit.Costs
	strictErrors bool
	corsOrigins  []string
	metrics      *metrics
	tracer       trace.Tracer
	router       *gin.Engine
}

type errorBody struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewServer(logger *zap.Logger, engine Transformer, transforms store.TransformStore, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if transforms == nil {
		transforms = store.NewMemoryTransformStore()
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if opts.RateLimitCosts == (ratelimit.Costs{}) {
		opts.RateLimitCosts = ratelimit.DefaultCosts
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		logger:       logger,
		engine:       engine,
		transforms:   transforms,
		exports:      opts.Exports,
		rateLimiter:  opts.RateLimiter,
		costs:        opts.RateLimitCosts,
		strictErrors: opts.StrictClientErrors,
		corsOrigins:  origins,
		metrics:      newMetrics(registry),
		tracer:       otel.Tracer("imagehandler/api"),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	router := gin.New()
	router.Use(
		s.requestLogger(),
		s.recovery(),
		cors.New(cors.Config{
			AllowOrigins:  s.corsOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodHead, http.MethodOptions},
			AllowHeaders:  []string{"Origin", "Accept", "Content-Type"},
			ExposeHeaders: []string{"Content-Length", "Content-Type", "X-Export-Id"},
			MaxAge:        12 * time.Hour,
		}),
		securityHeaders(),
		s.tracing(),
		s.metrics.httpMetrics(),
	)

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "App working!")
	})
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	router.GET("/metrics", gin.WrapH(s.metrics.metricsHandler()))
	router.GET("/image/:bucket/:edits/:key", s.rateLimit(), s.handleImage)
	router.GET("/exports/:id", s.handleGetExport)

	s.router = router
}

func (s *Server) handleImage(c *gin.Context) {
	startedAt := time.Now()
	bucket, editsToken, key := c.Param("bucket"), c.Param("edits"), c.Param("key")
	opts := pipeline.RequestOptions{
		Format: c.Query("format"),
		Effort: c.Query("effort"),
		Fit:    c.Query("fit"),
		Ratio:  c.Query("ratio"),
	}

	record := domain.TransformRecord{
		ID:           id.New(),
		Origin:       domain.OriginHTTP,
		Bucket:       bucket,
		Key:          key,
		Edits:        editsToken,
		OutputFormat: strings.ToLower(opts.Format),
	}

	req, err := pipeline.NewRequest(bucket, editsToken, key, opts)
	if err != nil {
		s.recordTransform(c.Request.Context(), record, startedAt, nil, "", err)
		s.writeError(c, err)
		return
	}

	data, err := s.engine.ProcessImage(c.Request.Context(), req)
	if err != nil {
		s.recordTransform(c.Request.Context(), record, startedAt, req, "", err)
		s.writeError(c, err)
		return
	}

	contentType, err := req.ResponseContentType(data)
	if err != nil {
		s.recordTransform(c.Request.Context(), record, startedAt, req, "", err)
		s.writeError(c, err)
		return
	}
	record.OutputBytes = len(data)
	s.recordTransform(c.Request.Context(), record, startedAt, req, contentType, nil)

	if exportRequested(c) {
		if exportID, ok := s.enqueueExport(c.Request.Context(), bucket, editsToken, key, opts); ok {
			c.Header("X-Export-Id", exportID)
		}
	}

	setMetadataHeaders(c, req)
	c.Data(http.StatusOK, contentType, data)
}

func (s *Server) handleGetExport(c *gin.Context) {
	exportID := c.Param("id")
	if !id.Valid(exportID) {
		s.writeStatus(c, http.StatusNotFound, "NotFound", "export not found")
		return
	}

	rec, ok, err := s.transforms.Get(c.Request.Context(), exportID)
	if err != nil {
		s.logger.Error("load export record failed", zap.String("export_id", exportID), zap.Error(err))
		s.writeStatus(c, http.StatusInternalServerError, "InternalError", "failed to load export")
		return
	}
	if !ok || rec.Origin != domain.OriginExport {
		s.writeStatus(c, http.StatusNotFound, "NotFound", "export not found")
		return
	}

	c.JSON(http.StatusOK, exportResponse(rec))
}

func (s *Server) enqueueExport(ctx context.Context, bucket, editsToken, key string, opts pipeline.RequestOptions) (string, bool) {
	if s.exports == nil {
		return "", false
	}

	payload := queue.ExportImagePayload{
		ExportRequest: domain.ExportRequest{
			ExportID: id.New(),
			Bucket:   bucket,
			Key:      key,
			Edits:    editsToken,
			Format:   opts.Format,
			Effort:   opts.Effort,
			Fit:      opts.Fit,
			Ratio:    opts.Ratio,
		},
		RequestedAt: time.Now().UTC(),
	}

	rec := domain.TransformRecord{
		ID:           payload.ExportID,
		Origin:       domain.OriginExport,
		Bucket:       bucket,
		Key:          key,
		Edits:        editsToken,
		OutputFormat: strings.ToLower(opts.Format),
		Status:       domain.TransformStatusQueued,
		CreatedAt:    payload.RequestedAt,
	}
	// Must precede the enqueue: the worker's record replaces this one.
	if err := s.transforms.Record(ctx, rec); err != nil {
		s.logger.Warn("record queued export failed", zap.String("export_id", payload.ExportID), zap.Error(err))
	}

	if _, err := s.exports.EnqueueExportImage(ctx, payload); err != nil {
		s.metrics.exportsEnqueued.WithLabelValues("error").Inc()
		s.logger.Error("enqueue export failed",
			zap.String("export_id", payload.ExportID),
			zap.String("bucket", bucket),
			zap.String("key", key),
			zap.Error(err),
		)
		rec.Status = domain.TransformStatusFailed
		rec.Error = "EnqueueError"
		if err := s.transforms.Record(ctx, rec); err != nil {
			s.logger.Warn("record failed export failed", zap.String("export_id", payload.ExportID), zap.Error(err))
		}
		return "", false
	}
	s.metrics.exportsEnqueued.WithLabelValues("ok").Inc()
	return payload.ExportID, true
}

func (s *Server) recordTransform(ctx context.Context, rec domain.TransformRecord, startedAt time.Time, req *pipeline.Request, contentType string, err error) {
	rec.DurationMS = time.Since(startedAt).Milliseconds()
	rec.CreatedAt = startedAt.UTC()
	rec.ContentType = contentType
	if req != nil {
		rec.SourceBytes = len(req.OriginalImage)
	}
	rec.Status = domain.TransformStatusSucceeded
	if err != nil {
		rec.Status = domain.TransformStatusFailed
		rec.Error = domain.CodeOf(err)
	}

	if err := s.transforms.Record(ctx, rec); err != nil {
		s.logger.Warn("record transform failed", zap.String("transform_id", rec.ID), zap.Error(err))
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := domain.StatusCode(err, s.strictErrors)
	s.writeStatus(c, status, domain.CodeOf(err), domain.MessageOf(err))
}

func (s *Server) writeStatus(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorBody{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func setMetadataHeaders(c *gin.Context, req *pipeline.Request) {
	if req.CacheControl != "" {
		c.Header("Cache-Control", req.CacheControl)
	}
	if req.LastModified != "" {
		c.Header("Last-Modified", req.LastModified)
	}
	if req.Expires != "" {
		c.Header("Expires", req.Expires)
	}
}

func exportRequested(c *gin.Context) bool {
	raw := c.Query("export")
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	return err == nil && v
}

func exportResponse(rec domain.TransformRecord) gin.H {
	body := gin.H{
		"export_id":  rec.ID,
		"bucket":     rec.Bucket,
		"key":        rec.Key,
		"edits":      rec.Edits,
		"status":     rec.Status,
		"created_at": rec.CreatedAt,
	}
	if rec.OutputFormat != "" {
		body["format"] = rec.OutputFormat
	}
	if rec.Status == domain.TransformStatusQueued {
		return body
	}
	body["content_type"] = rec.ContentType
	body["source_bytes"] = rec.SourceBytes
	body["output_bytes"] = rec.OutputBytes
	body["duration_ms"] = rec.DurationMS
	if rec.Error != "" {
		body["error"] = rec.Error
	}
	return body
}
