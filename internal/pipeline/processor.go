// Package pipeline runs the fetch, decode, edit and encode steps of an image
// transform.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/imagehandler/internal/domain"
	"github.com/dunamismax/imagehandler/internal/edits"
	"github.com/dunamismax/imagehandler/internal/format"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Fetcher loads a source object and its metadata.
type Fetcher interface {
	Fetch(ctx context.Context, bucket, key string) (domain.OriginalImageInfo, error)
}

type Config struct {
	// MaxConcurrency bounds concurrent decode/encode work.
	MaxConcurrency int
	// Timeout bounds one transform, fetch included. Zero disables it.
	Timeout time.Duration
}

type Engine struct {
	fetcher Fetcher
	codec   Codec
	sem     chan struct{}
	timeout time.Duration
	logger  *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

func NewEngine(fetcher Fetcher, cfg Config, logger *zap.Logger, metrics *Metrics) (*Engine, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Engine{
		fetcher: fetcher,
		codec:   newCodec(),
		sem:     make(chan struct{}, max(1, cfg.MaxConcurrency)),
		timeout: cfg.Timeout,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer("imagehandler/pipeline"),
	}, nil
}

// ProcessImage runs Process, recording metrics and logging failures. Errors
// are returned to the caller unchanged.
func (e *Engine) ProcessImage(ctx context.Context, req *Request) ([]byte, error) {
	if req == nil {
		return e.Process(ctx, nil)
	}

	startedAt := time.Now()
	data, err := e.Process(ctx, req)

	label := outputLabel(req)
	e.metrics.transformDuration.WithLabelValues(label).Observe(time.Since(startedAt).Seconds())
	if err != nil {
		code := domain.CodeOf(err)
		e.metrics.transformsTotal.WithLabelValues(label, code).Inc()
		e.logger.Error("process image failed",
			zap.String("bucket", req.Bucket),
			zap.String("key", req.Key),
			zap.String("edits", req.Edits.String()),
			zap.String("code", code),
			zap.Error(err),
		)
		return nil, err
	}

	e.metrics.transformsTotal.WithLabelValues(label, "ok").Inc()
	e.metrics.outputBytes.WithLabelValues(label).Add(float64(len(data)))
	return data, nil
}

// Process fetches the source named by req and applies its edits. req is
// enriched with the fetched metadata.
func (e *Engine) Process(ctx context.Context, req *Request) ([]byte, error) {
	if req == nil {
		return nil, domain.Internal("InvalidRequest", errors.New("request is required"))
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	ctx, span := e.tracer.Start(ctx, "pipeline.process")
	span.SetAttributes(
		attribute.String("image.bucket", req.Bucket),
		attribute.String("image.key", req.Key),
		attribute.String("image.edits", req.Edits.String()),
	)
	defer span.End()

	data, err := e.process(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.CodeOf(err))
		return nil, err
	}
	span.SetStatus(codes.Ok, "processed")
	return data, nil
}

func (e *Engine) process(ctx context.Context, req *Request) ([]byte, error) {
	info, err := e.fetcher.Fetch(ctx, req.Bucket, req.Key)
	if err != nil {
		return nil, contextError(ctx, domain.AsInternal("FetchError", err))
	}
	req.merge(info)

	if req.isSVG() && !req.Edits.Empty() && req.OutputFormat == nil {
		png := format.OutputPNG
		req.OutputFormat = &png
	}

	if req.Edits.Empty() {
		return req.OriginalImage, nil
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, contextError(ctx, ctx.Err())
	}
	e.metrics.activeTransforms.Inc()
	defer func() {
		<-e.sem
		e.metrics.activeTransforms.Dec()
	}()

	img, err := e.decode(ctx, req)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	ops, err := edits.Operations(req.Edits, func() (int, int, error) {
		w, h := img.Size()
		return w, h, nil
	})
	if err != nil {
		return nil, err
	}
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return nil, contextError(ctx, err)
		}
		if err := apply(img, op); err != nil {
			return nil, err
		}
	}

	return e.encode(ctx, img, req)
}

func (e *Engine) decode(ctx context.Context, req *Request) (Image, error) {
	_, span := e.tracer.Start(ctx, "pipeline.decode")
	defer span.End()

	img, err := e.codec.Decode(req.OriginalImage, DecodeOptions{
		FailOnError: false,
		Unlimited:   true,
		Animated:    req.ContentType == format.ContentTypeGIF,
	})
	if err != nil {
		span.RecordError(err)
		return nil, domain.AsInternal("DecodeError", err)
	}
	if err := ctx.Err(); err != nil {
		img.Close()
		return nil, contextError(ctx, err)
	}
	return img, nil
}

func (e *Engine) encode(ctx context.Context, img Image, req *Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(ctx, err)
	}

	_, span := e.tracer.Start(ctx, "pipeline.encode")
	defer span.End()

	enc := Encoding{Output: req.OutputFormat}
	if req.OutputFormat != nil && *req.OutputFormat == format.OutputWEBP {
		enc.Effort = req.Effort
	}

	data, err := img.Encode(enc)
	if err != nil {
		span.RecordError(err)
		return nil, domain.AsInternal("EncodeError", err)
	}
	return data, nil
}

// apply dispatches one operation onto img.
func apply(img Image, op edits.Operation) error {
	switch o := op.(type) {
	case edits.ResizeOp:
		w, h := img.Size()
		g, err := edits.Plan(w, h, o.Resize)
		if err != nil {
			return domain.Internal("ResizeError", err)
		}
		if !g.Resamples(w, h) && !g.Crops() && !g.Embeds() {
			return nil
		}
		return img.Resize(g)
	default:
		return domain.Internal("UnknownOperation", fmt.Errorf("unsupported operation %T", op))
	}
}

func contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.Internal("Timeout", fmt.Errorf("transform interrupted: %w", ctxErr))
	}
	return err
}

func outputLabel(req *Request) string {
	if req == nil || req.OutputFormat == nil {
		return "source"
	}
	return req.OutputFormat.Codec()
}
