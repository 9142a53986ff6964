package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/dunamismax/imagehandler/internal/domain"
)

// ObjectWriter stores rendered output.
type ObjectWriter interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

// Output describes one stored export.
type Output struct {
	Bucket      string
	Key         string
	ContentType string
	Bytes       int
}

// ExportEmitter writes transform output into a dedicated export bucket. It
// only ever writes; nothing reads exports back.
type ExportEmitter struct {
	Storage ObjectWriter
	Bucket  string
}

func (e ExportEmitter) Emit(ctx context.Context, exp domain.ExportRequest, req *Request, data []byte) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(e.Bucket) == "" {
		return Output{}, errors.New("export bucket is required")
	}
	if err := exp.Validate(); err != nil {
		return Output{}, err
	}

	contentType, err := req.ResponseContentType(data)
	if err != nil {
		return Output{}, err
	}

	key := exp.ObjectKey()
	if err := e.Storage.Put(ctx, e.Bucket, key, data, contentType); err != nil {
		return Output{}, err
	}

	return Output{
		Bucket:      e.Bucket,
		Key:         key,
		ContentType: contentType,
		Bytes:       len(data),
	}, nil
}

// RequestFromExport rebuilds the transform request an export was queued
// with.
func RequestFromExport(exp domain.ExportRequest) (*Request, error) {
	return NewRequest(exp.Bucket, exp.Edits, exp.Key, RequestOptions{
		Format: exp.Format,
		Effort: exp.Effort,
		Fit:    exp.Fit,
		Ratio:  exp.Ratio,
	})
}
