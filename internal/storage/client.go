// Package storage reads source images from, and writes exports to, an
// S3-compatible object store.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/imagehandler/internal/domain"
	"github.com/dunamismax/imagehandler/internal/format"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Region   string
	UseSSL   bool
}

type Client struct {
	minio *minio.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("endpoint is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Client{minio: mc}, nil
}

func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := c.minio.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := c.minio.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := c.minio.BucketExists(ctx, bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}

	return nil
}

// Fetch reads an object and normalizes its metadata. A missing key is a
// domain.ErrNotFound; every other store failure is a domain.ErrInternal
// carrying the store's error code.
func (c *Client) Fetch(ctx context.Context, bucket, key string) (domain.OriginalImageInfo, error) {
	obj, err := c.minio.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return domain.OriginalImageInfo{}, classifyError(key, err)
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		return domain.OriginalImageInfo{}, classifyError(key, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return domain.OriginalImageInfo{}, classifyError(key, err)
	}

	return originalImageInfo(stat, data)
}

func (c *Client) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := c.minio.PutObject(
		ctx,
		bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  contentType,
			CacheControl: domain.DefaultCacheControl,
		},
	)
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

func originalImageInfo(stat minio.ObjectInfo, data []byte) (domain.OriginalImageInfo, error) {
	info := domain.OriginalImageInfo{
		ContentType:   stat.ContentType,
		Expires:       httpDate(stat.Expires),
		LastModified:  httpDate(stat.LastModified),
		CacheControl:  domain.DefaultCacheControl,
		OriginalImage: data,
	}

	// minio reports a missing Content-Type as application/octet-stream; the
	// raw header tells the two apart.
	switch {
	case strings.TrimSpace(stat.Metadata.Get("Content-Type")) == "":
		info.ContentType = domain.ContentTypeGeneric
	case domain.IsOctetStream(info.ContentType):
		contentType, err := format.SniffContentType(data)
		if err != nil {
			return domain.OriginalImageInfo{}, err
		}
		info.ContentType = contentType
	}

	if cc := stat.Metadata.Get("Cache-Control"); cc != "" {
		info.CacheControl = cc
	}

	return info, nil
}

func httpDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(http.TimeFormat)
}

func classifyError(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchObject":
		return domain.NotFound(resp.Code, fmt.Sprintf("The image %s does not exist or the request may not be base64 encoded properly.", key))
	case "":
		return domain.Internal("InternalError", err)
	}

	e := domain.Internal(resp.Code, err)
	if resp.Message != "" {
		e.Message = resp.Message
	}
	return e
}
