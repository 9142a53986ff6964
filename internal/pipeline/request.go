package pipeline

import (
	"strconv"
	"strings"

	"github.com/dunamismax/imagehandler/internal/domain"
	"github.com/dunamismax/imagehandler/internal/edits"
	"github.com/dunamismax/imagehandler/internal/format"
)

const (
	minEffort = 0
	maxEffort = 6
)

// Request is the per-request state of one transform. The route layer builds
// it from the path and the engine fills in the fetched source.
type Request struct {
	Bucket        string
	Key           string
	Edits         *edits.EditSet
	OriginalImage []byte
	Headers       map[string]string
	ContentType   string
	Expires       string
	LastModified  string
	CacheControl  string
	OutputFormat  *format.OutputFormat
	Effort        *int
}

// RequestOptions are the optional query parameters of a transform request.
type RequestOptions struct {
	Format string
	Effort string
	Fit    string
	Ratio  string
}

func NewRequest(bucket, editsToken, key string, opts RequestOptions) (*Request, error) {
	set, err := edits.Build(editsToken, edits.Options{Fit: opts.Fit, Ratio: opts.Ratio})
	if err != nil {
		return nil, err
	}

	req := &Request{
		Bucket: bucket,
		Key:    key,
		Edits:  set,
	}

	if name := strings.TrimSpace(opts.Format); name != "" {
		out, err := format.ParseOutput(name)
		if err != nil {
			return nil, err
		}
		req.OutputFormat = &out
	}

	if raw := strings.TrimSpace(opts.Effort); raw != "" {
		effort, err := strconv.Atoi(raw)
		if err != nil || effort < minEffort || effort > maxEffort {
			return nil, domain.InvalidEdit("effort %q must be an integer between %d and %d", raw, minEffort, maxEffort)
		}
		req.Effort = &effort
	}

	return req, nil
}

// merge copies the fetched source onto r. Bucket, key and edits are never
// replaced.
func (r *Request) merge(info domain.OriginalImageInfo) {
	r.OriginalImage = info.OriginalImage
	r.ContentType = info.ContentType
	r.Expires = info.Expires
	r.LastModified = info.LastModified
	r.CacheControl = info.CacheControl
}

func (r *Request) isSVG() bool {
	f, ok := format.FromContentType(r.ContentType)
	return ok && f == format.SVG
}

// ResponseContentType sniffs the MIME type of data produced for r. Formats
// without a signature (heif, raw) fall back to the requested output format,
// and untouched originals fall back to the stored content type.
func (r *Request) ResponseContentType(data []byte) (string, error) {
	contentType, err := format.SniffContentType(data)
	if err == nil {
		return contentType, nil
	}
	if r.OutputFormat != nil {
		return r.OutputFormat.ContentType(), nil
	}
	if r.Edits.Empty() && r.ContentType != "" && r.ContentType != domain.ContentTypeGeneric {
		return r.ContentType, nil
	}
	return "", err
}
