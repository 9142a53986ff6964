package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	TransformStatusQueued    = "queued"
	TransformStatusSucceeded = "succeeded"
	TransformStatusFailed    = "failed"

	OriginHTTP   = "http"
	OriginExport = "export"
)

// TransformRecord is the audit entry written after every pipeline run.
type TransformRecord struct {
	ID           string
	Origin       string
	Bucket       string
	Key          string
	Edits        string
	OutputFormat string
	ContentType  string
	SourceBytes  int
	OutputBytes  int
	DurationMS   int64
	Status       string
	Error        string
	CreatedAt    time.Time
}

// ExportRequest asks the worker to render an edit set and store the result in
// the export bucket.
type ExportRequest struct {
	ExportID string `json:"export_id"`
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	Edits    string `json:"edits"`
	Format   string `json:"format,omitempty"`
	Effort   string `json:"effort,omitempty"`
	Fit      string `json:"fit,omitempty"`
	Ratio    string `json:"ratio,omitempty"`
}

func (r ExportRequest) Validate() error {
	if strings.TrimSpace(r.ExportID) == "" {
		return errors.New("export_id is required")
	}
	if strings.TrimSpace(r.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.TrimSpace(r.Key) == "" {
		return errors.New("key is required")
	}
	if strings.Contains(r.Key, "..") {
		return fmt.Errorf("key %q must not contain '..'", r.Key)
	}
	return nil
}

// ObjectKey is where the rendered export lands inside the export bucket.
func (r ExportRequest) ObjectKey() string {
	edits := strings.TrimSpace(r.Edits)
	if edits == "" {
		edits = "original"
	}
	if f := strings.ToLower(strings.TrimSpace(r.Format)); f != "" {
		edits = edits + "." + f
	}
	return r.Bucket + "/" + edits + "/" + r.Key
}
