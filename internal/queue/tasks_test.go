package queue

import (
	"testing"
	"time"

	"github.com/dunamismax/imagehandler/internal/domain"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImageTask(t *testing.T) {
	payload := ExportImagePayload{
		ExportRequest: domain.ExportRequest{
			ExportID: "exp-123",
			Bucket:   "photos",
			Key:      "cats/tabby.jpg",
			Edits:    "300X200",
			Format:   "webp",
			Effort:   "4",
		},
		RequestedAt: time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC),
	}

	task, err := NewExportImageTask(payload)
	require.NoError(t, err)
	assert.Equal(t, TypeExportImage, task.Type())
	assert.JSONEq(t, `{
		"export_id": "exp-123",
		"bucket": "photos",
		"key": "cats/tabby.jpg",
		"edits": "300X200",
		"format": "webp",
		"effort": "4",
		"requested_at": "2026-01-02T03:04:05Z"
	}`, string(task.Payload()))

	parsed, err := ParseExportImagePayload(task)
	require.NoError(t, err)
	assert.Equal(t, payload, parsed)
}

func TestExportImageTaskValidation(t *testing.T) {
	_, err := NewExportImageTask(ExportImagePayload{ExportRequest: domain.ExportRequest{Bucket: "photos", Key: "a.jpg"}})
	assert.Error(t, err)

	_, err = ParseExportImagePayload(asynq.NewTask(TypeExportImage, []byte(`{"export_id":"x","bucket":"b","key":"../a"}`)))
	assert.Error(t, err)

	_, err = ParseExportImagePayload(asynq.NewTask(TypeExportImage, []byte(`not json`)))
	assert.Error(t, err)
}
