package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/imagehandler/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeExportImage = "image:export"

type ExportImagePayload struct {
	domain.ExportRequest
	RequestedAt time.Time `json:"requested_at"`
}

func NewExportImageTask(payload ExportImagePayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("validate export payload: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal export payload: %w", err)
	}
	return asynq.NewTask(TypeExportImage, body), nil
}

func ParseExportImagePayload(task *asynq.Task) (ExportImagePayload, error) {
	var payload ExportImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ExportImagePayload{}, fmt.Errorf("unmarshal export payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return ExportImagePayload{}, fmt.Errorf("validate export payload: %w", err)
	}
	return payload, nil
}
