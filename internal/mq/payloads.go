package mq

import (
	"time"

	"github.com/google/uuid"
)

// TriggerFiredPayload — событие, запускающее run.
type TriggerFiredPayload struct {
	FlowID        uuid.UUID      `json:"flow_id"`
	TriggerNodeID string         `json:"trigger_node_id"`
	Context       map[string]any `json:"context"`
}

// EmailPayload — задание на отправку письма.
type EmailPayload struct {
	// IdempotencyKey — RunNode id, одинаковый для всех попыток.
	IdempotencyKey string `json:"idempotency_key"`

	WorkspaceID uuid.UUID      `json:"workspace_id"`
	RunID       uuid.UUID      `json:"run_id"`
	TemplateID  string         `json:"template_id"`
	FanID       string         `json:"fan_id"`
	Vars        map[string]any `json:"vars,omitempty"`
}

// RunFinishedPayload — run перешёл в терминальный статус.
type RunFinishedPayload struct {
	RunID       uuid.UUID  `json:"run_id"`
	FlowID      uuid.UUID  `json:"flow_id"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// RunNodeFailedPayload — узел run завершился ошибкой.
type RunNodeFailedPayload struct {
	RunID       uuid.UUID `json:"run_id"`
	RunNodeID   uuid.UUID `json:"run_node_id"`
	FlowID      uuid.UUID `json:"flow_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	NodeID      string    `json:"node_id"`
	ErrorKind   string    `json:"error_kind"`
	Error       string    `json:"error"`
	Attempt     int       `json:"attempt"`
}
