package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — экземпляр выполнения flow.
//
// Run создаётся, когда срабатывает trigger-узел flow. Run хранит снимок
// графа той версии flow, по которой он был запущен, и набор RunNode —
// по одному на каждое появление узла в выполнении.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// FlowID — ссылка на flow.
	FlowID uuid.UUID `json:"flow_id"`

	// FlowVersion — версия flow на момент запуска.
	FlowVersion int `json:"flow_version"`

	// WorkspaceID — воркспейс flow.
	WorkspaceID uuid.UUID `json:"workspace_id"`

	// TriggerNodeID — сработавший trigger-узел.
	TriggerNodeID string `json:"trigger_node_id"`

	// TriggerContext — данные события (например, fanId, orderId).
	TriggerContext map[string]any `json:"trigger_context,omitempty"`

	// Status — хранимый статус run.
	Status RunStatus `json:"status"`

	// DedupeKey — ключ дедупликации: среди незавершённых run ключ уникален.
	DedupeKey string `json:"dedupe_key"`

	// Graph — снимок графа flow на момент запуска.
	Graph Graph `json:"graph"`

	// Error — сводка ошибки для failed/partially_failed run.
	Error string `json:"error,omitempty"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// MarkFinished переводит run в финальный статус.
func (r *Run) MarkFinished(status RunStatus, errMsg string, at time.Time) {
	r.Status = status
	r.Error = errMsg
	r.EndedAt = &at
}
