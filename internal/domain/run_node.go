package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunNode — одно появление узла графа в run.
//
// RunNode создаётся, когда предыдущий узел выполнился успешно и ребро
// ведёт в этот узел. Для узлов ожидания ScheduledAt сдвинут в будущее,
// поэтому ожидание — это просто pending-запись, а не спящий процесс.
//
// RunNode никогда не удаляются: это журнал выполнения.
type RunNode struct {
	// ID — идентификатор записи. Одновременно ключ идемпотентности
	// для исполнителя: все попытки одного узла видят один и тот же ID.
	ID uuid.UUID `json:"id"`

	// RunID — ссылка на run.
	RunID uuid.UUID `json:"run_id"`

	// NodeID — ID узла в снимке графа.
	NodeID string `json:"node_id"`

	// Status — текущий статус.
	Status RunNodeStatus `json:"status"`

	// ScheduledAt — раньше этого времени узел не захватывается.
	ScheduledAt time.Time `json:"scheduled_at"`

	// Attempt — номер попытки, начиная с 0.
	Attempt int `json:"attempt"`

	// LastError — текст последней ошибки.
	LastError string `json:"last_error,omitempty"`

	// ErrorKind — категория последней ошибки.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// ClaimedBy — токен вызова планировщика, который захватил узел.
	ClaimedBy *uuid.UUID `json:"claimed_by,omitempty"`

	// ClaimedAt — время захвата.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// Outcome — результат успешного выполнения.
	Outcome *Outcome `json:"outcome,omitempty"`

	// BranchEnd — true, если узел выполнился успешно и ни одно ребро
	// из него не стало активным (ветка дошла до конца).
	BranchEnd bool `json:"branch_end,omitempty"`

	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsFinished возвращает true, если узел в финальном статусе.
func (n *RunNode) IsFinished() bool {
	return n.Status.IsTerminal()
}

// IsClaimedBy проверяет, что узел захвачен вызовом с токеном token.
func (n *RunNode) IsClaimedBy(token uuid.UUID) bool {
	return n.Status == RunNodeStatusClaimed && n.ClaimedBy != nil && *n.ClaimedBy == token
}

// NewRunNode создаёт pending-узел.
func NewRunNode(runID uuid.UUID, nodeID string, scheduledAt time.Time) RunNode {
	return RunNode{
		ID:          uuid.New(),
		RunID:       runID,
		NodeID:      nodeID,
		Status:      RunNodeStatusPending,
		ScheduledAt: scheduledAt,
		CreatedAt:   scheduledAt,
	}
}
