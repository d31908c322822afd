package repo

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/fanflow/internal/domain"
)

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	FlowID      *uuid.UUID
	WorkspaceID *uuid.UUID
	Status      domain.RunStatus
	Limit       int
	Offset      int
}

// ClaimRequest — параметры атомарного захвата узлов.
type ClaimRequest struct {
	// Token — идентификатор вызова планировщика.
	Token uuid.UUID

	// Now — захватываются pending-узлы с scheduled_at <= Now.
	Now time.Time

	// LeaseCutoff — claimed-узлы, захваченные раньше этого момента,
	// считаются брошенными и захватываются повторно (attempt+1).
	// Нулевое значение отключает повторный захват.
	LeaseCutoff time.Time

	// Limit — максимальное количество узлов.
	Limit int
}

// Transition — запись результата выполнения захваченного узла.
type Transition struct {
	RunNodeID uuid.UUID
	RunID     uuid.UUID

	// Token — токен вызова, захватившего узел. Запись применяется только
	// если узел всё ещё claimed этим токеном.
	Token uuid.UUID

	// Status — новый статус: succeeded, failed или pending (retry).
	Status domain.RunNodeStatus

	// Outcome и BranchEnd — для succeeded.
	Outcome   *domain.Outcome
	BranchEnd bool

	// Attempt и ScheduledAt — для retry.
	Attempt     int
	ScheduledAt time.Time

	// Error и ErrorKind — для failed и retry.
	Error     string
	ErrorKind domain.ErrorKind

	// Next — новые RunNode для следующих узлов (только для succeeded).
	Next []domain.RunNode

	Now time.Time
}

// TransitionResult — итог применения Transition.
type TransitionResult struct {
	// Applied — false, если узел уже не claimed этим токеном
	// (run отменён или аренда перехвачена). Результат отброшен.
	Applied bool

	// Inserted — сколько новых RunNode вставлено.
	Inserted int

	// Conflicts — сколько RunNode не вставлено из-за уже открытого узла
	// с тем же node_id в этом run.
	Conflicts int

	// RunStatus — статус run после перехода.
	RunStatus domain.RunStatus

	// RunFinished — run завершился этим переходом.
	RunFinished bool
}
