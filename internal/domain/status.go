package domain

// RunStatus — статус run.
//
// Жизненный цикл:
//
//	active → completed
//	       ↘ partially_failed
//	       ↘ failed
//	       ↘ canceled
//
// waiting не хранится в базе: это отображаемый статус active run,
// у которого все незавершённые узлы запланированы на будущее.
type RunStatus string

const (
	// RunStatusActive — run выполняется, есть незавершённые узлы.
	RunStatusActive RunStatus = "active"

	// RunStatusWaiting — отображаемый статус, см. описание типа.
	RunStatusWaiting RunStatus = "waiting"

	// RunStatusCompleted — все узлы завершены, ни один не упал.
	RunStatusCompleted RunStatus = "completed"

	// RunStatusPartiallyFailed — часть узлов упала, но хотя бы одна ветка
	// дошла до конца.
	RunStatusPartiallyFailed RunStatus = "partially_failed"

	// RunStatusFailed — есть упавшие узлы, ни одна ветка не дошла до конца.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCanceled — run отменён.
	RunStatusCanceled RunStatus = "canceled"
)

// IsTerminal возвращает true, если статус финальный.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusPartiallyFailed, RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// RunNodeStatus — статус узла внутри run.
//
// Жизненный цикл:
//
//	pending → claimed → succeeded
//	                  ↘ failed
//	                  ↘ pending (retry, attempt+1)
//	pending/claimed → skipped (отмена run)
type RunNodeStatus string

const (
	// RunNodeStatusPending — ждёт наступления scheduled_at.
	RunNodeStatusPending RunNodeStatus = "pending"

	// RunNodeStatusClaimed — захвачен вызовом планировщика и выполняется.
	RunNodeStatusClaimed RunNodeStatus = "claimed"

	// RunNodeStatusSucceeded — выполнен успешно.
	RunNodeStatusSucceeded RunNodeStatus = "succeeded"

	// RunNodeStatusFailed — упал окончательно.
	RunNodeStatusFailed RunNodeStatus = "failed"

	// RunNodeStatusSkipped — пропущен из-за отмены run.
	RunNodeStatusSkipped RunNodeStatus = "skipped"
)

// IsTerminal возвращает true, если статус финальный.
func (s RunNodeStatus) IsTerminal() bool {
	switch s {
	case RunNodeStatusSucceeded, RunNodeStatusFailed, RunNodeStatusSkipped:
		return true
	default:
		return false
	}
}

// ErrorKind — категория ошибки узла.
type ErrorKind string

const (
	// ErrorKindConfig — ошибка конфигурации графа или узла. Не ретраится.
	ErrorKindConfig ErrorKind = "config"

	// ErrorKindTransient — временная ошибка (сеть, 5xx, паника исполнителя).
	ErrorKindTransient ErrorKind = "transient"

	// ErrorKindPermanent — постоянная ошибка исполнителя.
	ErrorKindPermanent ErrorKind = "permanent"

	// ErrorKindLease — узел многократно терял аренду (процесс падал во время выполнения).
	ErrorKindLease ErrorKind = "lease"
)
