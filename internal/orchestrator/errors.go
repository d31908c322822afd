package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrFlowNotFound — flow не найден.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrFlowDisabled — flow выключен, новые runs не создаются.
	ErrFlowDisabled = errors.New("flow is disabled")

	// ErrNotTrigger — узел отсутствует в графе или не является триггером.
	ErrNotTrigger = errors.New("node is not a trigger of the flow")

	// ErrRunNotFound — run не найден.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFinished — run уже в терминальном статусе.
	ErrRunFinished = errors.New("run is already finished")

	// ErrInvalidGraph — граф flow не прошёл валидацию.
	ErrInvalidGraph = errors.New("invalid flow graph")
)
