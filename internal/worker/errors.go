package worker

import "errors"

// Ошибки воркера.
var (
	// ErrUnknownActionType — нет executor'а для данного типа действия.
	ErrUnknownActionType = errors.New("unknown action type")

	// ErrTriggerExecution — trigger-узел попал в очередь на выполнение.
	ErrTriggerExecution = errors.New("trigger node cannot be executed")

	// ErrLeaseExhausted — узел слишком много раз терял аренду.
	ErrLeaseExhausted = errors.New("run node lease lost too many times")

	// ErrNotStarted — контекст вызова завершился раньше, чем executor
	// был вызван. Узел можно вернуть в очередь без увеличения attempt.
	ErrNotStarted = errors.New("run node not started")

	// ErrExecutorPanic — executor запаниковал.
	ErrExecutorPanic = errors.New("executor panicked")

	// ErrInvalidConfig — некорректная конфигурация узла.
	ErrInvalidConfig = errors.New("invalid node config")

	// ErrNotBoolean — условие вернуло не bool.
	ErrNotBoolean = errors.New("condition result is not boolean")

	// ErrHTTPRequest — HTTP-запрос завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")
)
