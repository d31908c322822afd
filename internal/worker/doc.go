// Package worker выполняет захваченные узлы run.
//
// # Dispatcher
//
// Dispatcher.ProcessClaimed обрабатывает один RunNode, захваченный
// планировщиком:
//
//  1. Загрузка run; run не active → результат отбрасывается
//  2. Поиск узла в снимке графа и executor'а по типу действия
//     (ошибки конфигурации → failed без retry)
//  3. Рендеринг конфигурации (engine.RenderConfig)
//  4. Вызов executor'а с таймаутом, паника → временная ошибка
//  5. Успех → следующие узлы (engine.NextNodes, engine.Frontier)
//  6. Временная ошибка → RetryPolicy: pending с новым scheduled_at или failed
//  7. Запись результата одной транзакцией (repo.Transition); если аренда
//     перехвачена или run отменён, результат отбрасывается
//
// # Executor
//
// Интерфейс для выполнения конкретного типа действия:
//
//	type Executor interface {
//	    Execute(ctx context.Context, req *Request) Result
//	}
//
// Встроенные реализации (NewDefaultRegistry):
//   - WaitExecutor — "wait", задержка через scheduled_at (Delayer)
//   - ConditionExecutor — "condition", выражения expr-lang (BooleanProducer)
//   - EmailExecutor — "send_email", публикация в mail.outbox с Ledger
//   - TagExecutor — "add_tag", тег фаната
//   - HTTPExecutor — "http_request", webhook с Idempotency-Key
//
// Request.RunNodeID одинаков для всех попыток узла и служит ключом
// идемпотентности внешних вызовов.
//
// # Retry
//
// Временные ошибки повторяются с экспоненциальной задержкой и equal
// jitter (RetryPolicy). Retry не блокирует воркер: узел возвращается
// в pending со scheduled_at в будущем и будет захвачен следующими тиками.
package worker
