// Package orchestrator управляет жизненным циклом flows и runs.
//
// Orchestrator отвечает за:
//   - Сохранение flows с валидацией графа (engine.Validate)
//   - Запуск run по событию триггера: снимок графа, ключ дедупликации,
//     выполненный trigger-узел и первые узлы (engine.Frontier)
//   - Отмену run
//   - Сводку состояния run для администратора
//   - Приём событий trigger.fired из RabbitMQ
//
// Выполнением узлов Orchestrator не занимается: это делают
// scheduler.Scheduler и worker.Dispatcher.
package orchestrator
