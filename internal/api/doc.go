// Package api содержит HTTP API сервер Fanflow.
//
// Структура:
//   - handler.go      — Handler с DI (оркестратор, планировщик, метрики)
//   - routes.go       — регистрация маршрутов
//   - middleware.go   — recovery, request id, metrics, logging
//   - response.go     — унифицированные JSON-ответы и отображение ошибок
//   - request.go      — разбор и валидация запросов
//   - dto.go          — Data Transfer Objects (request/response)
//   - flow_handler.go — обработчики для /flows
//   - run_handler.go  — обработчики для /runs
//   - tick_handler.go — POST /run, точка входа планировщика
package api
