// Package ledger хранит ключи идемпотентности внешних побочных эффектов.
//
// Executor отмечает ключ (RunNode id) перед вызовом внешней системы.
// Если статус узла не удалось записать и узел будет захвачен повторно,
// отметка не даст выполнить побочный эффект второй раз.
//
// Реализации:
//   - Redis — SET NX с TTL, общий для всех экземпляров API
//   - Memory — go-cache, для локальной разработки и тестов
package ledger
