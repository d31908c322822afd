// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Connection держит отдельные каналы для публикации и потребления
// и переподключается сам. Publisher ждёт publisher confirms, если они
// включены в DialOptions. Consumer обрабатывает очередь несколькими
// воркерами и после reconnect подписывается заново. DefaultTopology
// описывает все exchanges и очереди.
//
// Типы сообщений:
//   - trigger.fired    — событие, запускающее run (потребитель: fanflow-ingest)
//   - mail.email       — письмо для сервиса рассылки
//   - run.finished     — run завершён
//   - run_node.failed  — узел run завершился ошибкой
//
// Exchanges:
//   - fanflow.triggers — входящие события триггеров
//   - fanflow.mail     — исходящие письма
//   - fanflow.events   — события движка (topic)
//   - fanflow.dlq      — dead letter queue
//
// RabbitMQ не участвует в планировании узлов: состояние выполнения
// хранится только в PostgreSQL.
package mq
