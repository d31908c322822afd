// Package repo — хранилище PostgreSQL на pgx.
//
// Инварианты выполнения закреплены в схеме (migrations/001_init.sql):
// частичный уникальный индекс по dedupe_key для активных run и по
// (run_id, node_id) для pending/claimed узлов. Захват узлов —
// один UPDATE с FOR UPDATE SKIP LOCKED, запись результата — одна
// транзакция с блокировкой строки run.
//
// Подпакет memstore реализует те же операции в памяти.
package repo
