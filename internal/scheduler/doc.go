// Package scheduler захватывает готовые узлы run и выполняет их.
//
// Структура:
//   - scheduler.go — Scheduler.Tick: атомарный захват пачки и пул исполнителей
//   - invoker.go   — периодический вызов POST /run по расписанию cron
//   - cron.go      — разбор расписаний
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Claimer:     store,
//	    Processor:   dispatcher,
//	    BatchSize:   100,
//	    Concurrency: 10,
//	    Logger:      logger,
//	})
//
//	// Вызывается из обработчика POST /run
//	summary, err := sched.Tick(ctx)
//
// Scheduler не реализует leader election: несколько пересекающихся
// тиков захватывают разные узлы (FOR UPDATE SKIP LOCKED).
package scheduler
