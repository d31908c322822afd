package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/fanflow/internal/domain"
	"github.com/shaiso/fanflow/internal/repo"
	"github.com/shaiso/fanflow/internal/telemetry"
	"github.com/shaiso/fanflow/internal/worker"
)

// Default configuration values.
const (
	defaultBatchSize    = 100
	defaultConcurrency  = 10
	defaultLeaseTimeout   = 10 * time.Minute
	defaultProcessTimeout = 50 * time.Second
	releaseTimeout        = 10 * time.Second
)

// Claimer атомарно захватывает готовые к выполнению узлы и возвращает
// в очередь те, что так и не начали выполняться.
type Claimer interface {
	ClaimBatch(ctx context.Context, req repo.ClaimRequest) ([]domain.RunNode, error)
	ReleaseClaim(ctx context.Context, runNodeID, token uuid.UUID) (bool, error)
}

// Processor выполняет захваченный узел.
type Processor interface {
	ProcessClaimed(ctx context.Context, rn domain.RunNode) (worker.Outcome, error)
}

// Summary — итог одного тика.
type Summary struct {
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
	Discarded int `json:"discarded"`

	// Released — узлы, возвращённые в pending без выполнения: тик
	// отменён или аренда истекла бы до конца обработки.
	Released int `json:"released"`

	// Errors — узлы, результат которых не удалось записать.
	// Они останутся claimed до истечения аренды.
	Errors int `json:"errors"`
}

// Scheduler — планировщик выполнения узлов.
//
// Scheduler не хранит состояния: каждый Tick захватывает пачку узлов
// с новым токеном и выполняет их. Пересекающиеся вызовы Tick (в том числе
// из разных процессов) безопасны, потому что захват атомарен.
type Scheduler struct {
	claimer   Claimer
	processor Processor
	metrics   *telemetry.Metrics
	logger    *slog.Logger

	batchSize      int
	concurrency    int
	leaseTimeout   time.Duration
	processTimeout time.Duration
	now            func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Claimer   Claimer
	Processor Processor

	// Metrics (опционально).
	Metrics *telemetry.Metrics

	Logger *slog.Logger

	// BatchSize — максимум узлов за один тик (default: 100).
	BatchSize int

	// Concurrency — сколько узлов выполняется параллельно (default: 10).
	Concurrency int

	// LeaseTimeout — через сколько claimed-узел считается брошенным
	// и может быть захвачен повторно (default: 10m).
	LeaseTimeout time.Duration

	// ProcessTimeout — верхняя граница обработки одного узла (default: 50s).
	// Узел не запускается, если до истечения аренды осталось меньше.
	ProcessTimeout time.Duration

	// Now — источник времени (default: time.Now).
	Now func() time.Time
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	leaseTimeout := cfg.LeaseTimeout
	if leaseTimeout <= 0 {
		leaseTimeout = defaultLeaseTimeout
	}

	processTimeout := cfg.ProcessTimeout
	if processTimeout <= 0 {
		processTimeout = defaultProcessTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if leaseTimeout <= processTimeout {
		logger.Warn("lease timeout is shorter than run node processing, raising it",
			"lease_timeout", leaseTimeout,
			"process_timeout", processTimeout,
		)
		leaseTimeout = 2 * processTimeout
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		claimer:      cfg.Claimer,
		processor:    cfg.Processor,
		metrics:      cfg.Metrics,
		logger:       logger,
		batchSize:      batchSize,
		concurrency:    concurrency,
		leaseTimeout:   leaseTimeout,
		processTimeout: processTimeout,
		now:            now,
	}
}

// Tick выполняет один тик планировщика.
//
//  1. Захватывает до BatchSize узлов: pending с scheduled_at <= now
//     и claimed с истёкшей арендой
//  2. Выполняет их в пуле из Concurrency горутин
//  3. Ждёт завершения всех и возвращает сводку
//
// Узел, до которого очередь дошла после отмены ctx или слишком близко
// к истечению аренды, возвращается в pending без увеличения attempt
// (Summary.Released). Так аренда не истекает у узла, который ещё
// выполняется, и другой тик не запустит его повторно.
//
// Ошибка захвата возвращается как error, при этом ничего не изменено.
// Ошибки отдельных узлов не прерывают обработку остальных и
// учитываются в Summary.Errors.
func (s *Scheduler) Tick(ctx context.Context) (Summary, error) {
	var summary Summary

	now := s.now()
	token := uuid.New()

	claimed, err := s.claimer.ClaimBatch(ctx, repo.ClaimRequest{
		Token:       token,
		Now:         now,
		LeaseCutoff: now.Add(-s.leaseTimeout),
		Limit:       s.batchSize,
	})
	if err != nil {
		s.metrics.Tick("error")
		return summary, fmt.Errorf("claim batch: %w", err)
	}

	summary.Claimed = len(claimed)
	s.metrics.Claimed(len(claimed))

	if len(claimed) == 0 {
		s.metrics.Tick("empty")
		s.logger.Debug("tick: nothing to run")
		return summary, nil
	}

	s.logger.Debug("tick: claimed run nodes", "count", len(claimed), "token", token)

	// позже этого момента обработка может не уложиться в аренду
	startDeadline := now.Add(s.leaseTimeout - s.processTimeout)

	var mu sync.Mutex

	// Ошибки узлов не отменяют остальные, поэтому контекст группы не нужен
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for i := range claimed {
		rn := claimed[i]
		g.Go(func() error {
			var (
				outcome worker.Outcome
				err     error
			)
			if ctx.Err() != nil || s.now().After(startDeadline) {
				err = worker.ErrNotStarted
			} else {
				outcome, err = s.processor.ProcessClaimed(ctx, rn)
			}

			if errors.Is(err, worker.ErrNotStarted) {
				err = s.release(ctx, token, rn)

				mu.Lock()
				defer mu.Unlock()

				if err != nil {
					summary.Errors++
					s.logger.Error("failed to release run node",
						"run_id", rn.RunID,
						"run_node_id", rn.ID,
						"error", err,
					)
				} else {
					summary.Released++
				}
				return nil
			}

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				summary.Errors++
				s.logger.Error("failed to process run node",
					"run_id", rn.RunID,
					"run_node_id", rn.ID,
					"node_id", rn.NodeID,
					"error", err,
				)
				return nil
			}

			switch outcome {
			case worker.OutcomeSucceeded:
				summary.Succeeded++
			case worker.OutcomeFailed:
				summary.Failed++
			case worker.OutcomeRetried:
				summary.Retried++
			case worker.OutcomeDiscarded:
				summary.Discarded++
			}
			return nil
		})
	}

	_ = g.Wait()

	if summary.Errors > 0 {
		s.metrics.Tick("partial")
	} else {
		s.metrics.Tick("ok")
	}

	s.logger.Info("tick completed",
		"claimed", summary.Claimed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"retried", summary.Retried,
		"discarded", summary.Discarded,
		"released", summary.Released,
		"errors", summary.Errors,
	)

	return summary, nil
}

// release возвращает незапущенный узел в pending. Запись не зависит
// от отмены ctx тика.
func (s *Scheduler) release(ctx context.Context, token uuid.UUID, rn domain.RunNode) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	released, err := s.claimer.ReleaseClaim(ctx, rn.ID, token)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	if !released {
		s.logger.Warn("run node claim already lost", "run_node_id", rn.ID, "token", token)
		return nil
	}
	s.logger.Debug("run node released", "run_node_id", rn.ID)
	return nil
}
