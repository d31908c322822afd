package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/shaiso/fanflow/internal/domain"
	"github.com/shaiso/fanflow/internal/engine"
	"github.com/shaiso/fanflow/internal/repo"
	"github.com/shaiso/fanflow/internal/telemetry"
)

// Default configuration values.
const (
	defaultExecutorTimeout = 30 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultGraphCacheTTL   = 10 * time.Minute
)

// Outcome — итог обработки захваченного узла.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeRetried   Outcome = "retried"

	// OutcomeDiscarded — результат не записан: run отменён или
	// аренда узла перехвачена другим вызовом.
	OutcomeDiscarded Outcome = "discarded"
)

// Store — операции хранилища, нужные диспетчеру.
type Store interface {
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	ApplyTransition(ctx context.Context, t repo.Transition) (repo.TransitionResult, error)
}

// Notifier получает события выполнения (например, для публикации в RabbitMQ).
type Notifier interface {
	RunNodeFailed(ctx context.Context, run *domain.Run, rn *domain.RunNode)
	RunFinished(ctx context.Context, run *domain.Run)
}

// Dispatcher выполняет один захваченный RunNode и записывает результат.
//
// Dispatcher не хранит состояния между вызовами, кроме кэша
// скомпилированных графов: граф run неизменен, поэтому кэш по run_id
// никогда не устаревает.
type Dispatcher struct {
	store    Store
	registry *Registry
	notifier Notifier
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	executorTimeout time.Duration
	writeTimeout    time.Duration
	graphs          *cache.Cache
	now             func() time.Time
}

// DispatcherConfig — конфигурация Dispatcher.
type DispatcherConfig struct {
	Store    Store
	Registry *Registry

	// Notifier (опционально).
	Notifier Notifier

	// Metrics (опционально).
	Metrics *telemetry.Metrics

	// ExecutorTimeout — таймаут одной попытки (default: 30s).
	ExecutorTimeout time.Duration

	// WriteTimeout — таймаут чтения run и записи перехода (default: 10s).
	// Запись перехода не зависит от отмены контекста вызова.
	WriteTimeout time.Duration

	// GraphCacheTTL — время жизни скомпилированного графа в кэше (default: 10m).
	GraphCacheTTL time.Duration

	// Now — источник времени (default: time.Now).
	Now func() time.Time

	Logger *slog.Logger
}

// NewDispatcher создаёт новый Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	timeout := cfg.ExecutorTimeout
	if timeout <= 0 {
		timeout = defaultExecutorTimeout
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	ttl := cfg.GraphCacheTTL
	if ttl <= 0 {
		ttl = defaultGraphCacheTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry(DefaultRetryPolicy())
	}

	return &Dispatcher{
		store:           cfg.Store,
		registry:        registry,
		notifier:        cfg.Notifier,
		metrics:         cfg.Metrics,
		logger:          logger,
		executorTimeout: timeout,
		writeTimeout:    writeTimeout,
		graphs:          cache.New(ttl, 2*ttl),
		now:             now,
	}
}

// Registry возвращает реестр executor'ов.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// MaxProcessingTime — верхняя граница длительности ProcessClaimed:
// чтение run, попытка executor'а и запись перехода.
func (d *Dispatcher) MaxProcessingTime() time.Duration {
	return d.executorTimeout + 2*d.writeTimeout
}

// ProcessClaimed выполняет захваченный узел и записывает результат.
//
// Ошибки executor'а не возвращаются как error: они превращаются
// в retry или failed. error означает, что результат не удалось
// записать в хранилище (узел останется claimed до истечения аренды).
// Если ctx завершился до вызова executor'а, возвращается ErrNotStarted.
func (d *Dispatcher) ProcessClaimed(ctx context.Context, rn domain.RunNode) (Outcome, error) {
	logger := telemetry.WithRunNode(d.logger, rn.RunID.String(), rn.ID.String(), rn.NodeID)
	ctx = telemetry.WithLogger(ctx, logger)

	if rn.ClaimedBy == nil {
		return "", fmt.Errorf("%w: run node %s is not claimed", repo.ErrInvalidState, rn.ID)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotStarted, err)
	}

	readCtx, cancel := context.WithTimeout(ctx, d.writeTimeout)
	run, err := d.store.GetRun(readCtx, rn.RunID)
	cancel()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %w", ErrNotStarted, ctxErr)
		}
		if errors.Is(err, repo.ErrNotFound) {
			logger.Warn("run not found, discarding run node")
			d.metrics.Outcome(string(OutcomeDiscarded))
			return OutcomeDiscarded, nil
		}
		return "", fmt.Errorf("get run: %w", err)
	}
	if run.Status != domain.RunStatusActive {
		logger.Info("run is not active, discarding run node", "run_status", run.Status)
		d.metrics.Outcome(string(OutcomeDiscarded))
		return OutcomeDiscarded, nil
	}

	graph := d.graph(run)

	node, ok := graph.Node(rn.NodeID)
	if !ok {
		return d.fail(ctx, logger, run, &rn, domain.ErrorKindConfig,
			fmt.Errorf("%w: %s", engine.ErrNodeNotFound, rn.NodeID))
	}
	if node.IsTrigger() {
		return d.fail(ctx, logger, run, &rn, domain.ErrorKindConfig,
			fmt.Errorf("%w: %s", ErrTriggerExecution, rn.NodeID))
	}

	executor, err := d.registry.Get(node.Type)
	if err != nil {
		return d.fail(ctx, logger, run, &rn, domain.ErrorKindConfig, err)
	}

	policy := d.registry.Policy(node.Type)
	if rn.Attempt >= policy.MaxAttempts {
		return d.fail(ctx, logger, run, &rn, domain.ErrorKindLease,
			fmt.Errorf("%w: attempt %d", ErrLeaseExhausted, rn.Attempt))
	}

	config, err := engine.RenderConfig(node.Config, engine.NewTemplateContext(run, node, rn.Attempt))
	if err != nil {
		return d.fail(ctx, logger, run, &rn, domain.ErrorKindConfig, err)
	}

	req := &Request{
		RunNodeID:      rn.ID,
		RunID:          run.ID,
		FlowID:         run.FlowID,
		WorkspaceID:    run.WorkspaceID,
		NodeID:         node.ID,
		ActionType:     node.Type,
		Config:         config,
		TriggerContext: run.TriggerContext,
		Attempt:        rn.Attempt,
	}

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotStarted, err)
	}

	logger.Debug("executing run node", "action_type", node.Type, "attempt", rn.Attempt)

	result := d.execute(ctx, executor, req)

	if result.Err != nil {
		if !result.Retryable {
			return d.fail(ctx, logger, run, &rn, domain.ErrorKindPermanent, result.Err)
		}

		now := d.now()
		next, retry := policy.NextAttempt(&rn, now)
		if !retry {
			return d.fail(ctx, logger, run, &rn, domain.ErrorKindTransient, result.Err)
		}

		return d.apply(ctx, logger, run, &rn, repo.Transition{
			RunNodeID:   rn.ID,
			RunID:       rn.RunID,
			Token:       *rn.ClaimedBy,
			Status:      domain.RunNodeStatusPending,
			Attempt:     rn.Attempt + 1,
			ScheduledAt: next,
			Error:       result.Err.Error(),
			ErrorKind:   domain.ErrorKindTransient,
			Now:         now,
		})
	}

	outcome := domain.Outcome{Bool: result.Bool, Output: result.Output}

	targets, err := graph.NextNodes(node.ID, outcome)
	if err != nil {
		return d.fail(ctx, logger, run, &rn, domain.ErrorKindConfig, err)
	}

	now := d.now()
	seeds := engine.Frontier(graph, run.ID, targets, now, d.registry.Delay)

	return d.apply(ctx, logger, run, &rn, repo.Transition{
		RunNodeID: rn.ID,
		RunID:     rn.RunID,
		Token:     *rn.ClaimedBy,
		Status:    domain.RunNodeStatusSucceeded,
		Outcome:   &outcome,
		BranchEnd: len(targets) == 0,
		Next:      seeds,
		Now:       now,
	})
}

// execute вызывает executor с таймаутом. Паника executor'а считается
// временной ошибкой.
func (d *Dispatcher) execute(ctx context.Context, executor Executor, req *Request) (result Result) {
	ctx, cancel := context.WithTimeout(ctx, d.executorTimeout)
	defer cancel()

	started := time.Now()
	defer func() {
		d.metrics.ObserveExecutor(req.ActionType, time.Since(started))
	}()

	defer func() {
		if r := recover(); r != nil {
			result = Transient(fmt.Errorf("%w: %v", ErrExecutorPanic, r))
		}
	}()

	return executor.Execute(ctx, req)
}

// fail записывает окончательную ошибку узла.
func (d *Dispatcher) fail(ctx context.Context, logger *slog.Logger, run *domain.Run, rn *domain.RunNode, kind domain.ErrorKind, cause error) (Outcome, error) {
	return d.apply(ctx, logger, run, rn, repo.Transition{
		RunNodeID: rn.ID,
		RunID:     rn.RunID,
		Token:     *rn.ClaimedBy,
		Status:    domain.RunNodeStatusFailed,
		Error:     cause.Error(),
		ErrorKind: kind,
		Now:       d.now(),
	})
}

// apply записывает переход и публикует события. Отмена ctx вызова
// не прерывает запись: иначе узел остался бы claimed до истечения аренды.
func (d *Dispatcher) apply(ctx context.Context, logger *slog.Logger, run *domain.Run, rn *domain.RunNode, t repo.Transition) (Outcome, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.writeTimeout)
	defer cancel()

	res, err := d.store.ApplyTransition(ctx, t)
	if err != nil {
		return "", fmt.Errorf("apply transition: %w", err)
	}

	if !res.Applied {
		logger.Info("run node outcome discarded", "run_status", res.RunStatus)
		d.metrics.Outcome(string(OutcomeDiscarded))
		return OutcomeDiscarded, nil
	}

	var outcome Outcome
	switch t.Status {
	case domain.RunNodeStatusSucceeded:
		outcome = OutcomeSucceeded
		logger.Info("run node succeeded", "next", len(t.Next), "inserted", res.Inserted)
		if res.Conflicts > 0 {
			logger.Warn("next run nodes skipped: node already open in run", "conflicts", res.Conflicts)
		}
		for i := range t.Next {
			if t.Next[i].Status == domain.RunNodeStatusFailed {
				logger.Warn("next run node failed on schedule",
					"next_node_id", t.Next[i].NodeID, "error", t.Next[i].LastError)
			}
		}

	case domain.RunNodeStatusPending:
		outcome = OutcomeRetried
		logger.Warn("run node will be retried",
			"attempt", t.Attempt,
			"scheduled_at", t.ScheduledAt,
			"error", t.Error,
		)

	default:
		outcome = OutcomeFailed
		logger.Warn("run node failed", "error_kind", t.ErrorKind, "error", t.Error)
		if d.notifier != nil {
			failed := *rn
			failed.Status = domain.RunNodeStatusFailed
			failed.LastError = t.Error
			failed.ErrorKind = t.ErrorKind
			d.notifier.RunNodeFailed(ctx, run, &failed)
		}
	}

	d.metrics.Outcome(string(outcome))

	if res.RunFinished {
		logger.Info("run finished", "status", res.RunStatus)
		d.metrics.RunFinished(string(res.RunStatus))
		if d.notifier != nil {
			finished, err := d.store.GetRun(ctx, run.ID)
			if err != nil {
				logger.Warn("failed to reload finished run", "error", err)
				finished = run
				finished.MarkFinished(res.RunStatus, run.Error, t.Now)
			}
			d.notifier.RunFinished(ctx, finished)
		}
	}

	return outcome, nil
}

// graph возвращает скомпилированный граф run из кэша.
func (d *Dispatcher) graph(run *domain.Run) *engine.Graph {
	key := run.ID.String()
	if g, ok := d.graphs.Get(key); ok {
		return g.(*engine.Graph)
	}
	g := engine.Compile(&run.Graph)
	d.graphs.SetDefault(key, g)
	return g
}
