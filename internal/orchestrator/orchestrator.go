package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/fanflow/internal/domain"
	"github.com/shaiso/fanflow/internal/engine"
	"github.com/shaiso/fanflow/internal/repo"
	"github.com/shaiso/fanflow/internal/telemetry"
)

// Store — операции хранилища, нужные оркестратору.
type Store interface {
	CreateFlow(ctx context.Context, flow *domain.Flow) error
	GetFlow(ctx context.Context, id uuid.UUID) (*domain.Flow, error)
	ListFlows(ctx context.Context, workspaceID *uuid.UUID) ([]domain.Flow, error)
	UpdateFlow(ctx context.Context, flow *domain.Flow) error
	SetFlowEnabled(ctx context.Context, id uuid.UUID, enabled bool) error

	CreateRun(ctx context.Context, run *domain.Run, nodes []domain.RunNode) error
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
	ListRunNodes(ctx context.Context, runID uuid.UUID) ([]domain.RunNode, error)
	CancelRun(ctx context.Context, id uuid.UUID, now time.Time) (*domain.Run, error)
}

// Catalog — реестр типов действий: валидация графов и задержки узлов.
type Catalog interface {
	engine.ActionCatalog
	Delay(node *domain.Node) (time.Duration, error)
}

// Notifier получает события завершения run.
type Notifier interface {
	RunFinished(ctx context.Context, run *domain.Run)
}

// Orchestrator управляет flows и runs.
type Orchestrator struct {
	store    Store
	catalog  Catalog
	notifier Notifier
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Config — конфигурация Orchestrator.
type Config struct {
	Store   Store
	Catalog Catalog

	// Notifier (опционально).
	Notifier Notifier

	// Metrics (опционально).
	Metrics *telemetry.Metrics

	Logger *slog.Logger

	// Now — источник времени (default: time.Now).
	Now func() time.Time
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		store:    cfg.Store,
		catalog:  cfg.Catalog,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		logger:   logger,
		now:      now,
	}
}

// StartRun запускает run flow по событию триггера.
//
//  1. Flow должен существовать и быть включён, узел — быть его триггером
//  2. Граф flow копируется в run: изменения flow не влияют на
//     уже запущенные runs
//  3. Trigger-узел записывается выполненным, следующие за ним узлы —
//     pending (с задержкой для узлов ожидания)
//  4. Всё создаётся одной транзакцией; активный run с тем же ключом
//     дедупликации даёт *domain.DuplicateRunError
//
// Триггер без исходящих рёбер даёт run, сразу завершённый как completed.
func (o *Orchestrator) StartRun(ctx context.Context, flowID uuid.UUID, triggerNodeID string, triggerContext map[string]any) (*domain.Run, error) {
	flow, err := o.store.GetFlow(ctx, flowID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, flowID)
		}
		return nil, fmt.Errorf("get flow: %w", err)
	}

	if !flow.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrFlowDisabled, flowID)
	}

	trigger, ok := flow.Graph.Node(triggerNodeID)
	if !ok || !trigger.IsTrigger() {
		return nil, fmt.Errorf("%w: %q", ErrNotTrigger, triggerNodeID)
	}

	if triggerContext == nil {
		triggerContext = make(map[string]any)
	}

	dedupeKey, err := engine.DedupeKey(flow.ID, triggerNodeID, triggerContext)
	if err != nil {
		return nil, fmt.Errorf("dedupe key: %w", err)
	}

	graph := engine.Compile(&flow.Graph)
	targets, err := graph.NextNodes(triggerNodeID, domain.Outcome{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}

	now := o.now().UTC()

	run := &domain.Run{
		ID:             uuid.New(),
		FlowID:         flow.ID,
		FlowVersion:    flow.Version,
		WorkspaceID:    flow.WorkspaceID,
		TriggerNodeID:  triggerNodeID,
		TriggerContext: triggerContext,
		Status:         domain.RunStatusActive,
		DedupeKey:      dedupeKey,
		Graph:          flow.Graph,
		StartedAt:      now,
		CreatedAt:      now,
	}

	triggerNode := domain.NewRunNode(run.ID, triggerNodeID, now)
	triggerNode.Status = domain.RunNodeStatusSucceeded
	triggerNode.Outcome = &domain.Outcome{Output: triggerContext}
	triggerNode.BranchEnd = len(targets) == 0
	triggerNode.FinishedAt = &now

	var delay engine.DelayFunc
	if o.catalog != nil {
		delay = o.catalog.Delay
	}

	nodes := append([]domain.RunNode{triggerNode}, engine.Frontier(graph, run.ID, targets, now, delay)...)

	// Все узлы уже завершены: пустая цепочка или ошибки конфигурации
	if status, finished := domain.RollupRunStatus(nodes); finished {
		run.MarkFinished(status, domain.FailureSummary(nodes), now)
	}

	if err := o.store.CreateRun(ctx, run, nodes); err != nil {
		var dup *domain.DuplicateRunError
		if errors.As(err, &dup) {
			o.metrics.RunDuplicate()
			o.logger.Info("duplicate run suppressed",
				"flow_id", flow.ID,
				"trigger_node_id", triggerNodeID,
				"existing_run_id", dup.ExistingRunID,
			)
			return nil, err
		}
		return nil, fmt.Errorf("create run: %w", err)
	}

	o.metrics.RunStarted()

	logger := telemetry.WithFlowID(o.logger, flow.ID.String())
	logger.Info("run started",
		"run_id", run.ID,
		"trigger_node_id", triggerNodeID,
		"flow_version", flow.Version,
		"next", len(targets),
	)

	if run.IsFinished() {
		o.finished(ctx, run)
	}

	return run, nil
}

// CancelRun отменяет активный run: открытые узлы становятся skipped,
// результаты выполняющихся узлов будут отброшены.
func (o *Orchestrator) CancelRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	run, err := o.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.IsFinished() {
		return nil, fmt.Errorf("%w: status %s", ErrRunFinished, run.Status)
	}

	canceled, err := o.store.CancelRun(ctx, runID, o.now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrInvalidState):
			return nil, fmt.Errorf("%w: %v", ErrRunFinished, err)
		case errors.Is(err, repo.ErrNotFound):
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("cancel run: %w", err)
	}

	o.logger.Info("run canceled", "run_id", runID)
	o.finished(ctx, canceled)

	return canceled, nil
}

// GetRun возвращает run.
func (o *Orchestrator) GetRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	return o.getRun(ctx, runID)
}

// ListRuns возвращает runs по фильтру.
func (o *Orchestrator) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	return o.store.ListRuns(ctx, filter)
}

// ListRunNodes возвращает узлы run в порядке создания.
func (o *Orchestrator) ListRunNodes(ctx context.Context, runID uuid.UUID) ([]domain.RunNode, error) {
	if _, err := o.getRun(ctx, runID); err != nil {
		return nil, err
	}
	return o.store.ListRunNodes(ctx, runID)
}

func (o *Orchestrator) getRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (o *Orchestrator) finished(ctx context.Context, run *domain.Run) {
	o.metrics.RunFinished(string(run.Status))
	if o.notifier != nil {
		o.notifier.RunFinished(ctx, run)
	}
}
