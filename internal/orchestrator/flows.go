package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/fanflow/internal/domain"
	"github.com/shaiso/fanflow/internal/engine"
	"github.com/shaiso/fanflow/internal/repo"
)

// CreateFlow валидирует граф и сохраняет новый flow (версия 1).
func (o *Orchestrator) CreateFlow(ctx context.Context, flow *domain.Flow) error {
	if err := engine.Validate(&flow.Graph, o.catalog); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	now := o.now().UTC()
	if flow.ID == uuid.Nil {
		flow.ID = uuid.New()
	}
	flow.Version = 1
	flow.CreatedAt = now
	flow.UpdatedAt = now

	if err := o.store.CreateFlow(ctx, flow); err != nil {
		return fmt.Errorf("create flow: %w", err)
	}

	o.logger.Info("flow created",
		"flow_id", flow.ID,
		"workspace_id", flow.WorkspaceID,
		"nodes", len(flow.Graph.Nodes),
	)
	return nil
}

// UpdateFlow сохраняет новую версию графа. Запущенные runs продолжают
// выполняться по своему снимку.
func (o *Orchestrator) UpdateFlow(ctx context.Context, flow *domain.Flow) error {
	if err := engine.Validate(&flow.Graph, o.catalog); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	if err := o.store.UpdateFlow(ctx, flow); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrFlowNotFound, flow.ID)
		}
		return fmt.Errorf("update flow: %w", err)
	}

	o.logger.Info("flow updated", "flow_id", flow.ID, "version", flow.Version)
	return nil
}

// SetFlowEnabled включает или выключает flow.
func (o *Orchestrator) SetFlowEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*domain.Flow, error) {
	if err := o.store.SetFlowEnabled(ctx, id, enabled); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
		}
		return nil, fmt.Errorf("set flow enabled: %w", err)
	}

	o.logger.Info("flow enabled changed", "flow_id", id, "enabled", enabled)
	return o.GetFlow(ctx, id)
}

// GetFlow возвращает flow с графом.
func (o *Orchestrator) GetFlow(ctx context.Context, id uuid.UUID) (*domain.Flow, error) {
	flow, err := o.store.GetFlow(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
		}
		return nil, fmt.Errorf("get flow: %w", err)
	}
	return flow, nil
}

// ListFlows возвращает flows рабочего пространства (nil — все).
func (o *Orchestrator) ListFlows(ctx context.Context, workspaceID *uuid.UUID) ([]domain.Flow, error) {
	return o.store.ListFlows(ctx, workspaceID)
}
