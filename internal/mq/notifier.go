package mq

import (
	"context"
	"log/slog"

	"github.com/shaiso/fanflow/internal/domain"
)

// JSONPublisher публикует произвольный payload.
type JSONPublisher interface {
	PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error
}

// EventNotifier публикует события выполнения в fanflow.events.
//
// Ошибки публикации только логируются: события носят
// информационный характер и не влияют на состояние run.
type EventNotifier struct {
	publisher JSONPublisher
	logger    *slog.Logger
}

// NewEventNotifier создаёт EventNotifier.
func NewEventNotifier(publisher JSONPublisher, logger *slog.Logger) *EventNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventNotifier{publisher: publisher, logger: logger}
}

// RunFinished публикует run.finished.
func (n *EventNotifier) RunFinished(ctx context.Context, run *domain.Run) {
	payload := RunFinishedPayload{
		RunID:       run.ID,
		FlowID:      run.FlowID,
		WorkspaceID: run.WorkspaceID,
		Status:      string(run.Status),
		Error:       run.Error,
		EndedAt:     run.EndedAt,
	}

	err := n.publisher.PublishJSON(ctx, ExchangeEvents, RoutingKeyRunFinished, MessageTypeRunFinished, payload)
	if err != nil {
		n.logger.Warn("failed to publish run finished event", "run_id", run.ID, "error", err)
	}
}

// RunNodeFailed публикует run_node.failed.
func (n *EventNotifier) RunNodeFailed(ctx context.Context, run *domain.Run, rn *domain.RunNode) {
	payload := RunNodeFailedPayload{
		RunID:       run.ID,
		RunNodeID:   rn.ID,
		FlowID:      run.FlowID,
		WorkspaceID: run.WorkspaceID,
		NodeID:      rn.NodeID,
		ErrorKind:   string(rn.ErrorKind),
		Error:       rn.LastError,
		Attempt:     rn.Attempt,
	}

	err := n.publisher.PublishJSON(ctx, ExchangeEvents, RoutingKeyRunNodeFailed, MessageTypeRunNodeFailed, payload)
	if err != nil {
		n.logger.Warn("failed to publish run node failed event",
			"run_id", run.ID, "run_node_id", rn.ID, "error", err)
	}
}
