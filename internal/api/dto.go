package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/fanflow/internal/domain"
	"github.com/shaiso/fanflow/internal/orchestrator"
)

// Flow DTOs

// GraphDTO — граф flow в запросе.
type GraphDTO struct {
	Nodes []NodeDTO `json:"nodes" validate:"required,min=1,dive"`
	Edges []EdgeDTO `json:"edges" validate:"dive"`
}

// NodeDTO — узел графа в запросе.
type NodeDTO struct {
	ID     string         `json:"id" validate:"required,max=100"`
	Kind   string         `json:"kind" validate:"required,oneof=trigger action"`
	Type   string         `json:"type" validate:"required,max=100"`
	Name   string         `json:"name,omitempty" validate:"max=200"`
	Config map[string]any `json:"config,omitempty"`
}

// EdgeDTO — ребро графа в запросе.
type EdgeDTO struct {
	From     string `json:"from" validate:"required"`
	To       string `json:"to" validate:"required"`
	Kind     string `json:"kind" validate:"required,oneof=simple boolean"`
	Expected *bool  `json:"expected,omitempty" validate:"required_if=Kind boolean"`
}

// CreateFlowRequest — запрос на создание flow.
type CreateFlowRequest struct {
	WorkspaceID string   `json:"workspace_id" validate:"required,uuid"`
	Name        string   `json:"name" validate:"required,max=200"`
	Enabled     bool     `json:"enabled"`
	Graph       GraphDTO `json:"graph"`
}

// UpdateFlowRequest — запрос на сохранение новой версии flow.
type UpdateFlowRequest struct {
	Name  string   `json:"name" validate:"required,max=200"`
	Graph GraphDTO `json:"graph"`
}

// SetFlowEnabledRequest — запрос на включение/выключение flow.
type SetFlowEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// FlowResponse — ответ с flow.
type FlowResponse struct {
	ID          uuid.UUID    `json:"id"`
	WorkspaceID uuid.UUID    `json:"workspace_id"`
	Name        string       `json:"name"`
	Version     int          `json:"version"`
	Enabled     bool         `json:"enabled"`
	Graph       domain.Graph `json:"graph"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ToDomain конвертирует GraphDTO в domain.Graph.
func (g GraphDTO) ToDomain() domain.Graph {
	graph := domain.Graph{
		Nodes: make([]domain.Node, len(g.Nodes)),
		Edges: make([]domain.Edge, len(g.Edges)),
	}
	for i, n := range g.Nodes {
		graph.Nodes[i] = domain.Node{
			ID:     n.ID,
			Kind:   domain.NodeKind(n.Kind),
			Type:   n.Type,
			Name:   n.Name,
			Config: n.Config,
		}
	}
	for i, e := range g.Edges {
		graph.Edges[i] = domain.Edge{
			From:     e.From,
			To:       e.To,
			Kind:     domain.EdgeKind(e.Kind),
			Expected: e.Expected,
		}
	}
	return graph
}

// FlowFromDomain конвертирует domain.Flow в FlowResponse.
func FlowFromDomain(f domain.Flow) FlowResponse {
	return FlowResponse{
		ID:          f.ID,
		WorkspaceID: f.WorkspaceID,
		Name:        f.Name,
		Version:     f.Version,
		Enabled:     f.Enabled,
		Graph:       f.Graph,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

// Run DTOs

// StartRunRequest — ручной запуск run (срабатывание триггера).
type StartRunRequest struct {
	TriggerNodeID string         `json:"trigger_node_id" validate:"required"`
	Context       map[string]any `json:"context,omitempty"`
}

// RunResponse — ответ с run (без снимка графа).
type RunResponse struct {
	ID             uuid.UUID        `json:"id"`
	FlowID         uuid.UUID        `json:"flow_id"`
	FlowVersion    int              `json:"flow_version"`
	WorkspaceID    uuid.UUID        `json:"workspace_id"`
	TriggerNodeID  string           `json:"trigger_node_id"`
	TriggerContext map[string]any   `json:"trigger_context,omitempty"`
	Status         domain.RunStatus `json:"status"`
	Error          string           `json:"error,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	EndedAt        *time.Time       `json:"ended_at,omitempty"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:             r.ID,
		FlowID:         r.FlowID,
		FlowVersion:    r.FlowVersion,
		WorkspaceID:    r.WorkspaceID,
		TriggerNodeID:  r.TriggerNodeID,
		TriggerContext: r.TriggerContext,
		Status:         r.Status,
		Error:          r.Error,
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
	}
}

// RunStatusResponse — run, его узлы и сводка.
type RunStatusResponse struct {
	Run           RunResponse             `json:"run"`
	DisplayStatus domain.RunStatus        `json:"display_status"`
	Summary       orchestrator.RunSummary `json:"summary"`
	Nodes         []domain.RunNode        `json:"nodes"`
}

// RunStatusFromView конвертирует RunStatusView в RunStatusResponse.
func RunStatusFromView(v *orchestrator.RunStatusView) RunStatusResponse {
	nodes := v.Nodes
	if nodes == nil {
		nodes = []domain.RunNode{}
	}
	return RunStatusResponse{
		Run:           RunFromDomain(*v.Run),
		DisplayStatus: v.DisplayStatus,
		Summary:       v.Summary,
		Nodes:         nodes,
	}
}
