package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/fanflow/internal/domain"
)

// FailedNode — упавший узел в сводке run.
type FailedNode struct {
	NodeID    string           `json:"node_id"`
	ErrorKind domain.ErrorKind `json:"error_kind"`
	Error     string           `json:"error"`
	Attempt   int              `json:"attempt"`
}

// RunSummary — сводка по узлам run.
type RunSummary struct {
	Pending   int `json:"pending"`
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	// BranchesCompleted — сколько веток дошло до конца.
	BranchesCompleted int `json:"branches_completed"`

	FailedNodes []FailedNode `json:"failed_nodes"`
}

// RunStatusView — состояние run для администратора.
type RunStatusView struct {
	Run   *domain.Run      `json:"run"`
	Nodes []domain.RunNode `json:"nodes"`

	// DisplayStatus совпадает с Run.Status, кроме одного случая:
	// active run, все открытые узлы которого запланированы на будущее,
	// показывается как waiting.
	DisplayStatus domain.RunStatus `json:"display_status"`

	Summary RunSummary `json:"summary"`
}

// GetRunStatus возвращает run, его узлы и сводку.
func (o *Orchestrator) GetRunStatus(ctx context.Context, runID uuid.UUID) (*RunStatusView, error) {
	run, err := o.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	nodes, err := o.store.ListRunNodes(ctx, runID)
	if err != nil {
		return nil, err
	}

	return BuildRunStatusView(run, nodes, o.now()), nil
}

// BuildRunStatusView собирает RunStatusView на момент now.
func BuildRunStatusView(run *domain.Run, nodes []domain.RunNode, now time.Time) *RunStatusView {
	view := &RunStatusView{
		Run:           run,
		Nodes:         nodes,
		DisplayStatus: run.Status,
	}
	view.Summary.FailedNodes = make([]FailedNode, 0)

	open := 0
	deferred := 0

	for i := range nodes {
		n := &nodes[i]
		switch n.Status {
		case domain.RunNodeStatusPending:
			view.Summary.Pending++
			open++
			if n.ScheduledAt.After(now) {
				deferred++
			}
		case domain.RunNodeStatusClaimed:
			view.Summary.Claimed++
			open++
		case domain.RunNodeStatusSucceeded:
			view.Summary.Succeeded++
			if n.BranchEnd {
				view.Summary.BranchesCompleted++
			}
		case domain.RunNodeStatusFailed:
			view.Summary.Failed++
			view.Summary.FailedNodes = append(view.Summary.FailedNodes, FailedNode{
				NodeID:    n.NodeID,
				ErrorKind: n.ErrorKind,
				Error:     n.LastError,
				Attempt:   n.Attempt,
			})
		case domain.RunNodeStatusSkipped:
			view.Summary.Skipped++
		}
	}

	sort.Slice(view.Summary.FailedNodes, func(i, j int) bool {
		return view.Summary.FailedNodes[i].NodeID < view.Summary.FailedNodes[j].NodeID
	})

	if run.Status == domain.RunStatusActive && open > 0 && open == deferred {
		view.DisplayStatus = domain.RunStatusWaiting
	}

	return view
}
