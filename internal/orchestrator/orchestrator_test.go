package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/fanflow/internal/domain"
	"github.com/shaiso/fanflow/internal/engine"
	"github.com/shaiso/fanflow/internal/mq"
	"github.com/shaiso/fanflow/internal/repo"
	"github.com/shaiso/fanflow/internal/repo/memstore"
	"github.com/shaiso/fanflow/internal/worker"
)

var testNow = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	o := New(Config{
		Store:   store,
		Catalog: worker.NewDefaultRegistry(worker.DefaultRetryPolicy(), worker.Dependencies{}),
		Now:     func() time.Time { return testNow },
	})
	return o, store
}

func trigger(id string) domain.Node {
	return domain.Node{ID: id, Kind: domain.NodeKindTrigger, Type: "fan_joined"}
}

func action(id, typ string, config map[string]any) domain.Node {
	return domain.Node{ID: id, Kind: domain.NodeKindAction, Type: typ, Config: config}
}

func edge(from, to string) domain.Edge {
	return domain.Edge{From: from, To: to, Kind: domain.EdgeKindSimple}
}

func createFlow(t *testing.T, o *Orchestrator, graph domain.Graph) *domain.Flow {
	t.Helper()
	flow := &domain.Flow{
		WorkspaceID: uuid.New(),
		Name:        "welcome",
		Enabled:     true,
		Graph:       graph,
	}
	if err := o.CreateFlow(context.Background(), flow); err != nil {
		t.Fatalf("create flow: %v", err)
	}
	return flow
}

// T → B, T → C, B → D
func fanOutGraph() domain.Graph {
	return domain.Graph{
		Nodes: []domain.Node{
			trigger("T"),
			action("B", worker.ActionHTTPRequest, map[string]any{"url": "http://example.com"}),
			action("C", worker.ActionHTTPRequest, map[string]any{"url": "http://example.com"}),
			action("D", worker.ActionHTTPRequest, map[string]any{"url": "http://example.com"}),
		},
		Edges: []domain.Edge{edge("T", "B"), edge("T", "C"), edge("B", "D")},
	}
}

func nodesByID(t *testing.T, store *memstore.Store, runID uuid.UUID) map[string]domain.RunNode {
	t.Helper()
	nodes, err := store.ListRunNodes(context.Background(), runID)
	if err != nil {
		t.Fatalf("list run nodes: %v", err)
	}
	res := make(map[string]domain.RunNode, len(nodes))
	for _, n := range nodes {
		res[n.NodeID] = n
	}
	return res
}

func TestStartRun_Frontier(t *testing.T) {
	o, store := newTestOrchestrator(t)
	flow := createFlow(t, o, fanOutGraph())

	run, err := o.StartRun(context.Background(), flow.ID, "T", map[string]any{"fanId": "fan-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Status != domain.RunStatusActive {
		t.Errorf("expected active run, got %s", run.Status)
	}
	if run.FlowVersion != 1 {
		t.Errorf("expected flow version 1, got %d", run.FlowVersion)
	}
	if len(run.Graph.Nodes) != 4 {
		t.Errorf("run must carry graph snapshot, got %d nodes", len(run.Graph.Nodes))
	}

	nodes := nodesByID(t, store, run.ID)
	if len(nodes) != 3 {
		t.Fatalf("expected T, B, C; got %v", nodes)
	}
	if nodes["T"].Status != domain.RunNodeStatusSucceeded {
		t.Errorf("trigger node must be succeeded, got %s", nodes["T"].Status)
	}
	for _, id := range []string{"B", "C"} {
		n, ok := nodes[id]
		if !ok {
			t.Fatalf("expected run node for %s", id)
		}
		if n.Status != domain.RunNodeStatusPending {
			t.Errorf("%s: expected pending, got %s", id, n.Status)
		}
		if !n.ScheduledAt.Equal(testNow) {
			t.Errorf("%s: expected scheduled now, got %v", id, n.ScheduledAt)
		}
	}
	if _, ok := nodes["D"]; ok {
		t.Error("D must not be scheduled before B succeeds")
	}
}

func TestStartRun_Dedupe(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	flow := createFlow(t, o, fanOutGraph())
	ctx := context.Background()

	first, err := o.StartRun(ctx, flow.ID, "T", map[string]any{"fanId": "fan-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = o.StartRun(ctx, flow.ID, "T", map[string]any{"fanId": "fan-1"})
	var dup *domain.DuplicateRunError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateRunError, got %v", err)
	}
	if dup.ExistingRunID != first.ID {
		t.Errorf("expected existing run %s, got %s", first.ID, dup.ExistingRunID)
	}

	if _, err := o.StartRun(ctx, flow.ID, "T", map[string]any{"fanId": "fan-2"}); err != nil {
		t.Errorf("different context must start a new run: %v", err)
	}

	if _, err := o.CancelRun(ctx, first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := o.StartRun(ctx, flow.ID, "T", map[string]any{"fanId": "fan-1"}); err != nil {
		t.Errorf("finished run must not block a new one: %v", err)
	}
}

func TestStartRun_TriggerWithoutEdges(t *testing.T) {
	o, store := newTestOrchestrator(t)
	flow := createFlow(t, o, domain.Graph{Nodes: []domain.Node{trigger("T")}})

	run, err := o.StartRun(context.Background(), flow.ID, "T", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunStatusCompleted {
		t.Errorf("expected completed, got %s", run.Status)
	}
	if run.EndedAt == nil {
		t.Error("EndedAt must be set")
	}

	nodes := nodesByID(t, store, run.ID)
	if !nodes["T"].BranchEnd {
		t.Error("trigger without edges ends its branch")
	}
}

func TestStartRun_WaitIsDeferred(t *testing.T) {
	o, store := newTestOrchestrator(t)
	flow := createFlow(t, o, domain.Graph{
		Nodes: []domain.Node{trigger("T"), action("W", worker.ActionWait, map[string]any{"duration": "24h"})},
		Edges: []domain.Edge{edge("T", "W")},
	})

	run, err := o.StartRun(context.Background(), flow.ID, "T", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := nodesByID(t, store, run.ID)["W"]
	if !w.ScheduledAt.Equal(testNow.Add(24 * time.Hour)) {
		t.Errorf("expected wait scheduled in 24h, got %v", w.ScheduledAt)
	}

	view, err := o.GetRunStatus(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if view.DisplayStatus != domain.RunStatusWaiting {
		t.Errorf("expected waiting display status, got %s", view.DisplayStatus)
	}
	if view.Run.Status != domain.RunStatusActive {
		t.Errorf("stored status must stay active, got %s", view.Run.Status)
	}
}

func TestStartRun_Errors(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	flow := createFlow(t, o, fanOutGraph())
	ctx := context.Background()

	if _, err := o.StartRun(ctx, uuid.New(), "T", nil); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("expected ErrFlowNotFound, got %v", err)
	}
	if _, err := o.StartRun(ctx, flow.ID, "B", nil); !errors.Is(err, ErrNotTrigger) {
		t.Errorf("expected ErrNotTrigger for action node, got %v", err)
	}
	if _, err := o.StartRun(ctx, flow.ID, "missing", nil); !errors.Is(err, ErrNotTrigger) {
		t.Errorf("expected ErrNotTrigger for missing node, got %v", err)
	}

	if _, err := o.SetFlowEnabled(ctx, flow.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := o.StartRun(ctx, flow.ID, "T", nil); !errors.Is(err, ErrFlowDisabled) {
		t.Errorf("expected ErrFlowDisabled, got %v", err)
	}
}

func TestCancelRun(t *testing.T) {
	o, store := newTestOrchestrator(t)
	flow := createFlow(t, o, fanOutGraph())
	ctx := context.Background()

	run, err := o.StartRun(ctx, flow.ID, "T", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	canceled, err := o.CancelRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != domain.RunStatusCanceled {
		t.Errorf("expected canceled, got %s", canceled.Status)
	}

	for id, n := range nodesByID(t, store, run.ID) {
		if id == "T" {
			continue
		}
		if n.Status != domain.RunNodeStatusSkipped {
			t.Errorf("%s: expected skipped, got %s", id, n.Status)
		}
	}

	if _, err := o.CancelRun(ctx, run.ID); !errors.Is(err, ErrRunFinished) {
		t.Errorf("expected ErrRunFinished, got %v", err)
	}
	if _, err := o.CancelRun(ctx, uuid.New()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestCreateFlow_InvalidGraph(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	flow := &domain.Flow{
		WorkspaceID: uuid.New(),
		Name:        "broken",
		Graph: domain.Graph{
			Nodes: []domain.Node{trigger("T"), action("A", "teleport", nil)},
			Edges: []domain.Edge{edge("T", "A")},
		},
	}

	err := o.CreateFlow(context.Background(), flow)
	if !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected ErrInvalidGraph, got %v", err)
	}
	if !errors.Is(err, engine.ErrUnknownActionType) {
		t.Errorf("expected ErrUnknownActionType, got %v", err)
	}
}

func TestUpdateFlow_BumpsVersion(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	flow := createFlow(t, o, fanOutGraph())
	ctx := context.Background()

	run, err := o.StartRun(ctx, flow.ID, "T", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	flow.Graph = domain.Graph{Nodes: []domain.Node{trigger("T")}}
	if err := o.UpdateFlow(ctx, flow); err != nil {
		t.Fatalf("update: %v", err)
	}
	if flow.Version != 2 {
		t.Errorf("expected version 2, got %d", flow.Version)
	}

	// снимок графа запущенного run не меняется
	stored, err := o.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if len(stored.Graph.Nodes) != 4 {
		t.Errorf("run graph snapshot changed: %d nodes", len(stored.Graph.Nodes))
	}
}

func TestBuildRunStatusView(t *testing.T) {
	run := &domain.Run{ID: uuid.New(), Status: domain.RunStatusActive}
	later := testNow.Add(time.Hour)

	nodes := []domain.RunNode{
		{NodeID: "T", Status: domain.RunNodeStatusSucceeded},
		{NodeID: "A", Status: domain.RunNodeStatusSucceeded, BranchEnd: true},
		{NodeID: "B", Status: domain.RunNodeStatusFailed, ErrorKind: domain.ErrorKindPermanent, LastError: "rejected"},
		{NodeID: "C", Status: domain.RunNodeStatusPending, ScheduledAt: later},
	}

	view := BuildRunStatusView(run, nodes, testNow)
	if view.DisplayStatus != domain.RunStatusWaiting {
		t.Errorf("expected waiting, got %s", view.DisplayStatus)
	}
	if view.Summary.Succeeded != 2 || view.Summary.Failed != 1 || view.Summary.Pending != 1 {
		t.Errorf("unexpected summary %+v", view.Summary)
	}
	if view.Summary.BranchesCompleted != 1 {
		t.Errorf("expected 1 completed branch, got %d", view.Summary.BranchesCompleted)
	}
	if len(view.Summary.FailedNodes) != 1 || view.Summary.FailedNodes[0].NodeID != "B" {
		t.Errorf("unexpected failed nodes %+v", view.Summary.FailedNodes)
	}

	// пора выполнять — уже не waiting
	view = BuildRunStatusView(run, nodes, later)
	if view.DisplayStatus != domain.RunStatusActive {
		t.Errorf("expected active, got %s", view.DisplayStatus)
	}

	// claimed узел выполняется — не waiting
	nodes[3].Status = domain.RunNodeStatusClaimed
	view = BuildRunStatusView(run, nodes, testNow)
	if view.DisplayStatus != domain.RunStatusActive {
		t.Errorf("expected active, got %s", view.DisplayStatus)
	}
}

func triggerDelivery(payload any) *mq.Delivery {
	return &mq.Delivery{Message: mq.Message{
		ID:      uuid.NewString(),
		Type:    mq.MessageTypeTriggerFired,
		Payload: payload,
	}}
}

func TestHandleTriggerFired(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	flow := createFlow(t, o, fanOutGraph())
	ctx := context.Background()

	payload := mq.TriggerFiredPayload{
		FlowID:        flow.ID,
		TriggerNodeID: "T",
		Context:       map[string]any{"fanId": "fan-9"},
	}

	if err := o.HandleTriggerFired(ctx, triggerDelivery(payload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// повторное событие подтверждается без нового run
	if err := o.HandleTriggerFired(ctx, triggerDelivery(payload)); err != nil {
		t.Errorf("duplicate must be acked, got %v", err)
	}

	runs, err := o.ListRuns(ctx, repo.RunFilter{FlowID: &flow.ID})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}

	unknown := payload
	unknown.FlowID = uuid.New()
	if err := o.HandleTriggerFired(ctx, triggerDelivery(unknown)); !errors.Is(err, mq.ErrRejected) {
		t.Errorf("unknown flow must be rejected, got %v", err)
	}

	wrongType := triggerDelivery(payload)
	wrongType.Message.Type = mq.MessageTypeEmail
	if err := o.HandleTriggerFired(ctx, wrongType); !errors.Is(err, mq.ErrRejected) {
		t.Errorf("unexpected type must be rejected, got %v", err)
	}
}
