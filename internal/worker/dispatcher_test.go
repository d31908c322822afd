package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/fanflow/internal/domain"
	"github.com/shaiso/fanflow/internal/engine"
	"github.com/shaiso/fanflow/internal/repo"
	"github.com/shaiso/fanflow/internal/repo/memstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingNotifier struct {
	mu       sync.Mutex
	finished []*domain.Run
	failed   []*domain.RunNode
}

func (n *recordingNotifier) RunFinished(_ context.Context, run *domain.Run) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = append(n.finished, run)
}

func (n *recordingNotifier) RunNodeFailed(_ context.Context, _ *domain.Run, rn *domain.RunNode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, rn)
}

var testStart = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	store    *memstore.Store
	disp     *Dispatcher
	clock    *fakeClock
	notifier *recordingNotifier
	registry *Registry
}

func newHarness(t *testing.T, registry *Registry) *harness {
	t.Helper()
	h := &harness{
		store:    memstore.New(),
		clock:    &fakeClock{now: testStart},
		notifier: &recordingNotifier{},
		registry: registry,
	}
	h.disp = NewDispatcher(DispatcherConfig{
		Store:    h.store,
		Registry: registry,
		Notifier: h.notifier,
		Now:      h.clock.Now,
	})
	return h
}

// startRun создаёт run: trigger "T" выполнен, первые узлы запланированы.
func (h *harness) startRun(t *testing.T, graph domain.Graph) *domain.Run {
	t.Helper()
	ctx := context.Background()
	now := h.clock.Now()

	run := &domain.Run{
		ID:             uuid.New(),
		FlowID:         uuid.New(),
		WorkspaceID:    uuid.New(),
		TriggerNodeID:  "T",
		TriggerContext: map[string]any{"fanId": "fan-1"},
		Status:         domain.RunStatusActive,
		DedupeKey:      uuid.NewString(),
		Graph:          graph,
		StartedAt:      now,
		CreatedAt:      now,
	}

	g := engine.Compile(&graph)
	targets, err := g.NextNodes("T", domain.Outcome{})
	require.NoError(t, err)

	trigger := domain.NewRunNode(run.ID, "T", now)
	trigger.Status = domain.RunNodeStatusSucceeded
	trigger.FinishedAt = &now

	nodes := append([]domain.RunNode{trigger}, engine.Frontier(g, run.ID, targets, now, h.registry.Delay)...)
	require.NoError(t, h.store.CreateRun(ctx, run, nodes))
	return run
}

func (h *harness) claim(t *testing.T) []domain.RunNode {
	t.Helper()
	claimed, err := h.store.ClaimBatch(context.Background(), repo.ClaimRequest{
		Token: uuid.New(),
		Now:   h.clock.Now(),
		Limit: 100,
	})
	require.NoError(t, err)
	return claimed
}

// drain выполняет все доступные узлы, пока они есть.
func (h *harness) drain(t *testing.T) map[Outcome]int {
	t.Helper()
	outcomes := make(map[Outcome]int)
	for {
		claimed := h.claim(t)
		if len(claimed) == 0 {
			return outcomes
		}
		for _, rn := range claimed {
			out, err := h.disp.ProcessClaimed(context.Background(), rn)
			require.NoError(t, err)
			outcomes[out]++
		}
	}
}

func (h *harness) node(t *testing.T, runID uuid.UUID, nodeID string) []domain.RunNode {
	t.Helper()
	nodes, err := h.store.ListRunNodes(context.Background(), runID)
	require.NoError(t, err)
	var res []domain.RunNode
	for _, n := range nodes {
		if n.NodeID == nodeID {
			res = append(res, n)
		}
	}
	return res
}

func (h *harness) run(t *testing.T, id uuid.UUID) *domain.Run {
	t.Helper()
	run, err := h.store.GetRun(context.Background(), id)
	require.NoError(t, err)
	return run
}

func trig(id string) domain.Node {
	return domain.Node{ID: id, Kind: domain.NodeKindTrigger, Type: "fan_joined"}
}

func act(id, typ string, config map[string]any) domain.Node {
	return domain.Node{ID: id, Kind: domain.NodeKindAction, Type: typ, Config: config}
}

func link(from, to string) domain.Edge {
	return domain.Edge{From: from, To: to, Kind: domain.EdgeKindSimple}
}

func when(from, to string, value bool) domain.Edge {
	return domain.Edge{From: from, To: to, Kind: domain.EdgeKindBoolean, Expected: domain.BoolPtr(value)}
}

func okExecutor() Executor {
	return ExecutorFunc(func(context.Context, *Request) Result {
		return Succeeded(map[string]any{"ok": true})
	})
}

func failingExecutor(retryable bool) Executor {
	return ExecutorFunc(func(context.Context, *Request) Result {
		if retryable {
			return Transient(errors.New("upstream unavailable"))
		}
		return Permanent(errors.New("rejected"))
	})
}

func TestProcessClaimed_SuccessSchedulesNext(t *testing.T) {
	reg := NewRegistry(DefaultRetryPolicy())
	reg.Register("step", okExecutor())
	h := newHarness(t, reg)

	run := h.startRun(t, domain.Graph{
		Nodes: []domain.Node{trig("T"), act("A", "step", nil), act("B", "step", nil)},
		Edges: []domain.Edge{link("T", "A"), link("A", "B")},
	})

	claimed := h.claim(t)
	require.Len(t, claimed, 1)
	assert.Equal(t, "A", claimed[0].NodeID)

	out, err := h.disp.ProcessClaimed(context.Background(), claimed[0])
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, out)

	a := h.node(t, run.ID, "A")[0]
	assert.Equal(t, domain.RunNodeStatusSucceeded, a.Status)
	assert.False(t, a.BranchEnd)
	require.NotNil(t, a.Outcome)
	assert.Equal(t, true, a.Outcome.Output["ok"])

	b := h.node(t, run.ID, "B")
	require.Len(t, b, 1)
	assert.Equal(t, domain.RunNodeStatusPending, b[0].Status)
	assert.Equal(t, domain.RunStatusActive, h.run(t, run.ID).Status)

	h.drain(t)
	b = h.node(t, run.ID, "B")
	assert.True(t, b[0].BranchEnd)

	finished := h.run(t, run.ID)
	assert.Equal(t, domain.RunStatusCompleted, finished.Status)
	require.Len(t, h.notifier.finished, 1)
	assert.Equal(t, domain.RunStatusCompleted, h.notifier.finished[0].Status)
}

func TestProcessClaimed_BooleanRouting(t *testing.T) {
	reg := NewRegistry(DefaultRetryPolicy())
	reg.Register(ActionCondition, NewConditionExecutor())
	reg.Register("step", okExecutor())
	h := newHarness(t, reg)

	run := h.startRun(t, domain.Graph{
		Nodes: []domain.Node{
			trig("T"),
			act("A", ActionCondition, map[string]any{"expression": `context.fanId == "fan-1"`}),
			act("B", "step", nil),
			act("C", "step", nil),
			act("D", "step", nil),
		},
		Edges: []domain.Edge{link("T", "A"), link("A", "B"), when("A", "C", true), when("A", "D", false)},
	})

	h.drain(t)

	assert.Len(t, h.node(t, run.ID, "B"), 1)
	assert.Len(t, h.node(t, run.ID, "C"), 1)
	assert.Empty(t, h.node(t, run.ID, "D"))
	assert.Equal(t, domain.RunStatusCompleted, h.run(t, run.ID).Status)
}

func TestProcessClaimed_RetryCeiling(t *testing.T) {
	reg := NewRegistry(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute})
	reg.Register("flaky", failingExecutor(true))
	h := newHarness(t, reg)

	run := h.startRun(t, domain.Graph{
		Nodes: []domain.Node{trig("T"), act("A", "flaky", nil)},
		Edges: []domain.Edge{link("T", "A")},
	})

	var scheduled []time.Time
	for i := 0; i < 3; i++ {
		claimed := h.claim(t)
		require.Len(t, claimed, 1, "attempt %d", i)
		assert.Equal(t, i, claimed[0].Attempt)

		out, err := h.disp.ProcessClaimed(context.Background(), claimed[0])
		require.NoError(t, err)

		a := h.node(t, run.ID, "A")[0]
		if i < 2 {
			assert.Equal(t, OutcomeRetried, out)
			assert.Equal(t, domain.RunNodeStatusPending, a.Status)
			assert.Equal(t, i+1, a.Attempt)
			assert.Equal(t, domain.ErrorKindTransient, a.ErrorKind)
			scheduled = append(scheduled, a.ScheduledAt)

			// до scheduled_at узел не захватывается
			assert.Empty(t, h.claim(t))
			h.clock.Set(a.ScheduledAt)
		} else {
			assert.Equal(t, OutcomeFailed, out)
			assert.Equal(t, domain.RunNodeStatusFailed, a.Status)
			assert.Contains(t, a.LastError, "upstream unavailable")
		}
	}

	require.Len(t, scheduled, 2)
	assert.True(t, scheduled[0].After(testStart))
	assert.True(t, scheduled[1].After(scheduled[0]))

	assert.Equal(t, domain.RunStatusFailed, h.run(t, run.ID).Status)
	assert.Len(t, h.notifier.failed, 1)
}

func TestProcessClaimed_PermanentFailureKeepsSiblings(t *testing.T) {
	reg := NewRegistry(DefaultRetryPolicy())
	reg.Register("step", okExecutor())
	reg.Register("broken", failingExecutor(false))
	h := newHarness(t, reg)

	run := h.startRun(t, domain.Graph{
		Nodes: []domain.Node{trig("T"), act("A", "step", nil), act("B", "broken", nil)},
		Edges: []domain.Edge{link("T", "A"), link("T", "B")},
	})

	outcomes := h.drain(t)
	assert.Equal(t, 1, outcomes[OutcomeSucceeded])
	assert.Equal(t, 1, outcomes[OutcomeFailed])

	b := h.node(t, run.ID, "B")[0]
	assert.Equal(t, domain.ErrorKindPermanent, b.ErrorKind)
	assert.Equal(t, 0, b.Attempt)

	finished := h.run(t, run.ID)
	assert.Equal(t, domain.RunStatusPartiallyFailed, finished.Status)
	assert.Contains(t, finished.Error, "B")
}

func TestProcessClaimed_UnknownActionType(t *testing.T) {
	reg := NewRegistry(DefaultRetryPolicy())
	h := newHarness(t, reg)

	run := h.startRun(t, domain.Graph{
		Nodes: []domain.Node{trig("T"), act("A", "teleport", nil)},
		Edges: []domain.Edge{link("T", "A")},
	})

	outcomes := h.drain(t)
	assert.Equal(t, 1, outcomes[OutcomeFailed])

	a := h.node(t, run.ID, "A")[0]
	assert.Equal(t, domain.RunNodeStatusFailed, a.Status)
	assert.Equal(t, domain.ErrorKindConfig, a.ErrorKind)
	assert.Equal(t, 0, a.Attempt)
	assert.Equal(t, domain.RunStatusFailed, h.run(t, run.ID).Status)
}

func TestProcessClaimed_PanicIsRetried(t *testing.T) {
	reg := NewRegistry(DefaultRetryPolicy())
	reg.Register("panics", ExecutorFunc(func(context.Context, *Request) Result {
		panic("boom")
	}))
	h := newHarness(t, reg)

	run := h.startRun(t, domain.Graph{
		Nodes: []domain.Node{trig("T"), act("A", "panics", nil)},
		Edges: []domain.Edge{link("T", "A")},
	})

	claimed := h.claim(t)
	require.Len(t, claimed, 1)

	out, err := h.disp.ProcessClaimed(context.Background(), claimed[0])
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetried, out)

	a := h.node(t, run.ID, "A")[0]
	assert.Equal(t, domain.RunNodeStatusPending, a.Status)
	assert.Contains(t, a.LastError, ErrExecutorPanic.Error())
}

func TestProcessClaimed_MissingBoolOutcome(t *testing.T) {
	reg := NewRegistry(DefaultRetryPolicy())
	reg.Register("step", okExecutor())
	h := newHarness(t, reg)

	// step не возвращает bool, но у узла есть boolean-ребро
	run := h.startRun(t, domain.Graph{
		Nodes: []domain.Node{trig("T"), act("A", "step", nil), act("B", "step", nil)},
		Edges: []domain.Edge{link("T", "A"), when("A", "B", true)},
	})

	h.drain(t)

	a := h.node(t, run.ID, "A")[0]
	assert.Equal(t, domain.RunNodeStatusFailed, a.Status)
	assert.Equal(t, domain.ErrorKindConfig, a.ErrorKind)
	assert.Empty(t, h.node(t, run.ID, "B"))
}

func TestProcessClaimed_CanceledRunDiscards(t *testing.T) {
	reg := NewRegistry(DefaultRetryPolicy())
	h := newHarness(t, reg)

	var cancelOnce sync.Once
	reg.Register("slow", ExecutorFunc(func(ctx context.Context, req *Request) Result {
		cancelOnce.Do(func() {
			_, err := h.store.CancelRun(ctx, req.RunID, h.clock.Now())
			require.NoError(t, err)
		})
		return Succeeded(nil)
	}))

	run := h.startRun(t, domain.Graph{
		Nodes: []domain.Node{trig("T"), act("A", "slow", nil), act("B", "slow", nil)},
		Edges: []domain.Edge{link("T", "A"), link("A", "B")},
	})

	outcomes := h.drain(t)
	assert.Equal(t, 1, outcomes[OutcomeDiscarded])

	assert.Equal(t, domain.RunStatusCanceled, h.run(t, run.ID).Status)
	assert.Equal(t, domain.RunNodeStatusSkipped, h.node(t, run.ID, "A")[0].Status)
	assert.Empty(t, h.node(t, run.ID, "B"))
}

func TestProcessClaimed_CanceledBeforeStart(t *testing.T) {
	reg := NewRegistry(DefaultRetryPolicy())
	var calls int
	reg.Register("step", ExecutorFunc(func(context.Context, *Request) Result {
		calls++
		return Succeeded(nil)
	}))
	h := newHarness(t, reg)

	run := h.startRun(t, domain.Graph{
		Nodes: []domain.Node{trig("T"), act("A", "step", nil)},
		Edges: []domain.Edge{link("T", "A")},
	})

	claimed := h.claim(t)
	require.Len(t, claimed, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.disp.ProcessClaimed(ctx, claimed[0])
	require.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)

	node := h.node(t, run.ID, "A")[0]
	assert.Equal(t, domain.RunNodeStatusClaimed, node.Status)
	assert.Zero(t, node.Attempt)
}

func TestProcessClaimed_TransitionSurvivesCancel(t *testing.T) {
	reg := NewRegistry(DefaultRetryPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.Register("step", ExecutorFunc(func(context.Context, *Request) Result {
		cancel()
		return Succeeded(nil)
	}))
	h := newHarness(t, reg)

	run := h.startRun(t, domain.Graph{
		Nodes: []domain.Node{trig("T"), act("A", "step", nil)},
		Edges: []domain.Edge{link("T", "A")},
	})

	claimed := h.claim(t)
	require.Len(t, claimed, 1)

	out, err := h.disp.ProcessClaimed(ctx, claimed[0])
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, out)
	assert.Equal(t, domain.RunNodeStatusSucceeded, h.node(t, run.ID, "A")[0].Status)
	assert.Equal(t, domain.RunStatusCompleted, h.run(t, run.ID).Status)
}

func TestDispatcher_MaxProcessingTime(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{ExecutorTimeout: time.Second, WriteTimeout: 2 * time.Second})
	assert.Equal(t, 5*time.Second, d.MaxProcessingTime())

	d = NewDispatcher(DispatcherConfig{})
	assert.Equal(t, defaultExecutorTimeout+2*defaultWriteTimeout, d.MaxProcessingTime())
}

func TestProcessClaimed_StaleToken(t *testing.T) {
	reg := NewRegistry(DefaultRetryPolicy())
	reg.Register("step", okExecutor())
	h := newHarness(t, reg)

	run := h.startRun(t, domain.Graph{
		Nodes: []domain.Node{trig("T"), act("A", "step", nil)},
		Edges: []domain.Edge{link("T", "A")},
	})

	claimed := h.claim(t)
	require.Len(t, claimed, 1)

	stale := claimed[0]
	other := uuid.New()
	stale.ClaimedBy = &other

	out, err := h.disp.ProcessClaimed(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, out)
	assert.Equal(t, domain.RunNodeStatusClaimed, h.node(t, run.ID, "A")[0].Status)
}

func TestProcessClaimed_LeaseExhausted(t *testing.T) {
	reg := NewRegistry(RetryPolicy{MaxAttempts: 2})
	reg.Register("step", okExecutor())
	h := newHarness(t, reg)

	run := h.startRun(t, domain.Graph{
		Nodes: []domain.Node{trig("T"), act("A", "step", nil)},
		Edges: []domain.Edge{link("T", "A")},
	})

	// два раза аренда истекает без записи результата
	for i := 0; i < 2; i++ {
		claimed, err := h.store.ClaimBatch(context.Background(), repo.ClaimRequest{
			Token:       uuid.New(),
			Now:         h.clock.Now(),
			LeaseCutoff: h.clock.Now().Add(-time.Minute),
			Limit:       10,
		})
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		h.clock.Set(h.clock.Now().Add(2 * time.Minute))
	}

	claimed, err := h.store.ClaimBatch(context.Background(), repo.ClaimRequest{
		Token:       uuid.New(),
		Now:         h.clock.Now(),
		LeaseCutoff: h.clock.Now().Add(-time.Minute),
		Limit:       10,
	})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 2, claimed[0].Attempt)

	out, err := h.disp.ProcessClaimed(context.Background(), claimed[0])
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out)

	a := h.node(t, run.ID, "A")[0]
	assert.Equal(t, domain.ErrorKindLease, a.ErrorKind)
}

func TestProcessClaimed_RendersConfig(t *testing.T) {
	reg := NewRegistry(DefaultRetryPolicy())
	var got map[string]any
	reg.Register("capture", ExecutorFunc(func(_ context.Context, req *Request) Result {
		got = req.Config
		return Succeeded(nil)
	}))
	h := newHarness(t, reg)

	h.startRun(t, domain.Graph{
		Nodes: []domain.Node{trig("T"), act("A", "capture", map[string]any{"to": "{{ .Context.fanId }}"})},
		Edges: []domain.Edge{link("T", "A")},
	})

	h.drain(t)
	assert.Equal(t, "fan-1", got["to"])
}

func TestProcessClaimed_WaitSchedulesLater(t *testing.T) {
	reg := NewRegistry(DefaultRetryPolicy())
	reg.Register(ActionWait, &WaitExecutor{})
	reg.Register("step", okExecutor())
	h := newHarness(t, reg)

	run := h.startRun(t, domain.Graph{
		Nodes: []domain.Node{
			trig("T"),
			act("A", "step", nil),
			act("W", ActionWait, map[string]any{"duration": "24h"}),
			act("B", "step", nil),
		},
		Edges: []domain.Edge{link("T", "A"), link("A", "W"), link("W", "B")},
	})

	h.drain(t)

	w := h.node(t, run.ID, "W")
	require.Len(t, w, 1)
	assert.Equal(t, domain.RunNodeStatusPending, w[0].Status)
	assert.True(t, testStart.Add(24*time.Hour).Equal(w[0].ScheduledAt))

	h.clock.Set(testStart.Add(24 * time.Hour))
	h.drain(t)

	assert.Len(t, h.node(t, run.ID, "B"), 1)
	assert.Equal(t, domain.RunStatusCompleted, h.run(t, run.ID).Status)
}

func TestProcessClaimed_InvalidWaitConfigFailsOnSchedule(t *testing.T) {
	reg := NewRegistry(DefaultRetryPolicy())
	reg.Register(ActionWait, &WaitExecutor{})
	reg.Register("step", okExecutor())
	h := newHarness(t, reg)

	run := h.startRun(t, domain.Graph{
		Nodes: []domain.Node{
			trig("T"),
			act("A", "step", nil),
			act("W", ActionWait, map[string]any{"duration": "soon"}),
		},
		Edges: []domain.Edge{link("T", "A"), link("A", "W")},
	})

	h.drain(t)

	w := h.node(t, run.ID, "W")
	require.Len(t, w, 1)
	assert.Equal(t, domain.RunNodeStatusFailed, w[0].Status)
	assert.Equal(t, domain.ErrorKindConfig, w[0].ErrorKind)
	assert.Equal(t, domain.RunStatusFailed, h.run(t, run.ID).Status)
}
