package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/fanflow/internal/domain"
)

func TestFrontier(t *testing.T) {
	g := Compile(&domain.Graph{
		Nodes: []domain.Node{
			trigger("T"),
			action("email", "send_email"),
			{ID: "wait", Kind: domain.NodeKindAction, Type: "wait", Config: map[string]any{"duration": "24h"}},
			{ID: "broken", Kind: domain.NodeKindAction, Type: "wait", Config: map[string]any{"duration": "soon"}},
		},
	})

	delay := func(n *domain.Node) (time.Duration, error) {
		if n.Type != "wait" {
			return 0, nil
		}
		return time.ParseDuration(n.Config["duration"].(string))
	}

	runID := uuid.New()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	seeds := Frontier(g, runID, []string{"email", "wait", "broken", "ghost"}, now, delay)
	require.Len(t, seeds, 4)

	for _, s := range seeds {
		assert.Equal(t, runID, s.RunID)
		assert.Equal(t, 0, s.Attempt)
		assert.NotEqual(t, uuid.Nil, s.ID)
	}

	assert.Equal(t, domain.RunNodeStatusPending, seeds[0].Status)
	assert.Equal(t, now, seeds[0].ScheduledAt)

	assert.Equal(t, domain.RunNodeStatusPending, seeds[1].Status)
	assert.Equal(t, now.Add(24*time.Hour), seeds[1].ScheduledAt)

	assert.Equal(t, domain.RunNodeStatusFailed, seeds[2].Status)
	assert.Equal(t, domain.ErrorKindConfig, seeds[2].ErrorKind)
	assert.NotEmpty(t, seeds[2].LastError)
	require.NotNil(t, seeds[2].FinishedAt)

	assert.Equal(t, domain.RunNodeStatusFailed, seeds[3].Status)
	assert.Contains(t, seeds[3].LastError, ErrNodeNotFound.Error())
}

func TestFrontier_Empty(t *testing.T) {
	g := Compile(branchingGraph())
	assert.Empty(t, Frontier(g, uuid.New(), nil, time.Now(), nil))
}

func TestDedupeKey(t *testing.T) {
	flowID := uuid.New()

	k1, err := DedupeKey(flowID, "T", map[string]any{"fanId": "42", "group": "g1"})
	require.NoError(t, err)
	k2, err := DedupeKey(flowID, "T", map[string]any{"group": "g1", "fanId": "42"})
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "key must not depend on field order")

	k3, err := DedupeKey(flowID, "T", map[string]any{"fanId": "43", "group": "g1"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	k4, err := DedupeKey(flowID, "T2", map[string]any{"fanId": "42", "group": "g1"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)

	empty, err := DedupeKey(flowID, "T", nil)
	require.NoError(t, err)
	assert.Contains(t, empty, flowID.String()+":T:")

	_, err = DedupeKey(flowID, "T", map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrCyclicGraph))
}
