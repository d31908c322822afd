package domain

import (
	"strings"
	"testing"
)

func TestRollupRunStatus(t *testing.T) {
	tests := []struct {
		name         string
		nodes        []RunNode
		wantStatus   RunStatus
		wantFinished bool
	}{
		{
			name: "pending node keeps run active",
			nodes: []RunNode{
				{NodeID: "T", Status: RunNodeStatusSucceeded},
				{NodeID: "A", Status: RunNodeStatusPending},
			},
			wantStatus: RunStatusActive,
		},
		{
			name: "claimed node keeps run active",
			nodes: []RunNode{
				{NodeID: "A", Status: RunNodeStatusFailed},
				{NodeID: "B", Status: RunNodeStatusClaimed},
			},
			wantStatus: RunStatusActive,
		},
		{
			name: "all succeeded",
			nodes: []RunNode{
				{NodeID: "T", Status: RunNodeStatusSucceeded},
				{NodeID: "A", Status: RunNodeStatusSucceeded, BranchEnd: true},
			},
			wantStatus:   RunStatusCompleted,
			wantFinished: true,
		},
		{
			name: "failure with a completed sibling branch",
			nodes: []RunNode{
				{NodeID: "T", Status: RunNodeStatusSucceeded},
				{NodeID: "A", Status: RunNodeStatusFailed},
				{NodeID: "B", Status: RunNodeStatusSucceeded, BranchEnd: true},
			},
			wantStatus:   RunStatusPartiallyFailed,
			wantFinished: true,
		},
		{
			name: "failure without completed branches",
			nodes: []RunNode{
				{NodeID: "T", Status: RunNodeStatusSucceeded},
				{NodeID: "A", Status: RunNodeStatusFailed},
			},
			wantStatus:   RunStatusFailed,
			wantFinished: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, finished := RollupRunStatus(tt.nodes)
			if status != tt.wantStatus {
				t.Errorf("status = %s, want %s", status, tt.wantStatus)
			}
			if finished != tt.wantFinished {
				t.Errorf("finished = %v, want %v", finished, tt.wantFinished)
			}
		})
	}
}

func TestFailureSummary(t *testing.T) {
	if got := FailureSummary([]RunNode{{NodeID: "A", Status: RunNodeStatusSucceeded}}); got != "" {
		t.Errorf("expected empty summary, got %q", got)
	}

	got := FailureSummary([]RunNode{
		{NodeID: "A", Status: RunNodeStatusFailed},
		{NodeID: "B", Status: RunNodeStatusSucceeded},
	})
	if !strings.Contains(got, "1 node(s) failed") || !strings.Contains(got, "A") {
		t.Errorf("unexpected summary: %q", got)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	if RunStatusActive.IsTerminal() || RunStatusWaiting.IsTerminal() {
		t.Error("active and waiting must not be terminal")
	}
	for _, s := range []RunStatus{RunStatusCompleted, RunStatusPartiallyFailed, RunStatusFailed, RunStatusCanceled} {
		if !s.IsTerminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
	if RunNodeStatusPending.IsTerminal() || RunNodeStatusClaimed.IsTerminal() {
		t.Error("pending and claimed must not be terminal")
	}
}
