package domain

import "fmt"

// RollupRunStatus вычисляет статус run по его узлам.
//
// Пока есть хотя бы один pending/claimed узел, run остаётся active и
// finished = false. Когда все узлы завершены:
//   - нет упавших — completed;
//   - есть упавшие и хотя бы одна ветка дошла до конца — partially_failed;
//   - иначе — failed.
func RollupRunStatus(nodes []RunNode) (status RunStatus, finished bool) {
	failed := 0
	branchEnds := 0

	for i := range nodes {
		n := &nodes[i]
		if !n.IsFinished() {
			return RunStatusActive, false
		}
		if n.Status == RunNodeStatusFailed {
			failed++
		}
		if n.Status == RunNodeStatusSucceeded && n.BranchEnd {
			branchEnds++
		}
	}

	switch {
	case failed == 0:
		return RunStatusCompleted, true
	case branchEnds > 0:
		return RunStatusPartiallyFailed, true
	default:
		return RunStatusFailed, true
	}
}

// FailureSummary формирует сводку ошибок для Run.Error.
func FailureSummary(nodes []RunNode) string {
	failed := make([]string, 0)
	for i := range nodes {
		if nodes[i].Status == RunNodeStatusFailed {
			failed = append(failed, nodes[i].NodeID)
		}
	}
	if len(failed) == 0 {
		return ""
	}
	return fmt.Sprintf("%d node(s) failed: %v", len(failed), failed)
}
