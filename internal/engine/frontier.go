package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/fanflow/internal/domain"
)

// DelayFunc возвращает задержку перед выполнением узла.
// Для большинства действий задержка нулевая; для узлов ожидания —
// длительность из конфигурации.
type DelayFunc func(node *domain.Node) (time.Duration, error)

// Frontier строит RunNode для узлов, которые становятся доступными
// после успешного выполнения предыдущего узла.
//
// ScheduledAt = now + delay(target). Если задержку вычислить нельзя
// (некорректная конфигурация ожидания) или узла нет в графе, RunNode
// создаётся сразу в статусе failed с ошибкой конфигурации, чтобы
// проблема была видна в журнале run.
func Frontier(g *Graph, runID uuid.UUID, targets []string, now time.Time, delay DelayFunc) []domain.RunNode {
	seeds := make([]domain.RunNode, 0, len(targets))

	for _, id := range targets {
		rn := domain.NewRunNode(runID, id, now)

		node, ok := g.Node(id)
		if !ok {
			markConfigFailed(&rn, fmt.Errorf("%w: %s", ErrNodeNotFound, id), now)
			seeds = append(seeds, rn)
			continue
		}

		if delay != nil && !node.IsTrigger() {
			d, err := delay(node)
			if err != nil {
				markConfigFailed(&rn, err, now)
				seeds = append(seeds, rn)
				continue
			}
			if d > 0 {
				rn.ScheduledAt = now.Add(d)
			}
		}

		seeds = append(seeds, rn)
	}

	return seeds
}

func markConfigFailed(rn *domain.RunNode, err error, now time.Time) {
	rn.Status = domain.RunNodeStatusFailed
	rn.ErrorKind = domain.ErrorKindConfig
	rn.LastError = err.Error()
	rn.FinishedAt = &now
}
