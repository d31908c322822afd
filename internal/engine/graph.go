package engine

import (
	"github.com/shaiso/fanflow/internal/domain"
)

// Graph — проиндексированный снимок графа flow.
//
// Строится один раз на run (граф run неизменен) и используется
// диспетчером для поиска узлов и переходов.
type Graph struct {
	nodes    map[string]*domain.Node
	outgoing map[string][]domain.Edge
	incoming map[string]int
	order    []string
}

// Compile индексирует граф. Граф должен быть предварительно
// провалидирован через Validate; Compile ошибок не возвращает.
func Compile(g *domain.Graph) *Graph {
	c := &Graph{
		nodes:    make(map[string]*domain.Node, len(g.Nodes)),
		outgoing: make(map[string][]domain.Edge),
		incoming: make(map[string]int),
		order:    make([]string, 0, len(g.Nodes)),
	}

	for i := range g.Nodes {
		n := &g.Nodes[i]
		if _, exists := c.nodes[n.ID]; !exists {
			c.order = append(c.order, n.ID)
		}
		c.nodes[n.ID] = n
	}

	for _, e := range g.Edges {
		c.outgoing[e.From] = append(c.outgoing[e.From], e)
		c.incoming[e.To]++
	}

	return c
}

// Node возвращает узел по ID.
func (g *Graph) Node(id string) (*domain.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Outgoing возвращает исходящие рёбра узла.
func (g *Graph) Outgoing(id string) []domain.Edge {
	return g.outgoing[id]
}

// Size возвращает количество узлов.
func (g *Graph) Size() int {
	return len(g.nodes)
}

// Triggers возвращает ID trigger-узлов в порядке объявления.
func (g *Graph) Triggers() []string {
	ids := make([]string, 0)
	for _, id := range g.order {
		if g.nodes[id].IsTrigger() {
			ids = append(ids, id)
		}
	}
	return ids
}

// NextNodes возвращает узлы, которые нужно поставить в очередь после
// успешного выполнения узла from.
//
// Активны все simple-рёбра и boolean-рёбра, у которых Expected совпадает
// с outcome.Bool. Для терминального узла (без исходящих рёбер) результат
// пустой — так ветка доходит до конца.
//
// Если у узла есть boolean-ребро, а outcome.Bool == nil, возвращается
// ErrMissingBoolOutcome.
func (g *Graph) NextNodes(from string, outcome domain.Outcome) ([]string, error) {
	edges := g.outgoing[from]
	if len(edges) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(edges))
	next := make([]string, 0, len(edges))

	for _, e := range edges {
		switch e.Kind {
		case domain.EdgeKindBoolean:
			if outcome.Bool == nil {
				return nil, NewValidationError(from, "outcome",
					"boolean edge requires boolean outcome", ErrMissingBoolOutcome)
			}
			if e.Expected == nil || *e.Expected != *outcome.Bool {
				continue
			}
		case domain.EdgeKindSimple:
		default:
			continue
		}

		if seen[e.To] {
			continue
		}
		seen[e.To] = true
		next = append(next, e.To)
	}

	return next, nil
}

// reachable возвращает множество узлов, достижимых из trigger-узлов
// (сами trigger-узлы включены).
func (g *Graph) reachable() map[string]bool {
	visited := make(map[string]bool)
	queue := g.Triggers()
	for _, id := range queue {
		visited[id] = true
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, e := range g.outgoing[id] {
			if !visited[e.To] {
				visited[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}

	return visited
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана)
// подграфа, достижимого из trigger-узлов.
// Возвращает ErrCyclicGraph, если в подграфе есть цикл.
func (g *Graph) topologicalSort() ([]string, error) {
	sub := g.reachable()

	inDegree := make(map[string]int, len(sub))
	for id := range sub {
		inDegree[id] = 0
	}
	for id := range sub {
		for _, e := range g.outgoing[id] {
			if sub[e.To] {
				inDegree[e.To]++
			}
		}
	}

	// Очередь узлов с inDegree = 0, в порядке объявления
	queue := make([]string, 0)
	for _, id := range g.order {
		if sub[id] && inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(sub))

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, e := range g.outgoing[id] {
			if !sub[e.To] {
				continue
			}
			inDegree[e.To]--
			if inDegree[e.To] == 0 {
				queue = append(queue, e.To)
			}
		}
	}

	// Если не все узлы обработаны — есть цикл
	if len(order) != len(sub) {
		return nil, ErrCyclicGraph
	}

	return order, nil
}
