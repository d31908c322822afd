package engine

import (
	"errors"
	"fmt"

	"github.com/shaiso/fanflow/internal/domain"
)

// ActionCatalog — сведения о зарегистрированных типах действий.
// Реализуется реестром исполнителей.
type ActionCatalog interface {
	// Has возвращает true, если для типа зарегистрирован исполнитель.
	Has(actionType string) bool

	// IsBoolean возвращает true, если действие возвращает булев результат.
	IsBoolean(actionType string) bool
}

// Validate выполняет полную валидацию графа flow при сохранении.
//
// Проверяет:
// - Наличие узлов и хотя бы одного trigger-узла
// - Уникальность ID узлов и корректность их видов
// - Что типы действий зарегистрированы (если catalog != nil)
// - Что рёбра ссылаются на существующие узлы и не ведут в trigger-узлы
// - Ограничения на количество исходящих рёбер
// - Отсутствие циклов в подграфе, достижимом из trigger-узлов
func Validate(g *domain.Graph, catalog ActionCatalog) error {
	if g == nil || len(g.Nodes) == 0 {
		return ErrEmptyGraph
	}

	nodeIDs := make(map[string]bool, len(g.Nodes))
	triggers := 0

	for i := range g.Nodes {
		node := &g.Nodes[i]

		if err := ValidateNode(node, nodeIDs, catalog); err != nil {
			return err
		}
		if node.IsTrigger() {
			triggers++
		}
	}

	if triggers == 0 {
		return NewValidationError("", "nodes", "flow has no trigger nodes", ErrNoTrigger)
	}

	compiled := Compile(g)

	for i := range g.Edges {
		if err := validateEdge(&g.Edges[i], compiled); err != nil {
			return err
		}
	}

	for i := range g.Nodes {
		if err := validateCardinality(&g.Nodes[i], compiled, catalog); err != nil {
			return err
		}
	}

	if _, err := compiled.topologicalSort(); err != nil {
		return NewValidationError("", "edges", "graph reachable from triggers contains a cycle", err)
	}

	return nil
}

// ValidateNode валидирует один узел.
// nodeIDs — уже встреченные ID узлов (для проверки уникальности).
func ValidateNode(node *domain.Node, nodeIDs map[string]bool, catalog ActionCatalog) error {
	if node.ID == "" {
		return NewValidationError("", "id", "node has empty ID", ErrEmptyNodeID)
	}

	if nodeIDs[node.ID] {
		return NewValidationError(node.ID, "id",
			fmt.Sprintf("duplicate node ID: %s", node.ID), ErrDuplicateNodeID)
	}
	nodeIDs[node.ID] = true

	switch node.Kind {
	case domain.NodeKindTrigger:
		if node.Type == "" {
			return NewValidationError(node.ID, "type", "trigger has empty type", ErrEmptyNodeType)
		}
	case domain.NodeKindAction:
		if node.Type == "" {
			return NewValidationError(node.ID, "type", "action has empty type", ErrEmptyNodeType)
		}
		if catalog != nil && !catalog.Has(node.Type) {
			return NewValidationError(node.ID, "type",
				fmt.Sprintf("unknown action type: %s", node.Type), ErrUnknownActionType)
		}
	default:
		return NewValidationError(node.ID, "kind",
			fmt.Sprintf("unknown node kind: %q", node.Kind), ErrUnknownNodeKind)
	}

	return nil
}

// validateEdge проверяет одно ребро.
func validateEdge(e *domain.Edge, g *Graph) error {
	if _, ok := g.Node(e.From); !ok {
		return NewValidationError(e.From, "edges",
			fmt.Sprintf("edge from unknown node: %s", e.From), ErrUnknownEdgeNode)
	}

	to, ok := g.Node(e.To)
	if !ok {
		return NewValidationError(e.From, "edges",
			fmt.Sprintf("edge to unknown node: %s", e.To), ErrUnknownEdgeNode)
	}
	if to.IsTrigger() {
		return NewValidationError(e.From, "edges",
			fmt.Sprintf("edge points into trigger %s", e.To), ErrEdgeIntoTrigger)
	}

	switch e.Kind {
	case domain.EdgeKindSimple:
		if e.Expected != nil {
			return NewValidationError(e.From, "edges",
				fmt.Sprintf("simple edge to %s must not set expected", e.To), ErrInvalidEdge)
		}
	case domain.EdgeKindBoolean:
		if e.Expected == nil {
			return NewValidationError(e.From, "edges",
				fmt.Sprintf("boolean edge to %s has no expected value", e.To), ErrInvalidEdge)
		}
	default:
		return NewValidationError(e.From, "edges",
			fmt.Sprintf("unknown edge kind: %q", e.Kind), ErrInvalidEdge)
	}

	return nil
}

// validateCardinality проверяет ограничения на исходящие рёбра узла.
//
// - trigger: любое количество simple-рёбер, boolean-рёбер нет;
// - любое действие: не более одного simple-ребра;
// - обычное действие: boolean-рёбер нет;
// - действие с булевым результатом: не более одного boolean-ребра
//   на каждое значение.
func validateCardinality(node *domain.Node, g *Graph, catalog ActionCatalog) error {
	var simple, onTrue, onFalse int
	for _, e := range g.Outgoing(node.ID) {
		switch {
		case e.Kind == domain.EdgeKindSimple:
			simple++
		case e.Expected != nil && *e.Expected:
			onTrue++
		case e.Expected != nil:
			onFalse++
		}
	}

	boolEdges := onTrue + onFalse

	if node.IsTrigger() {
		if boolEdges > 0 {
			return NewValidationError(node.ID, "edges",
				"trigger cannot have boolean edges", ErrEdgeCardinality)
		}
		return nil
	}

	if simple > 1 {
		return NewValidationError(node.ID, "edges",
			"at most one simple edge is allowed", ErrEdgeCardinality)
	}

	// Без каталога действие считается булевым, если у него есть boolean-рёбра.
	isBoolean := boolEdges > 0
	if catalog != nil {
		isBoolean = catalog.IsBoolean(node.Type)
	}

	if isBoolean {
		if onTrue > 1 || onFalse > 1 {
			return NewValidationError(node.ID, "edges",
				"at most one boolean edge per value is allowed", ErrEdgeCardinality)
		}
		return nil
	}

	if boolEdges > 0 {
		return NewValidationError(node.ID, "edges",
			fmt.Sprintf("action %s does not produce a boolean result", node.Type), ErrEdgeCardinality)
	}

	return nil
}

// IsValidationError проверяет, является ли err ошибкой валидации графа.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
