package engine

import "errors"

// Ошибки валидации графа flow.
var (
	// ErrEmptyGraph — граф не содержит узлов.
	ErrEmptyGraph = errors.New("flow graph has no nodes")

	// ErrNoTrigger — в графе нет ни одного trigger-узла.
	ErrNoTrigger = errors.New("flow graph has no trigger nodes")

	// ErrEmptyNodeID — узел не имеет ID.
	ErrEmptyNodeID = errors.New("node has empty ID")

	// ErrDuplicateNodeID — несколько узлов с одинаковым ID.
	ErrDuplicateNodeID = errors.New("duplicate node ID")

	// ErrEmptyNodeType — у узла не указан тип.
	ErrEmptyNodeType = errors.New("node has empty type")

	// ErrUnknownNodeKind — вид узла не trigger и не action.
	ErrUnknownNodeKind = errors.New("unknown node kind")

	// ErrUnknownActionType — тип действия не зарегистрирован.
	ErrUnknownActionType = errors.New("unknown action type")

	// ErrUnknownEdgeNode — ребро ссылается на несуществующий узел.
	ErrUnknownEdgeNode = errors.New("edge references unknown node")

	// ErrEdgeIntoTrigger — ребро ведёт в trigger-узел.
	ErrEdgeIntoTrigger = errors.New("edge points into trigger node")

	// ErrInvalidEdge — некорректный вид ребра или значение expected.
	ErrInvalidEdge = errors.New("invalid edge")

	// ErrEdgeCardinality — нарушено ограничение на количество исходящих рёбер.
	ErrEdgeCardinality = errors.New("too many outgoing edges")

	// ErrCyclicGraph — обнаружен цикл, достижимый из trigger-узла.
	ErrCyclicGraph = errors.New("cyclic graph detected")
)

// Ошибки выполнения.
var (
	// ErrMissingBoolOutcome — из узла выходит boolean-ребро, но результат
	// узла не содержит булева значения. Это ошибка конфигурации.
	ErrMissingBoolOutcome = errors.New("outcome has no boolean value but node has boolean edges")

	// ErrNodeNotFound — узел отсутствует в графе.
	ErrNodeNotFound = errors.New("node not found in graph")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	NodeID  string // ID узла, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(nodeID, field, message string, err error) *ValidationError {
	return &ValidationError{
		NodeID:  nodeID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
