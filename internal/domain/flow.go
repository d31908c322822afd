package domain

import (
	"time"

	"github.com/google/uuid"
)

// Flow — определение автоматизации воркспейса.
//
// Flow — это граф из trigger- и action-узлов. Trigger-узлы описывают
// события, которые запускают flow ("фан вступил в группу", "оформлен заказ"),
// action-узлы — шаги, которые выполняются после срабатывания.
//
// Каждое сохранение увеличивает Version. Run фиксирует версию и снимок
// графа в момент запуска, поэтому редактирование flow не влияет на уже
// идущие run.
type Flow struct {
	// ID — уникальный идентификатор flow.
	ID uuid.UUID `json:"id"`

	// WorkspaceID — воркспейс (тенант), которому принадлежит flow.
	WorkspaceID uuid.UUID `json:"workspace_id"`

	// Name — имя flow для отображения.
	Name string `json:"name"`

	// Version — номер версии графа (1, 2, 3, ...).
	Version int `json:"version"`

	// Enabled — флаг включения. По выключенному flow новые run не создаются.
	Enabled bool `json:"enabled"`

	// Graph — узлы и рёбра flow.
	Graph Graph `json:"graph"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NodeKind — вид узла графа.
type NodeKind string

const (
	// NodeKindTrigger — точка входа. Не исполняется, только порождает run.
	NodeKindTrigger NodeKind = "trigger"

	// NodeKindAction — исполняемый шаг.
	NodeKindAction NodeKind = "action"
)

// EdgeKind — вид ребра графа.
type EdgeKind string

const (
	// EdgeKindSimple — безусловный переход после успешного выполнения.
	EdgeKindSimple EdgeKind = "simple"

	// EdgeKindBoolean — переход, если булев результат узла равен Expected.
	EdgeKindBoolean EdgeKind = "boolean"
)

// Graph — направленный граф flow.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node — узел графа.
type Node struct {
	// ID — идентификатор узла, уникальный в рамках flow.
	ID string `json:"id"`

	// Kind — trigger или action.
	Kind NodeKind `json:"kind"`

	// Type — ключ типа. Для trigger-узла это ключ события
	// (например, "fan.joined_group"), для action-узла — тип действия
	// ("send_email", "wait", "condition", "add_tag", "http_request").
	Type string `json:"type"`

	// Name — человекочитаемое имя.
	Name string `json:"name,omitempty"`

	// Config — конфигурация узла. Для trigger-узла — критерии совпадения,
	// для action-узла — параметры действия.
	Config map[string]any `json:"config,omitempty"`
}

// IsTrigger возвращает true для trigger-узлов.
func (n *Node) IsTrigger() bool {
	return n.Kind == NodeKindTrigger
}

// Edge — ребро графа.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`

	// Expected — значение булева результата, при котором ребро активно.
	// Заполняется только для boolean-рёбер.
	Expected *bool `json:"expected,omitempty"`
}

// Node возвращает узел по ID.
func (g *Graph) Node(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// Outgoing возвращает исходящие рёбра узла в порядке объявления.
func (g *Graph) Outgoing(id string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// Outcome — результат успешного выполнения action-узла.
type Outcome struct {
	// Bool — булев результат. Заполняется узлами-условиями и используется
	// для выбора boolean-рёбер.
	Bool *bool `json:"bool,omitempty"`

	// Output — произвольные данные результата (для аудита).
	Output map[string]any `json:"output,omitempty"`
}

// BoolPtr возвращает указатель на значение b.
func BoolPtr(b bool) *bool {
	return &b
}
