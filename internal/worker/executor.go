package worker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/fanflow/internal/domain"
)

// Request — вход executor'а для одной попытки выполнения узла.
type Request struct {
	// RunNodeID — ключ идемпотентности. Одинаков для всех попыток узла,
	// executor с внешними побочными эффектами должен дедуплицировать по нему.
	RunNodeID uuid.UUID

	RunID       uuid.UUID
	FlowID      uuid.UUID
	WorkspaceID uuid.UUID
	NodeID      string
	ActionType  string

	// Config — отрендеренная конфигурация узла.
	Config map[string]any

	// TriggerContext — данные события, запустившего run.
	TriggerContext map[string]any

	// Attempt — номер попытки, начиная с 0.
	Attempt int
}

// Result — результат одной попытки.
type Result struct {
	// Bool — булев результат для boolean-рёбер.
	Bool *bool

	// Output — данные результата (сохраняются в RunNode для аудита).
	Output map[string]any

	// Err — ошибка выполнения. nil — успех.
	Err error

	// Retryable — ошибка временная, попытку можно повторить.
	Retryable bool
}

// Succeeded — успешный результат.
func Succeeded(output map[string]any) Result {
	return Result{Output: output}
}

// Branch — успешный результат с булевым значением.
func Branch(value bool, output map[string]any) Result {
	return Result{Bool: domain.BoolPtr(value), Output: output}
}

// Transient — временная ошибка, будет retry.
func Transient(err error) Result {
	return Result{Err: err, Retryable: true}
}

// Permanent — постоянная ошибка, без retry.
func Permanent(err error) Result {
	return Result{Err: err}
}

// Executor — интерфейс для выполнения конкретного типа действия.
//
// Реализации: WaitExecutor, ConditionExecutor, EmailExecutor,
// TagExecutor, HTTPExecutor.
//
// ctx содержит таймаут, установленный диспетчером.
type Executor interface {
	Execute(ctx context.Context, req *Request) Result
}

// ExecutorFunc позволяет использовать функцию как Executor.
type ExecutorFunc func(ctx context.Context, req *Request) Result

// Execute вызывает f.
func (f ExecutorFunc) Execute(ctx context.Context, req *Request) Result {
	return f(ctx, req)
}

// Delayer — executor, откладывающий выполнение узла (узлы ожидания).
// Задержка вычисляется при создании RunNode и задаёт его scheduled_at.
type Delayer interface {
	Delay(config map[string]any) (time.Duration, error)
}

// BooleanProducer — executor, возвращающий булев результат.
type BooleanProducer interface {
	ProducesBoolean() bool
}

type registration struct {
	executor Executor
	policy   RetryPolicy
}

// RegisterOption — опция регистрации executor'а.
type RegisterOption func(*registration)

// WithRetryPolicy задаёт политику retry для типа действия.
func WithRetryPolicy(p RetryPolicy) RegisterOption {
	return func(r *registration) {
		r.policy = p
	}
}

// Registry — реестр executor'ов по типу действия.
//
// Реализует engine.ActionCatalog и используется для валидации
// графов при сохранении flow.
type Registry struct {
	executors     map[string]registration
	defaultPolicy RetryPolicy
}

// NewRegistry создаёт пустой реестр. defaultPolicy применяется к типам,
// зарегистрированным без WithRetryPolicy.
func NewRegistry(defaultPolicy RetryPolicy) *Registry {
	return &Registry{
		executors:     make(map[string]registration),
		defaultPolicy: defaultPolicy.withDefaults(),
	}
}

// Register добавляет executor для типа действия.
func (r *Registry) Register(actionType string, executor Executor, opts ...RegisterOption) {
	reg := registration{executor: executor, policy: r.defaultPolicy}
	for _, opt := range opts {
		opt(&reg)
	}
	reg.policy = reg.policy.withDefaults()
	r.executors[actionType] = reg
}

// Get возвращает executor для типа действия.
func (r *Registry) Get(actionType string) (Executor, error) {
	reg, ok := r.executors[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActionType, actionType)
	}
	return reg.executor, nil
}

// Has возвращает true, если тип зарегистрирован.
func (r *Registry) Has(actionType string) bool {
	_, ok := r.executors[actionType]
	return ok
}

// IsBoolean возвращает true, если executor типа возвращает булев результат.
func (r *Registry) IsBoolean(actionType string) bool {
	reg, ok := r.executors[actionType]
	if !ok {
		return false
	}
	bp, ok := reg.executor.(BooleanProducer)
	return ok && bp.ProducesBoolean()
}

// Policy возвращает политику retry типа действия.
func (r *Registry) Policy(actionType string) RetryPolicy {
	if reg, ok := r.executors[actionType]; ok {
		return reg.policy
	}
	return r.defaultPolicy
}

// Delay возвращает задержку перед выполнением узла.
// Для executor'ов без Delayer и незарегистрированных типов — 0.
func (r *Registry) Delay(node *domain.Node) (time.Duration, error) {
	reg, ok := r.executors[node.Type]
	if !ok {
		return 0, nil
	}
	d, ok := reg.executor.(Delayer)
	if !ok {
		return 0, nil
	}
	return d.Delay(node.Config)
}

// Types возвращает зарегистрированные типы действий.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
