package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ConditionExecutor — executor для действия "condition".
//
// Вычисляет выражение expr-lang над данными run и возвращает
// булев результат для boolean-рёбер.
//
// Config:
//   - expression (string): выражение, например `context.orderTotal > 100`
//
// Переменные: context, attempt, run_id, node_id.
type ConditionExecutor struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewConditionExecutor создаёт ConditionExecutor.
func NewConditionExecutor() *ConditionExecutor {
	return &ConditionExecutor{programs: make(map[string]*vm.Program)}
}

// ProducesBoolean реализует BooleanProducer.
func (e *ConditionExecutor) ProducesBoolean() bool {
	return true
}

// Execute вычисляет выражение.
func (e *ConditionExecutor) Execute(_ context.Context, req *Request) Result {
	expression := getString(req.Config, "expression", "")
	if expression == "" {
		return Permanent(fmt.Errorf("%w: expression is required", ErrInvalidConfig))
	}

	program, err := e.compile(expression)
	if err != nil {
		return Permanent(fmt.Errorf("%w: compile expression: %v", ErrInvalidConfig, err))
	}

	triggerContext := req.TriggerContext
	if triggerContext == nil {
		triggerContext = map[string]any{}
	}

	env := map[string]any{
		"context": triggerContext,
		"attempt": req.Attempt,
		"run_id":  req.RunID.String(),
		"node_id": req.NodeID,
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return Permanent(fmt.Errorf("%w: evaluate expression: %v", ErrInvalidConfig, err))
	}

	value, ok := out.(bool)
	if !ok {
		return Permanent(fmt.Errorf("%w: got %T", ErrNotBoolean, out))
	}

	return Branch(value, map[string]any{"result": value})
}

// compile возвращает скомпилированную программу из кэша.
func (e *ConditionExecutor) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[expression] = program
	e.mu.Unlock()

	return program, nil
}
