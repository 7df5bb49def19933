// Package rules evaluates boolean filter expressions over item records.
package rules

import (
	"errors"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var (
	// ErrInvalidExpression indicates an expression that does not compile.
	ErrInvalidExpression = errors.New("invalid filter expression")
	// ErrNotBoolean indicates an expression that yields a non-boolean value.
	ErrNotBoolean = errors.New("expression did not evaluate to a boolean")
)

// Evaluator decides whether an environment matches an expression.
type Evaluator interface {
	Evaluate(expression string, env map[string]interface{}) (bool, error)
	Compile(expression string) error
}

// ExprEvaluator implements Evaluator with expr-lang/expr. Compiled programs
// are cached per expression text.
type ExprEvaluator struct {
	cache   map[string]*vm.Program
	mu      sync.RWMutex
	derived map[string]func(map[string]interface{}) interface{}
}

// NewExprEvaluator creates an evaluator with an empty cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache:   make(map[string]*vm.Program),
		derived: make(map[string]func(map[string]interface{}) interface{}),
	}
}

// AddVariable registers a variable computed from the rest of the environment
// before each evaluation.
func (e *ExprEvaluator) AddVariable(name string, f func(map[string]interface{}) interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.derived[name] = f
}

func (e *ExprEvaluator) program(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if program, ok = e.cache[expression]; ok {
		return program, nil
	}
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	e.cache[expression] = program
	return program, nil
}

// Compile checks an expression and caches it.
func (e *ExprEvaluator) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate runs expression against env. The caller's map is not modified.
func (e *ExprEvaluator) Evaluate(expression string, env map[string]interface{}) (bool, error) {
	program, err := e.program(expression)
	if err != nil {
		return false, err
	}

	e.mu.RLock()
	scope := make(map[string]interface{}, len(env)+len(e.derived))
	for k, v := range env {
		scope[k] = v
	}
	for k, f := range e.derived {
		scope[k] = f(env)
	}
	e.mu.RUnlock()

	result, err := expr.Run(program, scope)
	if err != nil {
		return false, err
	}
	if b, ok := result.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("%w: '%s' gave %T", ErrNotBoolean, expression, result)
}

// Len returns the number of cached programs.
func (e *ExprEvaluator) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
