package stepflow

import (
	"context"
	"fmt"

	"github.com/stepflow-io/stepflow/script"
)

// Guard is a predicate over execution context that gates an action's
// availability. Implementations must be pure: no side effects, no mutation
// of the data map.
type Guard interface {
	Evaluate(ctx context.Context, data map[string]any) (bool, error)
}

// GuardFunc adapts a plain function to the Guard interface.
type GuardFunc func(data map[string]any) (bool, error)

func (f GuardFunc) Evaluate(ctx context.Context, data map[string]any) (bool, error) {
	return f(data)
}

// scriptGuard evaluates a compiled script expression against the execution
// context. The context map is exposed to the expression as "context".
type scriptGuard struct {
	source string
	code   script.Script
}

func (g *scriptGuard) Evaluate(ctx context.Context, data map[string]any) (bool, error) {
	value, err := g.code.Evaluate(ctx, map[string]any{"context": data})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", g.source, err)
	}
	return value.IsTruthy(), nil
}

// compileGuard compiles an expression string into a Guard using the given
// compiler.
func compileGuard(compiler script.Compiler, expr string) (Guard, error) {
	code, err := compiler.Compile(context.Background(), expr)
	if err != nil {
		return nil, fmt.Errorf("failed to compile condition %q: %w", expr, err)
	}
	return &scriptGuard{source: expr, code: code}, nil
}

// evaluateGuard runs a guard defensively: evaluation errors and panics are
// both treated as "not satisfied". A broken guard must never crash an
// availability query.
func evaluateGuard(ctx context.Context, guard Guard, data map[string]any) (satisfied bool) {
	if guard == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			satisfied = false
		}
	}()
	ok, err := guard.Evaluate(ctx, data)
	if err != nil {
		return false
	}
	return ok
}
