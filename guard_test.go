package stepflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stepflow-io/stepflow/script"
)

func TestScriptGuard(t *testing.T) {
	ctx := context.Background()
	compiler := script.NewRisorScriptingEngine(script.DefaultGuardGlobals())

	t.Run("evaluates an expression against the context", func(t *testing.T) {
		guard, err := compileGuard(compiler, `context["length"] >= 50`)
		require.NoError(t, err)

		ok, err := guard.Evaluate(ctx, map[string]any{"length": 60})
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = guard.Evaluate(ctx, map[string]any{"length": 10})
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("truthiness follows the scripting engine", func(t *testing.T) {
		guard, err := compileGuard(compiler, `context["title"]`)
		require.NoError(t, err)

		ok, err := guard.Evaluate(ctx, map[string]any{"title": "set"})
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = guard.Evaluate(ctx, map[string]any{"title": ""})
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("compile failure surfaces the expression", func(t *testing.T) {
		_, err := compileGuard(compiler, `context[`)
		require.Error(t, err)
		require.Contains(t, err.Error(), "context[")
	})
}

func TestEvaluateGuard(t *testing.T) {
	ctx := context.Background()
	data := map[string]any{"length": 60}

	t.Run("nil guard is always satisfied", func(t *testing.T) {
		require.True(t, evaluateGuard(ctx, nil, data))
	})

	t.Run("plain funcs adapt through GuardFunc", func(t *testing.T) {
		guard := GuardFunc(func(data map[string]any) (bool, error) {
			length, _ := data["length"].(int)
			return length >= 50, nil
		})
		require.True(t, evaluateGuard(ctx, guard, data))
		require.False(t, evaluateGuard(ctx, guard, map[string]any{"length": 10}))
	})

	t.Run("evaluation errors read as not satisfied", func(t *testing.T) {
		guard := GuardFunc(func(data map[string]any) (bool, error) {
			return true, errors.New("lookup failed")
		})
		require.False(t, evaluateGuard(ctx, guard, data))
	})

	t.Run("panics read as not satisfied", func(t *testing.T) {
		guard := GuardFunc(func(data map[string]any) (bool, error) {
			panic("boom")
		})
		require.False(t, evaluateGuard(ctx, guard, data))
	})

	t.Run("a broken script guard never breaks an availability query", func(t *testing.T) {
		compiler := script.NewRisorScriptingEngine(script.DefaultGuardGlobals())
		guard, err := compileGuard(compiler, `context["missing"].field`)
		require.NoError(t, err)
		require.False(t, evaluateGuard(ctx, guard, map[string]any{}))
	})
}
