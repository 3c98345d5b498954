package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farid/orbit/pkg/tools"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(name string) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()
}

func newTestEngine(t *testing.T, defs ...tools.Definition) *Engine {
	t.Helper()

	registry := tools.NewRegistry()
	for _, def := range defs {
		require.NoError(t, registry.Register(def))
	}

	return NewEngine(tools.NewRouter(registry, tools.RouterOptions{}))
}

func passTool(name string, rec *recorder, out func(args map[string]interface{}) interface{}) tools.Definition {
	return tools.Definition{
		Name:        name,
		Description: name,
		RiskLevel:   tools.RiskLow,
		Handler: func(ctx context.Context, args map[string]interface{}, tc tools.Context) (interface{}, error) {
			if rec != nil {
				rec.record(name)
			}
			if out != nil {
				return out(args), nil
			}
			return args, nil
		},
	}
}

func TestRegisterValidation(t *testing.T) {
	engine := newTestEngine(t)

	t.Run("missing name", func(t *testing.T) {
		assert.Error(t, engine.Register(Definition{Steps: []Step{{Name: "a", Tool: "t"}}}))
	})

	t.Run("no steps", func(t *testing.T) {
		assert.Error(t, engine.Register(Definition{Name: "empty"}))
	})

	t.Run("duplicate step names", func(t *testing.T) {
		assert.Error(t, engine.Register(Definition{
			Name: "dup",
			Steps: []Step{
				{Name: "a", Tool: "t"},
				{Name: "a", Tool: "t"},
			},
		}))
	})
}

func TestExecuteUnknownWorkflow(t *testing.T) {
	engine := newTestEngine(t)

	result := engine.Execute(context.Background(), "ghost", nil, tools.Context{})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "workflow not found")
}

func TestStepsRunInDeclaredOrder(t *testing.T) {
	rec := &recorder{}
	engine := newTestEngine(t,
		passTool("first", rec, nil),
		passTool("second", rec, nil),
		passTool("third", rec, nil),
	)

	require.NoError(t, engine.Register(Definition{
		Name: "ordered",
		Steps: []Step{
			{Name: "a", Tool: "first"},
			{Name: "b", Tool: "second"},
			{Name: "c", Tool: "third"},
		},
	}))

	result := engine.Execute(context.Background(), "ordered", nil, tools.Context{})

	assert.True(t, result.Success)
	assert.Equal(t, []string{"first", "second", "third"}, rec.calls)
	assert.Len(t, result.Steps, 3)
}

func TestFirstFailureAbortsRemainingSteps(t *testing.T) {
	rec := &recorder{}
	engine := newTestEngine(t,
		passTool("a-tool", rec, nil),
		tools.Definition{
			Name:        "b-tool",
			Description: "fails",
			RiskLevel:   tools.RiskLow,
			Handler: func(ctx context.Context, args map[string]interface{}, tc tools.Context) (interface{}, error) {
				rec.record("b-tool")
				return nil, errors.New("b exploded")
			},
		},
		passTool("c-tool", rec, nil),
	)

	require.NoError(t, engine.Register(Definition{
		Name: "abc",
		Steps: []Step{
			{Name: "A", Tool: "a-tool"},
			{Name: "B", Tool: "b-tool"},
			{Name: "C", Tool: "c-tool"},
		},
	}))

	result := engine.Execute(context.Background(), "abc", nil, tools.Context{})

	assert.False(t, result.Success)
	assert.Equal(t, "B", result.FailedStep)
	assert.Contains(t, result.Error, "step B failed")
	assert.Contains(t, result.Error, "b exploded")
	assert.Equal(t, []string{"a-tool", "b-tool"}, rec.calls, "C never invoked")
	assert.Len(t, result.Steps, 2)
}

func TestOutputThreading(t *testing.T) {
	engine := newTestEngine(t,
		passTool("produce", nil, func(args map[string]interface{}) interface{} {
			return map[string]interface{}{"city": "Jakarta", "temp": 31}
		}),
		passTool("consume", nil, nil),
	)

	require.NoError(t, engine.Register(Definition{
		Name: "thread",
		Steps: []Step{
			{Name: "fetch", Tool: "produce"},
			{Name: "report", Tool: "consume", Args: map[string]interface{}{
				"raw":     "{{steps.fetch.temp}}",
				"summary": "weather in {{steps.fetch.city}}: {{steps.fetch.temp}}",
				"query":   "{{args.q}}",
			}},
		},
	}))

	result := engine.Execute(context.Background(), "thread",
		map[string]interface{}{"q": "forecast"}, tools.Context{})

	require.True(t, result.Success)
	data := result.Data.(map[string]interface{})
	assert.Equal(t, 31, data["raw"], "whole-string reference preserves type")
	assert.Equal(t, "weather in Jakarta: 31", data["summary"])
	assert.Equal(t, "forecast", data["query"])
}

func TestUnresolvableReference(t *testing.T) {
	engine := newTestEngine(t, passTool("consume", nil, nil))

	require.NoError(t, engine.Register(Definition{
		Name: "dangling",
		Steps: []Step{
			{Name: "only", Tool: "consume", Args: map[string]interface{}{
				"whole":    "{{steps.missing.field}}",
				"embedded": "x={{steps.missing.field}}",
			}},
		},
	}))

	result := engine.Execute(context.Background(), "dangling", nil, tools.Context{})

	require.True(t, result.Success)
	data := result.Data.(map[string]interface{})
	assert.Nil(t, data["whole"])
	assert.Equal(t, "x=", data["embedded"])
}

func TestNestedTemplates(t *testing.T) {
	engine := newTestEngine(t,
		passTool("produce", nil, func(args map[string]interface{}) interface{} {
			return map[string]interface{}{"id": "abc"}
		}),
		passTool("consume", nil, nil),
	)

	require.NoError(t, engine.Register(Definition{
		Name: "nested",
		Steps: []Step{
			{Name: "make", Tool: "produce"},
			{Name: "use", Tool: "consume", Args: map[string]interface{}{
				"wrapper": map[string]interface{}{"ref": "{{steps.make.id}}"},
				"list":    []interface{}{"{{steps.make.id}}", "literal"},
			}},
		},
	}))

	result := engine.Execute(context.Background(), "nested", nil, tools.Context{})

	require.True(t, result.Success)
	data := result.Data.(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"ref": "abc"}, data["wrapper"])
	assert.Equal(t, []interface{}{"abc", "literal"}, data["list"])
}
