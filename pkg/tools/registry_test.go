package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(ctx context.Context, args map[string]interface{}, tc Context) (interface{}, error) {
	return nil, nil
}

func TestRegistryRegister(t *testing.T) {
	registry := NewRegistry()

	t.Run("valid definition", func(t *testing.T) {
		err := registry.Register(Definition{
			Name:        "files.read",
			Description: "Reads a file",
			RiskLevel:   RiskLow,
			Handler:     noopHandler,
		})
		require.NoError(t, err)
		assert.True(t, registry.Has("files.read"))
		assert.Equal(t, 1, registry.Count())
	})

	t.Run("missing name", func(t *testing.T) {
		err := registry.Register(Definition{Description: "x", RiskLevel: RiskLow, Handler: noopHandler})
		assert.Error(t, err)
	})

	t.Run("nil handler", func(t *testing.T) {
		err := registry.Register(Definition{Name: "x", RiskLevel: RiskLow})
		assert.Error(t, err)
	})

	t.Run("bad risk level", func(t *testing.T) {
		err := registry.Register(Definition{Name: "x", RiskLevel: "extreme", Handler: noopHandler})
		assert.Error(t, err)
	})

	t.Run("bad parameter type", func(t *testing.T) {
		err := registry.Register(Definition{
			Name:      "x",
			RiskLevel: RiskLow,
			Handler:   noopHandler,
			Parameters: []Parameter{
				{Name: "p", Type: "tuple"},
			},
		})
		assert.Error(t, err)
	})
}

func TestRegistryOverwrite(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(Definition{
		Name: "echo", Description: "v1", RiskLevel: RiskLow, Handler: noopHandler,
	}))
	require.NoError(t, registry.Register(Definition{
		Name: "echo", Description: "v2", RiskLevel: RiskHigh, Handler: noopHandler,
	}))

	def, _, ok := registry.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "v2", def.Description)
	assert.Equal(t, RiskHigh, def.RiskLevel)
	assert.Equal(t, 1, registry.Count(), "exactly one definition active per name")
}

func TestRegistryUnregister(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Definition{
		Name: "echo", RiskLevel: RiskLow, Handler: noopHandler,
	}))

	registry.Unregister("echo")
	assert.False(t, registry.Has("echo"))

	_, _, ok := registry.Get("echo")
	assert.False(t, ok)
}

func TestRegistryList(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"b.tool", "a.tool", "c.tool"} {
		require.NoError(t, registry.Register(Definition{
			Name: name, RiskLevel: RiskLow, Handler: noopHandler,
		}))
	}

	assert.Equal(t, []string{"a.tool", "b.tool", "c.tool"}, registry.List())
}

func TestFunctionSchemas(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Definition{
		Name:        "weather.lookup",
		Description: "Looks up the weather",
		RiskLevel:   RiskLow,
		Handler:     noopHandler,
		Parameters: []Parameter{
			{Name: "city", Type: "string", Description: "City name", Required: true},
			{Name: "units", Type: "string", Description: "Unit system"},
		},
	}))

	schemas := registry.FunctionSchemas()
	require.Len(t, schemas, 1)

	schema := schemas[0]
	assert.Equal(t, "function", schema["type"])

	fn := schema["function"].(map[string]interface{})
	assert.Equal(t, "weather.lookup", fn["name"])
	assert.Equal(t, "Looks up the weather", fn["description"])

	params := fn["parameters"].(map[string]interface{})
	assert.Equal(t, "object", params["type"])
	assert.Equal(t, []string{"city"}, params["required"])

	props := params["properties"].(map[string]interface{})
	assert.Contains(t, props, "city")
	assert.Contains(t, props, "units")
}
