package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_SingleSpanKeepsType(t *testing.T) {
	ctx := map[string]any{
		"payload": map[string]any{
			"amount":   42,
			"verified": true,
			"investor": map[string]any{"name": "Ana"},
		},
	}

	result, err := Resolve("{{payload.amount}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, result)

	result, err = Resolve("{{ payload.verified }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	result, err = Resolve("{{payload.investor}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Ana"}, result)
}

func TestResolve_EmbeddedSpans(t *testing.T) {
	ctx := map[string]any{
		"payload": map[string]any{
			"name":   "Ana",
			"amount": 12.5,
			"tags":   []any{"a", "b"},
		},
	}

	result, err := Resolve("Hello {{payload.name}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hello Ana", result)

	result, err = Resolve("{{payload.name}} owes {{payload.amount}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ana owes 12.5", result)

	result, err = Resolve("tags={{payload.tags}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, `tags=["a","b"]`, result)
}

func TestResolve_MissingPath(t *testing.T) {
	ctx := map[string]any{"payload": map[string]any{}}

	result, err := Resolve("{{payload.missing}}", ctx)
	require.NoError(t, err)
	assert.Nil(t, result)

	result, err = Resolve("Hi {{payload.missing}}!", ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hi !", result)
}

func TestResolve_Malformed(t *testing.T) {
	ctx := map[string]any{}

	_, err := Resolve("Hello {{payload.name", ctx)
	require.ErrorIs(t, err, ErrMalformedTemplate)

	_, err = Resolve("{{ }}", ctx)
	require.ErrorIs(t, err, ErrMalformedTemplate)

	result, err := Resolve("plain text", ctx)
	require.NoError(t, err)
	assert.Equal(t, "plain text", result)
}

func TestResolveConfig(t *testing.T) {
	ctx := map[string]any{
		"payload": map[string]any{"email": "a@x.com", "amount": 10},
	}

	config := map[string]any{
		"toExpression": "{{payload.email}}",
		"retries":      3,
		"variables": map[string]any{
			"amount": "{{payload.amount}}",
			"line":   "Total: {{payload.amount}}",
		},
		"list": []any{"{{payload.email}}", true},
	}

	resolved, err := ResolveConfig(config, ctx)
	require.NoError(t, err)

	assert.Equal(t, "a@x.com", resolved["toExpression"])
	assert.Equal(t, 3, resolved["retries"])
	assert.Equal(t, 10, resolved["variables"].(map[string]any)["amount"])
	assert.Equal(t, "Total: 10", resolved["variables"].(map[string]any)["line"])
	assert.Equal(t, []any{"a@x.com", true}, resolved["list"])

	// the input config is left untouched
	assert.Equal(t, "{{payload.email}}", config["toExpression"])

	_, err = ResolveConfig(map[string]any{"bad": "{{oops"}, ctx)
	require.ErrorIs(t, err, ErrMalformedTemplate)
	assert.Contains(t, err.Error(), "bad")
}

func TestLookup(t *testing.T) {
	ctx := map[string]any{
		"payload": map[string]any{
			"items": []any{
				map[string]any{"id": "first"},
				map[string]any{"id": "second"},
			},
			"empty": nil,
		},
		"headers": map[string]string{"x-id": "abc"},
	}

	value, found := Lookup("payload.items.1.id", ctx)
	assert.True(t, found)
	assert.Equal(t, "second", value)

	value, found = Lookup("payload.items[0].id", ctx)
	assert.True(t, found)
	assert.Equal(t, "first", value)

	value, found = Lookup("headers.x-id", ctx)
	assert.True(t, found)
	assert.Equal(t, "abc", value)

	_, found = Lookup("payload.empty", ctx)
	assert.False(t, found)

	_, found = Lookup("payload.items[9].id", ctx)
	assert.False(t, found)

	_, found = Lookup("payload.items.x", ctx)
	assert.False(t, found)
}
