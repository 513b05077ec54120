package recipe

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstitute_Scalars(t *testing.T) {
	context := map[string]any{
		"name":  "world",
		"count": float64(5),
		"ratio": 0.5,
		"ok":    true,
		"none":  nil,
	}

	tests := []struct {
		template string
		want     string
	}{
		{"hello {{name}}", "hello world"},
		{"count is {{count}}", "count is 5"},
		{"ratio is {{ratio}}", "ratio is 0.5"},
		{"ok is {{ok}}", "ok is true"},
		{"none is {{none}}", "none is null"},
		{"no refs here", "no refs here"},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			got, err := Substitute(tt.template, context)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubstitute_DottedPaths(t *testing.T) {
	context := map[string]any{
		"session": map[string]any{"id": "recipe_20260101_120000_abcd"},
		"result": map[string]any{
			"nested": map[string]any{"value": "deep"},
		},
	}

	got, err := Substitute("id={{session.id}} v={{result.nested.value}}", context)
	require.NoError(t, err)
	assert.Equal(t, "id=recipe_20260101_120000_abcd v=deep", got)
}

func TestSubstitute_MapsAndListsBecomeJSON(t *testing.T) {
	original := map[string]any{
		"items": []any{"a", "b"},
		"obj":   map[string]any{"k": "v", "n": float64(2)},
	}

	got, err := Substitute("{{obj}}", original)
	require.NoError(t, err)

	// Round-trip: substituted JSON re-parses to the original value.
	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(got), &parsed))
	assert.Equal(t, original["obj"], parsed)

	got, err = Substitute("{{items}}", original)
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, got)
}

func TestSubstitute_UndefinedVariable(t *testing.T) {
	context := map[string]any{"alpha": 1, "beta": 2}

	_, err := Substitute("{{gamma}}", context)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined variable {{gamma}}")
	assert.Contains(t, err.Error(), "alpha, beta")
}

func TestSubstitute_MissingNestedKey(t *testing.T) {
	context := map[string]any{
		"result": map[string]any{"status": "ok", "code": float64(0)},
	}

	_, err := Substitute("{{result.missing}}", context)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key 'missing' not found")
	assert.Contains(t, err.Error(), "available keys at 'result': code, status")
}

func TestSubstitute_NonMapParent(t *testing.T) {
	context := map[string]any{"result": "just a string"}

	_, err := Substitute("{{result.field}}", context)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot access 'field'")
	assert.Contains(t, err.Error(), "parse_json")
}

func TestSubstituteAny_Recursive(t *testing.T) {
	context := map[string]any{"file": "main.go", "depth": "full"}

	value := map[string]any{
		"target": "{{file}}",
		"options": map[string]any{
			"depth": "{{depth}}",
			"count": 3,
		},
		"list": []any{"{{file}}", 7, true},
	}

	got, err := SubstituteAny(value, context)
	require.NoError(t, err)

	m := got.(map[string]any)
	assert.Equal(t, "main.go", m["target"])
	assert.Equal(t, "full", m["options"].(map[string]any)["depth"])
	assert.Equal(t, 3, m["options"].(map[string]any)["count"])
	assert.Equal(t, []any{"main.go", 7, true}, m["list"])
}

func TestSubstituteAny_PropagatesErrors(t *testing.T) {
	_, err := SubstituteAny(map[string]any{"k": "{{missing}}"}, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined variable")
}

func TestResolveRef(t *testing.T) {
	context := map[string]any{
		"items":  []any{"x", "y"},
		"nested": map[string]any{"list": []any{1.0}},
	}

	got, err := ResolveRef("{{items}}", context)
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, got)

	got, err = ResolveRef(" {{nested.list}} ", context)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0}, got)

	_, err = ResolveRef("items", context)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid foreach syntax")

	_, err = ResolveRef("{{missing}}", context)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined variable in foreach")
}
