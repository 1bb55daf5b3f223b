package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScope() map[string]any {
	return map[string]any{
		RootTrigger: map[string]any{
			"project": "stepflow",
			"count":   float64(3),
			"nested":  map[string]any{"flag": true},
		},
		RootSteps: map[string]any{
			"scan": map[string]any{
				"outputs": map[string]any{
					"count": float64(2),
					"items": []any{"a", "b"},
					"meta":  map[string]any{"source": "backlog"},
				},
				"status":     "completed",
				"returnCode": 0,
			},
		},
		RootWorkflow: map[string]any{
			"id":         "release-train",
			"versionTag": "v1.2.3",
		},
	}
}

func TestResolveValue_FullTemplateKeepsType(t *testing.T) {
	scope := testScope()

	assert.Equal(t, float64(3), ResolveValue("{{trigger.count}}", scope))
	assert.Equal(t, "stepflow", ResolveValue("{{trigger.project}}", scope))
	assert.Equal(t, true, ResolveValue("{{trigger.nested.flag}}", scope))
	assert.Equal(t, float64(2), ResolveValue("{{steps.scan.outputs.count}}", scope))
	assert.Equal(t, []any{"a", "b"}, ResolveValue("{{steps.scan.outputs.items}}", scope))
	assert.Equal(t, "b", ResolveValue("{{steps.scan.outputs.items.1}}", scope))
	assert.Equal(t, "v1.2.3", ResolveValue("{{workflow.versionTag}}", scope))
}

func TestResolveValue_FullTemplateStepRecord(t *testing.T) {
	got := ResolveValue("{{steps.scan}}", testScope())
	rec, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "completed", rec["status"])
}

func TestResolveValue_MissingYieldsNil(t *testing.T) {
	scope := testScope()
	assert.Nil(t, ResolveValue("{{trigger.absent}}", scope))
	assert.Nil(t, ResolveValue("{{steps.missing.outputs}}", scope))
	assert.Nil(t, ResolveValue("{{unknownroot.x}}", scope))
}

func TestResolveValue_Defaults(t *testing.T) {
	scope := testScope()

	// Full-token defaults are typed: quoted strings unquote, numbers parse.
	assert.Equal(t, "fallback", ResolveValue(`{{trigger.absent || 'fallback'}}`, scope))
	assert.Equal(t, "fallback", ResolveValue(`{{trigger.absent || "fallback"}}`, scope))
	assert.Equal(t, float64(10), ResolveValue("{{trigger.absent || 10}}", scope))
	assert.Equal(t, "bare", ResolveValue("{{trigger.absent || bare}}", scope))

	// Present value wins over the default.
	assert.Equal(t, float64(3), ResolveValue("{{trigger.count || 99}}", scope))
}

func TestResolveValue_Interpolation(t *testing.T) {
	scope := testScope()

	assert.Equal(t, "project stepflow has 3 items",
		ResolveValue("project {{trigger.project}} has {{trigger.count}} items", scope))

	// Composite values are JSON-encoded when interpolated.
	assert.Equal(t, `meta: {"source":"backlog"}`,
		ResolveValue("meta: {{steps.scan.outputs.meta}}", scope))

	// Partial defaults always interpolate as strings.
	assert.Equal(t, "n=10", ResolveValue("n={{trigger.absent || 10}}", scope))
	assert.Equal(t, "x=fallback", ResolveValue(`x={{trigger.absent || 'fallback'}}`, scope))
}

func TestResolveValue_UnresolvableTokenLeftVerbatim(t *testing.T) {
	scope := testScope()
	assert.Equal(t, "value: {{trigger.absent}} end",
		ResolveValue("value: {{trigger.absent}} end", scope))
}

func TestResolveValue_NonTemplatesUntouched(t *testing.T) {
	scope := testScope()
	assert.Equal(t, "plain string", ResolveValue("plain string", scope))
	assert.Equal(t, 42, ResolveValue(42, scope))
	assert.Equal(t, true, ResolveValue(true, scope))
	assert.Nil(t, ResolveValue(nil, scope))
}

func TestResolveValue_Recursive(t *testing.T) {
	scope := testScope()
	value := map[string]any{
		"name":  "{{trigger.project}}",
		"items": []any{"{{steps.scan.outputs.count}}", "literal"},
		"inner": map[string]any{"tag": "{{workflow.versionTag}}"},
	}
	got := ResolveValue(value, scope).(map[string]any)
	assert.Equal(t, "stepflow", got["name"])
	assert.Equal(t, []any{float64(2), "literal"}, got["items"])
	assert.Equal(t, "v1.2.3", got["inner"].(map[string]any)["tag"])
}

func TestResolveInputs(t *testing.T) {
	scope := testScope()

	assert.Nil(t, ResolveInputs(nil, scope))

	got := ResolveInputs(map[string]any{
		"count": "{{steps.scan.outputs.count}}",
		"label": "run-{{workflow.id}}",
	}, scope)
	assert.Equal(t, float64(2), got["count"])
	assert.Equal(t, "run-release-train", got["label"])
}

func TestResolveValue_NilScope(t *testing.T) {
	assert.Nil(t, ResolveValue("{{trigger.x}}", nil))
	assert.Equal(t, "a {{trigger.x}} b", ResolveValue("a {{trigger.x}} b", nil))
}
