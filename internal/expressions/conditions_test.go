package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_EmptyConditionIsTrue(t *testing.T) {
	e := NewConditionEvaluator()
	assert.True(t, e.Evaluate("", testScope()))
	assert.True(t, e.Evaluate("   ", testScope()))
}

func TestEvaluate_FullTemplateTruthiness(t *testing.T) {
	e := NewConditionEvaluator()
	scope := testScope()

	assert.True(t, e.Evaluate("{{trigger.count}}", scope))
	assert.True(t, e.Evaluate("{{trigger.nested.flag}}", scope))
	assert.True(t, e.Evaluate("{{steps.scan.outputs.items}}", scope))

	assert.False(t, e.Evaluate("{{trigger.absent}}", scope))

	// Defaults apply before the truthiness check.
	assert.True(t, e.Evaluate("{{trigger.absent || 1}}", scope))
	assert.False(t, e.Evaluate("{{trigger.absent || 0}}", scope))
}

func TestEvaluate_Comparisons(t *testing.T) {
	e := NewConditionEvaluator()
	scope := testScope()

	assert.True(t, e.Evaluate("{{steps.scan.outputs.count}} > 0", scope))
	assert.False(t, e.Evaluate("{{steps.scan.outputs.count}} > 10", scope))
	assert.True(t, e.Evaluate(`{{trigger.project}} == "stepflow"`, scope))
	assert.False(t, e.Evaluate(`{{trigger.project}} == "other"`, scope))
	assert.True(t, e.Evaluate("{{trigger.count}} >= 3 && {{steps.scan.outputs.count}} < 5", scope))
}

func TestEvaluate_MissingReferenceSplicesNil(t *testing.T) {
	e := NewConditionEvaluator()
	scope := testScope()

	assert.True(t, e.Evaluate("{{trigger.absent}} == nil", scope))
	assert.False(t, e.Evaluate("{{trigger.absent}} > 0", scope))
}

func TestEvaluate_MalformedConditionIsFalse(t *testing.T) {
	e := NewConditionEvaluator()
	scope := testScope()

	assert.False(t, e.Evaluate("((", scope))
	assert.False(t, e.Evaluate("{{trigger.count}} >", scope))
	// Type mismatch at runtime also routes to else.
	assert.False(t, e.Evaluate(`{{trigger.project}} > 5`, scope))
}

func TestEvaluate_PlainExpressionAgainstScope(t *testing.T) {
	e := NewConditionEvaluator()
	scope := testScope()

	assert.True(t, e.Evaluate(`trigger.project == "stepflow"`, scope))
	assert.True(t, e.Evaluate("steps.scan.outputs.count > 1", scope))
	assert.False(t, e.Evaluate("steps.scan.outputs.count > 100", scope))
}

func TestEvaluate_ProgramCacheReuse(t *testing.T) {
	e := NewConditionEvaluator()
	scope := testScope()

	cond := "{{steps.scan.outputs.count}} > 1"
	assert.True(t, e.Evaluate(cond, scope))
	assert.True(t, e.Evaluate(cond, scope))

	// Same condition text, different resolved literal, different program.
	scope[RootSteps].(map[string]any)["scan"].(map[string]any)["outputs"].(map[string]any)["count"] = float64(0)
	assert.False(t, e.Evaluate(cond, scope))
}

func TestTruthy(t *testing.T) {
	assert.False(t, truthy(nil))
	assert.False(t, truthy(false))
	assert.False(t, truthy(""))
	assert.False(t, truthy(0))
	assert.False(t, truthy(float64(0)))
	assert.False(t, truthy(map[string]any{}))
	assert.False(t, truthy([]any{}))

	assert.True(t, truthy(true))
	assert.True(t, truthy("x"))
	assert.True(t, truthy(1))
	assert.True(t, truthy(float64(0.5)))
	assert.True(t, truthy(map[string]any{"k": 1}))
	assert.True(t, truthy([]any{1}))
	assert.True(t, truthy(struct{}{}))
}
