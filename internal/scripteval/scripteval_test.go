package scripteval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monitorrunner/internal/cache"
	"monitorrunner/internal/models"
)

func newEvaluator() *Evaluator {
	return New(cache.New(time.Minute, time.Minute), nil)
}

func TestEvaluateTriggeredTrue(t *testing.T) {
	ev := newEvaluator()
	trigger := models.Trigger{ID: "t1", Name: "cpu-high", Condition: `input0.results.0.count > 3`}
	execCtx := ExecutionContext{
		Inputs: []models.InputRunResult{
			{Results: []map[string]interface{}{{"count": float64(5)}}},
		},
	}

	result := ev.Evaluate(context.Background(), trigger, execCtx)
	assert.NoError(t, result.Error)
	assert.True(t, result.Triggered)
}

func TestEvaluateTriggeredFalse(t *testing.T) {
	ev := newEvaluator()
	trigger := models.Trigger{ID: "t2", Name: "cpu-high", Condition: `input0.results.0.count > 100`}
	execCtx := ExecutionContext{
		Inputs: []models.InputRunResult{
			{Results: []map[string]interface{}{{"count": float64(5)}}},
		},
	}

	result := ev.Evaluate(context.Background(), trigger, execCtx)
	assert.NoError(t, result.Error)
	assert.False(t, result.Triggered)
}

func TestEvaluateNoHits(t *testing.T) {
	ev := newEvaluator()
	trigger := models.Trigger{ID: "t3", Condition: `len(input0.results) > 0`}
	execCtx := ExecutionContext{Inputs: []models.InputRunResult{{Results: nil}}}

	result := ev.Evaluate(context.Background(), trigger, execCtx)
	assert.NoError(t, result.Error)
	assert.False(t, result.Triggered)
}

// Script failure forces triggered=true with the error captured, per
// the runner's "always make failures visible as an alert" rule.
func TestEvaluateScriptFailureForcesTriggered(t *testing.T) {
	ev := newEvaluator()
	trigger := models.Trigger{ID: "t4", Condition: `input0.results.0.nonexistent_field > 3`}
	execCtx := ExecutionContext{
		Inputs: []models.InputRunResult{
			{Results: []map[string]interface{}{{"count": float64(5)}}},
		},
	}

	result := ev.Evaluate(context.Background(), trigger, execCtx)
	require.Error(t, result.Error)
	assert.True(t, result.Triggered)
}

func TestEvaluateCompileFailureForcesTriggered(t *testing.T) {
	ev := newEvaluator()
	trigger := models.Trigger{ID: "t5", Condition: `not valid go (((`}
	execCtx := ExecutionContext{}

	result := ev.Evaluate(context.Background(), trigger, execCtx)
	require.Error(t, result.Error)
	assert.True(t, result.Triggered)
}

func TestEvaluateBooleanCombinators(t *testing.T) {
	ev := newEvaluator()
	execCtx := ExecutionContext{
		Inputs: []models.InputRunResult{
			{Results: []map[string]interface{}{{"count": float64(5)}}},
		},
	}

	trigger := models.Trigger{ID: "t6", Condition: `input0.results.0.count > 1 && input0.results.0.count < 10`}
	result := ev.Evaluate(context.Background(), trigger, execCtx)
	assert.NoError(t, result.Error)
	assert.True(t, result.Triggered)

	trigger.Condition = `input0.results.0.count < 1 || input0.results.0.count > 3`
	result = ev.Evaluate(context.Background(), trigger, execCtx)
	assert.NoError(t, result.Error)
	assert.True(t, result.Triggered)
}

func TestEvaluatePeriodBounds(t *testing.T) {
	ev := newEvaluator()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	execCtx := ExecutionContext{PeriodStart: start, PeriodEnd: end}

	trigger := models.Trigger{ID: "t8", Condition: `periodEnd > periodStart`}
	result := ev.Evaluate(context.Background(), trigger, execCtx)
	assert.NoError(t, result.Error)
	assert.True(t, result.Triggered)
}

func TestEvaluateContainsString(t *testing.T) {
	ev := newEvaluator()
	execCtx := ExecutionContext{
		Inputs: []models.InputRunResult{
			{Results: []map[string]interface{}{{"message": "disk usage critical"}}},
		},
	}

	trigger := models.Trigger{ID: "t9", Condition: `contains(input0.results.0.message, "critical")`}
	result := ev.Evaluate(context.Background(), trigger, execCtx)
	assert.NoError(t, result.Error)
	assert.True(t, result.Triggered)

	trigger.Condition = `contains(input0.results.0.message, "nominal")`
	result = ev.Evaluate(context.Background(), trigger, execCtx)
	assert.NoError(t, result.Error)
	assert.False(t, result.Triggered)
}

func TestEvaluateCachesCompiledExpression(t *testing.T) {
	ev := newEvaluator()
	trigger := models.Trigger{ID: "t7", Condition: `input0.results.0.count > 1`}
	execCtx := ExecutionContext{
		Inputs: []models.InputRunResult{
			{Results: []map[string]interface{}{{"count": float64(5)}}},
		},
	}

	first := ev.Evaluate(context.Background(), trigger, execCtx)
	second := ev.Evaluate(context.Background(), trigger, execCtx)
	assert.Equal(t, first.Triggered, second.Triggered)

	_, ok := ev.asts.Get("trigger:t7")
	assert.True(t, ok)
}
