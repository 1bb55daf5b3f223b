package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", ExecutionID(ctx))
	assert.Equal(t, "", StepID(ctx))
	assert.Equal(t, "", WorkflowID(ctx))

	ctx = WithWorkflowID(WithStepID(WithExecutionID(ctx, "ex-1"), "scan"), "release-train")
	assert.Equal(t, "ex-1", ExecutionID(ctx))
	assert.Equal(t, "scan", StepID(ctx))
	assert.Equal(t, "release-train", WorkflowID(ctx))
}

func TestCorrelationHandlerInjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithWorkflowID(WithStepID(WithExecutionID(context.Background(), "ex-1"), "scan"), "release-train")
	logger.InfoContext(ctx, "step started", "module", "system")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "step started", record["msg"])
	assert.Equal(t, "system", record["module"])
	assert.Equal(t, "ex-1", record["execution_id"])
	assert.Equal(t, "scan", record["step_id"])
	assert.Equal(t, "release-train", record["workflow_id"])
}

func TestCorrelationHandlerNoIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	logger.Info("plain message")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	_, hasExecution := record["execution_id"]
	assert.False(t, hasExecution)
}

func TestCorrelationHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil))).With("component", "engine")

	logger.InfoContext(WithExecutionID(context.Background(), "ex-2"), "hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "engine", record["component"])
	assert.Equal(t, "ex-2", record["execution_id"])
}
