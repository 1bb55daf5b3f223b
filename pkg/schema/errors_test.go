package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrCodeNotFound, "workflow missing")
	assert.Equal(t, "[NOT_FOUND] workflow missing", err.Error())

	err = NewErrorf(ErrCodeStepFailed, "exit code %d", 3).WithStep("build")
	assert.Equal(t, "[STEP_FAILED] step build: exit code 3", err.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(ErrCodePersistence, "write failed").WithCause(cause)
	assert.ErrorIs(t, err, cause)
}

func TestIsCode(t *testing.T) {
	err := NewError(ErrCodeConflict, "already resolved")
	assert.True(t, IsCode(err, ErrCodeConflict))
	assert.False(t, IsCode(err, ErrCodeNotFound))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsCode(wrapped, ErrCodeConflict))

	assert.False(t, IsCode(errors.New("plain"), ErrCodeConflict))
	assert.False(t, IsCode(nil, ErrCodeConflict))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeParse, CodeOf(NewError(ErrCodeParse, "bad yaml")))
	assert.Equal(t, ErrCodeExecution, CodeOf(errors.New("plain")))
}

func TestValidationResult(t *testing.T) {
	var r ValidationResult
	assert.True(t, r.Valid())
	require.NoError(t, r.ToError())

	r.AddWarning("followUpWorkflows.0", "unknown_outcome", "tag not recognized")
	assert.True(t, r.Valid())

	r.AddError("steps.1.id", "duplicate", "duplicate step id \"scan\"")
	assert.False(t, r.Valid())

	err := r.ToError()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeValidation))
	assert.Contains(t, err.Error(), "steps.1.id")

	var other ValidationResult
	other.AddError("name", "required", "name is required")
	r.Merge(&other)
	assert.Len(t, r.Errors, 2)
	assert.Len(t, r.Warnings, 1)
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusRunning.Terminal())

	assert.True(t, StatusWaiting.Suspended())
	assert.True(t, StatusPaused.Suspended())
	assert.False(t, StatusPending.Suspended())
}
