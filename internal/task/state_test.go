package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
	formicerrors "github.com/mrz1836/formic/internal/errors"
)

func TestIsValidTransition_AllValidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from constants.TaskStatus
		to   constants.TaskStatus
	}{
		{"todo to queued", constants.TaskStatusTodo, constants.TaskStatusQueued},
		{"todo to briefing", constants.TaskStatusTodo, constants.TaskStatusBriefing},
		{"queued to briefing", constants.TaskStatusQueued, constants.TaskStatusBriefing},
		{"briefing to planning", constants.TaskStatusBriefing, constants.TaskStatusPlanning},
		{"planning to running", constants.TaskStatusPlanning, constants.TaskStatusRunning},
		{"running to review", constants.TaskStatusRunning, constants.TaskStatusReview},
		{"briefing to todo", constants.TaskStatusBriefing, constants.TaskStatusTodo},
		{"planning to todo", constants.TaskStatusPlanning, constants.TaskStatusTodo},
		{"running to todo", constants.TaskStatusRunning, constants.TaskStatusTodo},
		{"review to done", constants.TaskStatusReview, constants.TaskStatusDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, IsValidTransition(tt.from, tt.to))
		})
	}
}

func TestIsValidTransition_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from constants.TaskStatus
		to   constants.TaskStatus
	}{
		{"todo to running", constants.TaskStatusTodo, constants.TaskStatusRunning},
		{"queued to todo", constants.TaskStatusQueued, constants.TaskStatusTodo},
		{"queued to planning", constants.TaskStatusQueued, constants.TaskStatusPlanning},
		{"briefing to running", constants.TaskStatusBriefing, constants.TaskStatusRunning},
		{"planning to briefing", constants.TaskStatusPlanning, constants.TaskStatusBriefing},
		{"running to queued", constants.TaskStatusRunning, constants.TaskStatusQueued},
		{"review to todo", constants.TaskStatusReview, constants.TaskStatusTodo},
		{"done to todo", constants.TaskStatusDone, constants.TaskStatusTodo},
		{"same status", constants.TaskStatusRunning, constants.TaskStatusRunning},
		{"unknown source", constants.TaskStatus("archived"), constants.TaskStatusTodo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, IsValidTransition(tt.from, tt.to))
		})
	}
}

func TestTransition_AppliesStatusAndQueuedAt(t *testing.T) {
	task := &domain.Task{ID: "t-1", Status: constants.TaskStatusTodo}
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	require.NoError(t, TransitionAt(context.Background(), task, constants.TaskStatusQueued, now))

	assert.Equal(t, constants.TaskStatusQueued, task.Status)
	require.NotNil(t, task.QueuedAt)
	assert.Equal(t, now, *task.QueuedAt)
	assert.Equal(t, now, task.UpdatedAt)
}

func TestTransition_InvalidLeavesTaskUntouched(t *testing.T) {
	task := &domain.Task{ID: "t-1", Status: constants.TaskStatusReview}
	before := *task

	err := Transition(context.Background(), task, constants.TaskStatusTodo)

	require.ErrorIs(t, err, formicerrors.ErrInvalidTransition)
	assert.Equal(t, before, *task)
}

func TestTransition_NilTaskAndCanceledContext(t *testing.T) {
	err := Transition(context.Background(), nil, constants.TaskStatusQueued)
	require.ErrorIs(t, err, formicerrors.ErrInvalidTransition)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Transition(ctx, &domain.Task{Status: constants.TaskStatusTodo}, constants.TaskStatusQueued)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCanResetAndTerminal(t *testing.T) {
	assert.True(t, CanReset(constants.TaskStatusBriefing))
	assert.True(t, CanReset(constants.TaskStatusRunning))
	assert.False(t, CanReset(constants.TaskStatusQueued))
	assert.False(t, CanReset(constants.TaskStatusReview))
	assert.True(t, IsTerminalStatus(constants.TaskStatusDone))
	assert.Nil(t, GetValidTargetStatuses(constants.TaskStatusDone))
}

func TestGetValidTargetStatuses_ReturnsCopy(t *testing.T) {
	targets := GetValidTargetStatuses(constants.TaskStatusTodo)
	targets[0] = constants.TaskStatusDone

	assert.Equal(t, constants.TaskStatusQueued, ValidTransitions[constants.TaskStatusTodo][0])
}

func TestAdvanceWorkflowStep(t *testing.T) {
	task := &domain.Task{ID: "t-1"}

	require.NoError(t, AdvanceWorkflowStep(task, constants.WorkflowStepBrief))
	require.NoError(t, AdvanceWorkflowStep(task, constants.WorkflowStepPlan))
	require.NoError(t, AdvanceWorkflowStep(task, constants.WorkflowStepPlan))

	err := AdvanceWorkflowStep(task, constants.WorkflowStepBrief)
	require.ErrorIs(t, err, formicerrors.ErrInvalidTransition)
	assert.Equal(t, constants.WorkflowStepPlan, task.WorkflowStep)

	require.NoError(t, AdvanceWorkflowStep(task, constants.WorkflowStepPending))
	assert.Equal(t, constants.WorkflowStepPending, task.WorkflowStep)

	require.ErrorIs(t, AdvanceWorkflowStep(task, "deploy"), formicerrors.ErrUnknownStep)
}
