package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatus_IsActive(t *testing.T) {
	active := []TaskStatus{TaskStatusBriefing, TaskStatusPlanning, TaskStatusRunning}
	inactive := []TaskStatus{TaskStatusTodo, TaskStatusQueued, TaskStatusReview, TaskStatusDone}

	for _, s := range active {
		assert.True(t, s.IsActive(), "%s should be active", s)
	}
	for _, s := range inactive {
		assert.False(t, s.IsActive(), "%s should not be active", s)
	}
}

func TestPriority_Weight(t *testing.T) {
	assert.Greater(t, PriorityHigh.Weight(), PriorityMedium.Weight())
	assert.Greater(t, PriorityMedium.Weight(), PriorityLow.Weight())
	assert.Equal(t, PriorityMedium.Weight(), Priority("urgent").Weight())
	assert.False(t, Priority("urgent").Valid())
}

func TestWorkflowStep_Order(t *testing.T) {
	steps := []WorkflowStep{
		WorkflowStepPending, WorkflowStepBrief, WorkflowStepPlan, WorkflowStepExecute, WorkflowStepComplete,
	}
	for i, s := range steps {
		assert.Equal(t, i, s.Order())
	}
	assert.Equal(t, -1, WorkflowStep("deploy").Order())
}

func TestLogType_IsTerminal(t *testing.T) {
	assert.True(t, LogTypeExit.IsTerminal())
	assert.True(t, LogTypeError.IsTerminal())
	assert.False(t, LogTypeStdout.IsTerminal())
	assert.False(t, LogTypeIteration.IsTerminal())
}
