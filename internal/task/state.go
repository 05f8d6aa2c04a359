// Package task provides task lifecycle rules for formic.
//
// This file implements the task state machine, the single authority consulted
// before any status write. Callers never assign Task.Status directly.
//
// Import rules:
//   - CAN import: internal/constants, internal/domain, internal/errors, std lib
//   - MUST NOT import: internal/runner, internal/workflow, internal/queue, internal/cli
package task

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
	formicerrors "github.com/mrz1836/formic/internal/errors"
)

// ValidTransitions defines all allowed state transitions in the task lifecycle.
// Format: from_status -> []to_statuses
//
//	Todo → Queued (manual enqueue), Briefing (manual run)
//	Queued → Briefing (scheduler admits)
//	Briefing → Planning, Todo
//	Planning → Running, Todo
//	Running → Review, Todo
//	Review → Done
//
//nolint:gochecknoglobals // Exported for testing and read-only lookup table
var ValidTransitions = map[constants.TaskStatus][]constants.TaskStatus{
	constants.TaskStatusTodo:     {constants.TaskStatusQueued, constants.TaskStatusBriefing},
	constants.TaskStatusQueued:   {constants.TaskStatusBriefing},
	constants.TaskStatusBriefing: {constants.TaskStatusPlanning, constants.TaskStatusTodo},
	constants.TaskStatusPlanning: {constants.TaskStatusRunning, constants.TaskStatusTodo},
	constants.TaskStatusRunning:  {constants.TaskStatusReview, constants.TaskStatusTodo},
	constants.TaskStatusReview:   {constants.TaskStatusDone},
}

// IsValidTransition checks if a transition from one status to another is allowed.
// Returns false for transitions from terminal states or to the same state.
func IsValidTransition(from, to constants.TaskStatus) bool {
	if from == to {
		return false
	}
	targets, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(targets, to)
}

// IsTerminalStatus returns true for states where no further transitions are allowed.
func IsTerminalStatus(status constants.TaskStatus) bool {
	return status == constants.TaskStatusDone
}

// CanReset reports whether a task in status can be sent back to todo
// (step failure, explicit stop or crash recovery).
func CanReset(status constants.TaskStatus) bool {
	return IsValidTransition(status, constants.TaskStatusTodo)
}

// GetValidTargetStatuses returns all valid target statuses for a given status.
// Returns nil for terminal states or unknown statuses.
func GetValidTargetStatuses(from constants.TaskStatus) []constants.TaskStatus {
	targets, ok := ValidTransitions[from]
	if !ok {
		return nil
	}
	return slices.Clone(targets)
}

// Transition validates and applies a state transition to the task. Entering
// queued stamps QueuedAt. The caller is responsible for persisting the task.
//
// Returns a wrapped ErrInvalidTransition and leaves the task untouched if the
// transition is not in ValidTransitions.
func Transition(ctx context.Context, task *domain.Task, to constants.TaskStatus) error {
	return TransitionAt(ctx, task, to, time.Now().UTC())
}

// TransitionAt is Transition with an explicit timestamp.
func TransitionAt(ctx context.Context, task *domain.Task, to constants.TaskStatus, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("%w: task is nil", formicerrors.ErrInvalidTransition)
	}

	from := task.Status
	if !IsValidTransition(from, to) {
		return fmt.Errorf("%w: task %s cannot transition from %s to %s",
			formicerrors.ErrInvalidTransition, task.ID, from, to)
	}

	task.Status = to
	task.UpdatedAt = now
	if to == constants.TaskStatusQueued {
		queuedAt := now
		task.QueuedAt = &queuedAt
	}
	return nil
}

// AdvanceWorkflowStep moves the workflow sub-state forward. Within one run the
// step may never regress; resetting to pending starts a new run and is always
// allowed.
func AdvanceWorkflowStep(task *domain.Task, to constants.WorkflowStep) error {
	if to.Order() < 0 {
		return fmt.Errorf("%w: %s", formicerrors.ErrUnknownStep, to)
	}
	if to == constants.WorkflowStepPending {
		task.WorkflowStep = to
		return nil
	}
	current := task.WorkflowStep
	if current == "" {
		current = constants.WorkflowStepPending
	}
	if to.Order() < current.Order() {
		return fmt.Errorf("%w: task %s workflow step cannot regress from %s to %s",
			formicerrors.ErrInvalidTransition, task.ID, current, to)
	}
	task.WorkflowStep = to
	return nil
}
