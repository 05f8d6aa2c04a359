package engine

import (
	"context"

	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
	"github.com/mrz1836/formic/internal/task"
)

// Enqueue moves a todo task into the queue for the scheduler to admit.
func (e *Engine) Enqueue(ctx context.Context, taskID string) domain.Result {
	return e.move(ctx, taskID, constants.TaskStatusQueued, "Task queued")
}

// MarkDone accepts a task sitting in review.
func (e *Engine) MarkDone(ctx context.Context, taskID string) domain.Result {
	return e.move(ctx, taskID, constants.TaskStatusDone, "Task done")
}

func (e *Engine) move(ctx context.Context, taskID string, to constants.TaskStatus, msg string) domain.Result {
	now := e.clock.Now()
	if _, err := e.store.UpdateTask(ctx, taskID, func(t *domain.Task) error {
		return task.TransitionAt(ctx, t, to, now)
	}); err != nil {
		return classify(taskID, err)
	}
	e.logger.Info().Str("task_id", taskID).Str("status", to.String()).Msg("task moved")
	return domain.Result{Kind: domain.ResultSuccess, TaskID: taskID, Message: msg}
}
