package workflow

import (
	"context"
	"fmt"

	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
	"github.com/mrz1836/formic/internal/prompts"
	"github.com/mrz1836/formic/internal/subtasks"
	"github.com/mrz1836/formic/internal/task"
)

// runExecute is the execute-verify loop. The agent is invoked at most
// MaxIterations times; after each invocation the subtasks file decides
// whether the task is done. Reaching the ceiling is not a failure: the task
// moves to review with the remaining work listed in its logs.
func (e *Engine) runExecute(ctx context.Context, r *run) error {
	step := constants.WorkflowStepExecute
	t, err := e.enterStep(ctx, r, step)
	if err != nil {
		return e.fail(ctx, r, step, err)
	}
	docs := e.docsDir(t)
	limit := e.cfg.MaxIterations

	var feedback *prompts.FeedbackData
	var stats domain.CompletionStats
	for iteration := 1; iteration <= limit; iteration++ {
		prompt, err := e.prompts.Build(step, stepData(t), feedback)
		if err != nil {
			return e.fail(ctx, r, step, err)
		}

		r.logger.Info().Int("iteration", iteration).Int("max_iterations", limit).Msg("execute iteration started")
		if err := e.invoke(ctx, r, step, prompt); err != nil {
			return e.fail(ctx, r, step, err)
		}

		file, readErr := subtasks.Read(docs)
		stats = subtasks.Stats(file)
		if readErr != nil {
			r.logger.Warn().Err(readErr).Int("iteration", iteration).Msg("subtasks file unavailable")
			e.note(ctx, r, fmt.Sprintf("[formic] Iteration %d: %v", iteration, readErr))
		}

		if stats.AllComplete {
			r.logger.Info().Int("iteration", iteration).Msg("all subtasks completed")
			e.broadcastIteration(r, iteration, limit, stats.Percentage, false)
			if err := e.advance(ctx, r, constants.TaskStatusReview, constants.WorkflowStepComplete); err != nil {
				return e.fail(ctx, r, step, err)
			}
			return nil
		}

		if iteration == limit {
			break
		}

		e.broadcastIteration(r, iteration, limit, stats.Percentage, false)
		feedback = &prompts.FeedbackData{
			Iteration:     iteration + 1,
			MaxIterations: limit,
			Percentage:    stats.Percentage,
			Incomplete:    subtasks.Incomplete(file),
		}
		if readErr != nil {
			feedback.SubtasksError = readErr.Error()
		}
	}

	msg := fmt.Sprintf("[formic] Iteration limit reached (%d/%d) at %d%% complete; moved to review",
		limit, limit, stats.Percentage)
	r.logger.Warn().Int("max_iterations", limit).Int("percentage", stats.Percentage).Msg("iteration limit reached")
	e.note(ctx, r, msg)
	e.broadcastIteration(r, limit, limit, stats.Percentage, true)

	if err := e.advance(ctx, r, constants.TaskStatusReview, constants.WorkflowStepComplete); err != nil {
		return e.fail(ctx, r, step, err)
	}
	return nil
}

// note appends an engine line to the task logs.
func (e *Engine) note(ctx context.Context, r *run, line string) {
	if _, err := e.store.UpdateTask(context.WithoutCancel(ctx), r.taskID, func(t *domain.Task) error {
		task.AppendLogs(t, line)
		return nil
	}); err != nil {
		r.logger.Warn().Err(err).Msg("failed to append task log")
	}
}

func (e *Engine) broadcastIteration(r *run, iteration, limit, percentage int, limitReached bool) {
	data := fmt.Sprintf("Iteration %d/%d: %d%% complete", iteration, limit, percentage)
	if limitReached {
		data = fmt.Sprintf("Iteration limit reached at %d%% complete", percentage)
	}
	msg := domain.NewLogMessage(constants.LogTypeIteration, data, e.clock.Now())
	msg.Iteration = iteration
	msg.MaxIterations = limit
	msg.Percentage = percentage
	msg.LimitReached = limitReached
	msg.RunID = r.id
	e.hub.Broadcast(r.taskID, msg)
}
