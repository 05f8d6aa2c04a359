package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
	"github.com/mrz1836/formic/internal/errors"
	"github.com/mrz1836/formic/internal/signal"
)

// runAndFollow starts a workflow through start and streams its events until
// it finishes. The first Ctrl+C stops the task; the workflow then resets it
// to todo and the command returns an error.
func runAndFollow(ctx context.Context, w io.Writer, flags *GlobalFlags, taskID string, start func(a *app) domain.Result) error {
	logger := GetLogger()
	h := signal.NewHandler(ctx)
	defer h.Stop()

	bg := context.WithoutCancel(ctx)
	a, err := newApp(ctx, bg, flags, logger)
	if err != nil {
		return err
	}

	a.warnMissingEnv()

	events, unsubscribe := a.hub.Subscribe(taskID)
	defer unsubscribe()

	res := start(a)
	if !res.OK() {
		return resultError(w, flags.Output, res)
	}
	if flags.Output != OutputJSON {
		_ = printResult(w, flags.Output, res)
	}

	done := make(chan error, 1)
	go func() { done <- a.engine.Wait(bg) }()

	interrupted := h.Interrupted()
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			printEvent(w, flags.Output, msg)
		case <-interrupted:
			interrupted = nil
			logger.Info().Str("task_id", taskID).Msg("interrupt received, stopping task")
			if stop := a.engine.Stop(bg, taskID); !stop.OK() {
				logger.Warn().Err(stop.Err).Str("task_id", taskID).Msg("failed to stop task")
			}
		case err := <-done:
			drainEvents(w, flags.Output, events)
			if err != nil {
				return err
			}
			return finalStatus(bg, w, flags.Output, a, taskID)
		}
	}
}

func drainEvents(w io.Writer, format string, events <-chan domain.LogMessage) {
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				return
			}
			printEvent(w, format, msg)
		default:
			return
		}
	}
}

// finalStatus prints where the task ended up. A task back in todo means the
// workflow failed or was stopped.
func finalStatus(ctx context.Context, w io.Writer, format string, a *app, taskID string) error {
	t, err := a.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if format == OutputJSON {
		if err := writeJSON(w, t); err != nil {
			return err
		}
	} else {
		s := newStyles()
		_, _ = fmt.Fprintf(w, "%s %s (%s)\n", s.header.Render(t.ID), s.status(t.Status), t.WorkflowStep)
	}
	if t.Status == constants.TaskStatusTodo {
		return fmt.Errorf("task %s did not complete: %w", taskID, errors.ErrStepFailed)
	}
	return nil
}

// printEvent renders one broadcast event. JSON output emits one object per line.
func printEvent(w io.Writer, format string, msg domain.LogMessage) {
	if format == OutputJSON {
		_ = writeJSON(w, msg)
		return
	}
	s := newStyles()
	switch msg.Type {
	case constants.LogTypeStdout:
		_, _ = fmt.Fprintln(w, msg.Data)
	case constants.LogTypeStderr:
		_, _ = fmt.Fprintln(w, s.dim.Render(msg.Data))
	case constants.LogTypeIteration:
		line := fmt.Sprintf("iteration %d/%d: %d%% complete", msg.Iteration, msg.MaxIterations, msg.Percentage)
		if msg.LimitReached {
			_, _ = fmt.Fprintln(w, s.warning.Render(line+", iteration limit reached"))
			return
		}
		_, _ = fmt.Fprintln(w, s.key.Render(line))
	case constants.LogTypeStatus:
		_, _ = fmt.Fprintln(w, s.key.Render("status: ")+s.status(constants.TaskStatus(msg.Status)))
	case constants.LogTypeExit:
		_, _ = fmt.Fprintln(w, s.dim.Render("agent exited: "+msg.Data))
	case constants.LogTypeError:
		_, _ = fmt.Fprintln(w, s.failure.Render("agent error: "+msg.Data))
	}
}
