// Package engine is the entry point collaborators use to change task state.
//
// AdmitFromQueue, RunFullWorkflow, RunSingleStep and Stop never return a bare
// error: each reports a domain.Result discriminated as success, conflict,
// not_found or error. Workflows run in the background; Wait blocks until the
// ones in flight have finished.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mrz1836/formic/internal/board"
	"github.com/mrz1836/formic/internal/clock"
	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
	formicerrors "github.com/mrz1836/formic/internal/errors"
	"github.com/mrz1836/formic/internal/runner"
	"github.com/mrz1836/formic/internal/task"
)

// Workflow is the part of the workflow engine the façade drives.
type Workflow interface {
	PrepareBranch(ctx context.Context, taskID string) (string, error)
	Run(ctx context.Context, taskID, priorBranch string) error
	RunStep(ctx context.Context, taskID string, step constants.WorkflowStep, priorBranch string) error
	RestoreBranch(ctx context.Context, priorBranch string) error
}

// Processes is the part of the process supervisor the façade needs.
type Processes interface {
	Stop(ctx context.Context, taskID string) (runner.ExitResult, error)
	Running(taskID string) bool
}

// Engine coordinates admission, workflow runs and stops.
type Engine struct {
	store         board.Store
	workflow      Workflow
	procs         Processes
	maxConcurrent int
	workspace     string
	clock         clock.Clock
	logger        zerolog.Logger

	// mu serializes admission decisions so two callers cannot both see a
	// free slot and over-admit.
	mu       sync.Mutex
	inflight map[string]*flight
	wg       sync.WaitGroup
	base     context.Context //nolint:containedctx // parent of every background workflow
}

// flight is one background workflow.
type flight struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxConcurrent sets the concurrency budget shared with the scheduler.
func WithMaxConcurrent(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxConcurrent = n
		}
	}
}

// WithWorkspace sets the directory relative docs paths resolve against.
func WithWorkspace(path string) Option {
	return func(e *Engine) { e.workspace = path }
}

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger.With().Str("component", "engine").Logger()
	}
}

// WithBaseContext sets the parent context of background workflows. Values
// are inherited; cancellation is not, so only Stop and Shutdown end a run.
func WithBaseContext(ctx context.Context) Option {
	return func(e *Engine) { e.base = context.WithoutCancel(ctx) }
}

// New creates an Engine.
func New(store board.Store, wf Workflow, procs Processes, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		workflow:      wf,
		procs:         procs,
		maxConcurrent: constants.DefaultMaxConcurrentTasks,
		clock:         clock.RealClock{},
		logger:        zerolog.Nop(),
		inflight:      make(map[string]*flight),
		base:          context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AdmitFromQueue moves a queued task into briefing and starts its workflow.
// A dirty working tree is a conflict and leaves the task queued with no
// branch created.
func (e *Engine) AdmitFromQueue(ctx context.Context, taskID string) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, res, ok := e.admissible(ctx, taskID, constants.TaskStatusQueued)
	if !ok {
		return res
	}
	return e.activate(ctx, t, func(ctx context.Context, prior string) error {
		return e.workflow.Run(ctx, taskID, prior)
	})
}

// RunFullWorkflow starts brief, plan and execute for a todo or queued task.
func (e *Engine) RunFullWorkflow(ctx context.Context, taskID string) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, res, ok := e.admissible(ctx, taskID, constants.TaskStatusTodo, constants.TaskStatusQueued)
	if !ok {
		return res
	}
	return e.activate(ctx, t, func(ctx context.Context, prior string) error {
		return e.workflow.Run(ctx, taskID, prior)
	})
}

// RunSingleStep runs one step. brief starts from todo or queued like a full
// run; plan and execute pick up a task idling in planning or running after an
// earlier single step.
func (e *Engine) RunSingleStep(ctx context.Context, taskID string, step constants.WorkflowStep) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch step {
	case constants.WorkflowStepBrief:
		t, res, ok := e.admissible(ctx, taskID, constants.TaskStatusTodo, constants.TaskStatusQueued)
		if !ok {
			return res
		}
		return e.activate(ctx, t, func(ctx context.Context, prior string) error {
			return e.workflow.RunStep(ctx, taskID, step, prior)
		})
	case constants.WorkflowStepPlan, constants.WorkflowStepExecute:
		return e.resume(ctx, taskID, step)
	case constants.WorkflowStepPending, constants.WorkflowStepComplete:
	}
	return classify(taskID, fmt.Errorf("%w: %s", formicerrors.ErrUnknownStep, step))
}

// Stop ends the task's current workflow: the agent gets SIGTERM, then
// SIGKILL after the grace period, and the task returns to todo. A task that
// is active on the board but has no live workflow (left idle by a single step)
// is reset directly.
func (e *Engine) Stop(ctx context.Context, taskID string) domain.Result {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return classify(taskID, err)
	}

	e.mu.Lock()
	f := e.inflight[taskID]
	e.mu.Unlock()

	if f == nil && !e.procs.Running(taskID) {
		if !t.Status.IsActive() {
			return classify(taskID, fmt.Errorf("%w: task %s is %s, nothing to stop",
				formicerrors.ErrProcessNotFound, taskID, t.Status))
		}
		if err := e.resetIdle(ctx, taskID); err != nil {
			return classify(taskID, err)
		}
		return domain.Result{Kind: domain.ResultSuccess, TaskID: taskID, Message: "Task reset to todo"}
	}

	if e.procs.Running(taskID) {
		if _, err := e.procs.Stop(ctx, taskID); err != nil && !errors.Is(err, formicerrors.ErrProcessNotFound) {
			return classify(taskID, err)
		}
	}
	if f != nil {
		f.cancel()
		select {
		case <-f.done:
		case <-ctx.Done():
			return classify(taskID, ctx.Err())
		}
	}

	e.logger.Info().Str("task_id", taskID).Msg("task stopped")
	return domain.Result{Kind: domain.ResultSuccess, TaskID: taskID, Message: "Task stopped"}
}

// InFlight returns the ids of tasks with a background workflow, sorted.
func (e *Engine) InFlight() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.inflight))
	for id := range e.inflight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wait blocks until every background workflow has finished or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every in-flight workflow and waits for them.
func (e *Engine) Shutdown(ctx context.Context) error {
	for _, id := range e.InFlight() {
		if res := e.Stop(ctx, id); !res.OK() {
			e.logger.Warn().Str("task_id", id).Err(res.Err).Msg("failed to stop task during shutdown")
		}
	}
	return e.Wait(ctx)
}

// admissible loads the task and checks that it may start: its status is one
// of from, it has no workflow in flight, and the budget has a free slot.
func (e *Engine) admissible(ctx context.Context, taskID string, from ...constants.TaskStatus) (*domain.Task, domain.Result, bool) {
	b, err := e.store.Load(ctx)
	if err != nil {
		return nil, classify(taskID, err), false
	}
	t := b.FindTask(taskID)
	if t == nil {
		return nil, classify(taskID, fmt.Errorf("%w: %s", formicerrors.ErrTaskNotFound, taskID)), false
	}
	if _, busy := e.inflight[taskID]; busy {
		return nil, classify(taskID, fmt.Errorf("%w: task %s is already running",
			formicerrors.ErrConcurrencyConflict, taskID)), false
	}
	if !slices.Contains(from, t.Status) {
		return nil, classify(taskID, fmt.Errorf("%w: task %s is %s",
			formicerrors.ErrInvalidTransition, taskID, t.Status)), false
	}
	if active := b.ActiveCount(); active >= e.maxConcurrent {
		return nil, classify(taskID, fmt.Errorf("%w: %d of %d slots in use",
			formicerrors.ErrConcurrencyConflict, active, e.maxConcurrent)), false
	}
	return t, domain.Result{}, true
}

// activate checks out the task branch, moves the task to briefing and starts
// run in the background. Caller holds e.mu.
func (e *Engine) activate(ctx context.Context, t *domain.Task, run func(ctx context.Context, prior string) error) domain.Result {
	prior, err := e.workflow.PrepareBranch(ctx, t.ID)
	if err != nil {
		return classify(t.ID, err)
	}

	now := e.clock.Now()
	if _, err := e.store.UpdateTask(ctx, t.ID, func(t *domain.Task) error {
		return task.TransitionAt(ctx, t, constants.TaskStatusBriefing, now)
	}); err != nil {
		if rerr := e.workflow.RestoreBranch(context.WithoutCancel(ctx), prior); rerr != nil {
			e.logger.Error().Err(rerr).Str("task_id", t.ID).Str("branch", prior).Msg("failed to restore previous branch")
		}
		return classify(t.ID, err)
	}

	e.start(t.ID, prior, run)
	return domain.Result{Kind: domain.ResultSuccess, TaskID: t.ID, Message: "Workflow started"}
}

// resume starts plan or execute for a task already sitting in the matching
// status. The task already holds its slot, so the budget is not consulted.
func (e *Engine) resume(ctx context.Context, taskID string, step constants.WorkflowStep) domain.Result {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return classify(taskID, err)
	}
	if _, busy := e.inflight[taskID]; busy {
		return classify(taskID, fmt.Errorf("%w: task %s is already running",
			formicerrors.ErrConcurrencyConflict, taskID))
	}
	want := constants.TaskStatusPlanning
	if step == constants.WorkflowStepExecute {
		want = constants.TaskStatusRunning
	}
	if t.Status != want {
		return classify(taskID, fmt.Errorf("%w: step %s needs status %s, task %s is %s",
			formicerrors.ErrInvalidTransition, step, want, taskID, t.Status))
	}

	prior, err := e.workflow.PrepareBranch(ctx, taskID)
	if err != nil {
		return classify(taskID, err)
	}
	e.start(taskID, prior, func(ctx context.Context, prior string) error {
		return e.workflow.RunStep(ctx, taskID, step, prior)
	})
	return domain.Result{Kind: domain.ResultSuccess, TaskID: taskID, Message: "Step " + step.String() + " started"}
}

// start launches run in the background. Caller holds e.mu.
func (e *Engine) start(taskID, prior string, run func(ctx context.Context, prior string) error) {
	ctx, cancel := context.WithCancel(e.base)
	f := &flight{cancel: cancel, done: make(chan struct{})}
	e.inflight[taskID] = f
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		defer close(f.done)
		defer cancel()
		defer func() {
			e.mu.Lock()
			if e.inflight[taskID] == f {
				delete(e.inflight, taskID)
			}
			e.mu.Unlock()
		}()

		if err := run(ctx, prior); err != nil {
			e.logger.Warn().Err(err).Str("task_id", taskID).Msg("workflow ended with error")
			return
		}
		e.logger.Info().Str("task_id", taskID).Msg("workflow ended")
	}()
}

// resetIdle sends an active task with no live workflow back to todo.
func (e *Engine) resetIdle(ctx context.Context, taskID string) error {
	now := e.clock.Now()
	_, err := e.store.UpdateTask(ctx, taskID, func(t *domain.Task) error {
		if err := task.TransitionAt(ctx, t, constants.TaskStatusTodo, now); err != nil {
			return err
		}
		t.ClearPID()
		task.AppendLogs(t, "[formic] Stopped by user")
		return task.AdvanceWorkflowStep(t, constants.WorkflowStepPending)
	})
	return err
}

// classify maps err onto a Result kind.
func classify(taskID string, err error) domain.Result {
	kind := domain.ResultError
	switch {
	case errors.Is(err, formicerrors.ErrTaskNotFound):
		kind = domain.ResultNotFound
	case errors.Is(err, formicerrors.ErrConcurrencyConflict),
		errors.Is(err, formicerrors.ErrGitDirtyTree),
		errors.Is(err, formicerrors.ErrBranchExists),
		errors.Is(err, formicerrors.ErrInvalidTransition),
		errors.Is(err, formicerrors.ErrProcessNotFound):
		kind = domain.ResultConflict
	}
	return domain.Result{
		Kind:    kind,
		TaskID:  taskID,
		Message: formicerrors.UserMessage(err),
		Err:     err,
	}
}
