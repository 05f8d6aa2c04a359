// Package workflow drives one task through the brief, plan and execute steps.
// Each step is one supervised agent invocation; execute is a bounded loop
// that re-invokes the agent until the subtasks file reports completion.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mrz1836/formic/internal/agent"
	"github.com/mrz1836/formic/internal/board"
	"github.com/mrz1836/formic/internal/broadcast"
	"github.com/mrz1836/formic/internal/clock"
	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
	formicerrors "github.com/mrz1836/formic/internal/errors"
	"github.com/mrz1836/formic/internal/git"
	"github.com/mrz1836/formic/internal/prompts"
	"github.com/mrz1836/formic/internal/runner"
	"github.com/mrz1836/formic/internal/task"
)

// ProcessRunner is the part of the process supervisor the engine needs.
type ProcessRunner interface {
	Spawn(ctx context.Context, spec runner.Spec) (*runner.Process, error)
	Stop(ctx context.Context, taskID string) (runner.ExitResult, error)
}

// BranchOps is the part of the git branch manager the engine needs.
type BranchOps interface {
	CurrentBranch(ctx context.Context) (string, error)
	Checkout(ctx context.Context, name string) error
	CreateBranch(ctx context.Context, name, base string) (bool, error)
	BranchStatus(ctx context.Context, name, base string) (constants.BranchStatus, error)
}

// PromptBuilder renders the prompt for one step.
type PromptBuilder interface {
	Build(step constants.WorkflowStep, data prompts.StepData, feedback *prompts.FeedbackData) (string, error)
}

// Config holds the engine limits.
type Config struct {
	// Workspace is the repository the agent works in.
	Workspace string
	// BaseBranch is used for tasks without an explicit base.
	BaseBranch string
	// MaxIterations bounds the execute loop.
	MaxIterations int
	// StepTimeout bounds every agent invocation.
	StepTimeout time.Duration
}

// Engine runs workflows. It is safe for concurrent use across tasks.
type Engine struct {
	cfg      Config
	store    board.Store
	procs    ProcessRunner
	branches BranchOps
	prompts  PromptBuilder
	adapter  *agent.Adapter
	hub      broadcast.Broadcaster
	clock    clock.Clock
	logger   zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithBroadcaster sets where status and iteration events are pushed.
func WithBroadcaster(b broadcast.Broadcaster) Option {
	return func(e *Engine) { e.hub = b }
}

// WithBranches enables branch isolation. Without it tasks run on whatever
// branch is checked out.
func WithBranches(b BranchOps) Option {
	return func(e *Engine) { e.branches = b }
}

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger.With().Str("component", "workflow").Logger()
	}
}

// New creates an Engine.
func New(cfg Config, store board.Store, procs ProcessRunner, builder PromptBuilder, adapter *agent.Adapter, opts ...Option) *Engine {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = constants.DefaultMaxExecuteIterations
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = constants.DefaultStepTimeout
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = constants.DefaultBaseBranch
	}
	e := &Engine{
		cfg:     cfg,
		store:   store,
		procs:   procs,
		prompts: builder,
		adapter: adapter,
		hub:     broadcast.Nop{},
		clock:   clock.RealClock{},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run carries the state of one workflow run.
type run struct {
	id     string
	taskID string
	logger zerolog.Logger
}

func (e *Engine) newRun(taskID string) *run {
	id := uuid.NewString()
	return &run{
		id:     id,
		taskID: taskID,
		logger: e.logger.With().Str("task_id", taskID).Str("run_id", id).Logger(),
	}
}

// PrepareBranch checks out the task's isolated branch, creating it from its
// base if needed, and records the branch metadata on the task. It returns the
// branch that was checked out before, for the caller to hand to Run.
//
// A dirty working tree fails with ErrGitDirtyTree before anything changes.
func (e *Engine) PrepareBranch(ctx context.Context, taskID string) (string, error) {
	if e.branches == nil {
		return "", nil
	}
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}

	prior, err := e.branches.CurrentBranch(ctx)
	if err != nil {
		return "", err
	}

	base := t.BaseBranch
	if base == "" {
		base = e.cfg.BaseBranch
	}
	name := t.Branch
	if name == "" {
		name = git.BranchName(t.ID, t.Title)
	}

	created, err := e.branches.CreateBranch(ctx, name, base)
	if err != nil {
		return "", err
	}

	_, err = e.store.UpdateTask(ctx, taskID, func(t *domain.Task) error {
		t.Branch = name
		t.BaseBranch = base
		if created || t.BranchStatus == "" {
			t.BranchStatus = constants.BranchStatusCreated
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return prior, nil
}

// RestoreBranch checks out prior, as returned by PrepareBranch, for a
// prepared task whose workflow never started.
func (e *Engine) RestoreBranch(ctx context.Context, prior string) error {
	if e.branches == nil || prior == "" {
		return nil
	}
	return e.branches.Checkout(ctx, prior)
}

// Run executes the remaining steps of a task that is already active
// (briefing, planning or running), then restores priorBranch. Step failures
// reset the task to todo and are returned.
func (e *Engine) Run(ctx context.Context, taskID, priorBranch string) error {
	r := e.newRun(taskID)
	defer e.finish(ctx, r, priorBranch)

	r.logger.Info().Msg("workflow started")
	for {
		// Read without ctx so a canceled run still sees the status it must reset.
		t, err := e.store.GetTask(context.WithoutCancel(ctx), taskID)
		if err != nil {
			return err
		}
		step, ok := activeStep(t.Status)
		if !ok {
			r.logger.Info().Str("status", t.Status.String()).Msg("workflow finished")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return e.fail(ctx, r, step, err)
		}

		if step == constants.WorkflowStepExecute {
			if err := e.runExecute(ctx, r); err != nil {
				return err
			}
			r.logger.Info().Msg("workflow finished")
			return nil
		}
		if err := e.runPhase(ctx, r, step); err != nil {
			return err
		}
	}
}

// activeStep returns the step a task in status is due to run.
func activeStep(status constants.TaskStatus) (constants.WorkflowStep, bool) {
	switch status {
	case constants.TaskStatusBriefing:
		return constants.WorkflowStepBrief, true
	case constants.TaskStatusPlanning:
		return constants.WorkflowStepPlan, true
	case constants.TaskStatusRunning:
		return constants.WorkflowStepExecute, true
	case constants.TaskStatusTodo, constants.TaskStatusQueued, constants.TaskStatusReview, constants.TaskStatusDone:
	}
	return "", false
}

// RunStep runs exactly one step and restores priorBranch. The task's status
// must already match the step (briefing for brief, planning for plan,
// running for execute).
func (e *Engine) RunStep(ctx context.Context, taskID string, step constants.WorkflowStep, priorBranch string) error {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := checkStepStatus(t, step); err != nil {
		return err
	}

	r := e.newRun(taskID)
	defer e.finish(ctx, r, priorBranch)

	if step == constants.WorkflowStepExecute {
		return e.runExecute(ctx, r)
	}
	return e.runPhase(ctx, r, step)
}

// StepStatus returns the status a task must hold to run step.
func StepStatus(step constants.WorkflowStep) (constants.TaskStatus, error) {
	switch step {
	case constants.WorkflowStepBrief:
		return constants.TaskStatusBriefing, nil
	case constants.WorkflowStepPlan:
		return constants.TaskStatusPlanning, nil
	case constants.WorkflowStepExecute:
		return constants.TaskStatusRunning, nil
	case constants.WorkflowStepPending, constants.WorkflowStepComplete:
	}
	return "", fmt.Errorf("%w: %s", formicerrors.ErrUnknownStep, step)
}

func checkStepStatus(t *domain.Task, step constants.WorkflowStep) error {
	want, err := StepStatus(step)
	if err != nil {
		return err
	}
	if t.Status != want {
		return fmt.Errorf("%w: step %s needs status %s, task %s is %s",
			formicerrors.ErrInvalidTransition, step, want, t.ID, t.Status)
	}
	return nil
}

// runPhase runs brief or plan and advances the task on success.
func (e *Engine) runPhase(ctx context.Context, r *run, step constants.WorkflowStep) error {
	t, err := e.enterStep(ctx, r, step)
	if err != nil {
		return e.fail(ctx, r, step, err)
	}
	if step == constants.WorkflowStepBrief {
		if err := os.MkdirAll(e.docsDir(t), 0o750); err != nil {
			return e.fail(ctx, r, step, fmt.Errorf("failed to create docs folder: %w", err))
		}
	}

	prompt, err := e.prompts.Build(step, stepData(t), nil)
	if err != nil {
		return e.fail(ctx, r, step, err)
	}
	if err := e.invoke(ctx, r, step, prompt); err != nil {
		return e.fail(ctx, r, step, err)
	}

	next, nextStep := constants.TaskStatusPlanning, constants.WorkflowStepPlan
	if step == constants.WorkflowStepPlan {
		next, nextStep = constants.TaskStatusRunning, constants.WorkflowStepExecute
	}
	if err := e.advance(ctx, r, next, nextStep); err != nil {
		return e.fail(ctx, r, step, err)
	}
	r.logger.Info().Str("step", step.String()).Msg("step completed")
	return nil
}

// enterStep records that step is running and returns the fresh task.
func (e *Engine) enterStep(ctx context.Context, r *run, step constants.WorkflowStep) (*domain.Task, error) {
	t, err := e.store.UpdateTask(ctx, r.taskID, func(t *domain.Task) error {
		return task.AdvanceWorkflowStep(t, step)
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info().Str("step", step.String()).Msg("step started")
	return t, nil
}

// advance applies a status transition and the matching workflow step.
func (e *Engine) advance(ctx context.Context, r *run, to constants.TaskStatus, step constants.WorkflowStep) error {
	ctx = context.WithoutCancel(ctx)
	now := e.clock.Now()
	_, err := e.store.UpdateTask(ctx, r.taskID, func(t *domain.Task) error {
		if err := task.TransitionAt(ctx, t, to, now); err != nil {
			return err
		}
		return task.AdvanceWorkflowStep(t, step)
	})
	if err != nil {
		return err
	}
	e.broadcastStatus(r, to)
	return nil
}

// invoke runs the agent once and waits for it under the step timeout.
func (e *Engine) invoke(ctx context.Context, r *run, step constants.WorkflowStep, prompt string) error {
	inv := e.adapter.BuildInvocation(prompt)
	p, err := e.procs.Spawn(ctx, runner.Spec{
		TaskID:  r.taskID,
		Command: inv.Command,
		Args:    inv.Args,
		Dir:     e.cfg.Workspace,
	})
	if err != nil {
		return err
	}

	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	res, err := p.Wait(stepCtx)
	if err != nil {
		// The agent is killed either way; stopping uses a fresh context so a
		// canceled parent cannot cut the grace period short.
		if _, stopErr := e.procs.Stop(context.WithoutCancel(ctx), r.taskID); stopErr != nil &&
			!errors.Is(stopErr, formicerrors.ErrProcessNotFound) {
			r.logger.Warn().Err(stopErr).Msg("failed to stop agent after step deadline")
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %s exceeded %s", formicerrors.ErrStepTimeout, step, e.cfg.StepTimeout)
		}
		return err
	}

	switch {
	case res.Stopped:
		return fmt.Errorf("%w: %s stopped", formicerrors.ErrStepFailed, step)
	case res.Err != nil:
		return fmt.Errorf("%w: %s: %w", formicerrors.ErrStepFailed, step, res.Err)
	case res.ExitCode != 0:
		return fmt.Errorf("%w: %s exited with code %d", formicerrors.ErrStepFailed, step, res.ExitCode)
	}
	return nil
}

// fail resets the task to todo/pending and records the failure.
func (e *Engine) fail(ctx context.Context, r *run, step constants.WorkflowStep, cause error) error {
	r.logger.Error().Err(cause).Str("step", step.String()).Msg("step failed")

	msg := fmt.Sprintf("[formic] Step %s failed: %s", step, formicerrors.UserMessage(cause))
	if detail := cause.Error(); detail != formicerrors.UserMessage(cause) {
		msg += " (" + detail + ")"
	}
	now := e.clock.Now()
	_, err := e.store.UpdateTask(context.WithoutCancel(ctx), r.taskID, func(t *domain.Task) error {
		task.AppendLogs(t, msg)
		t.ClearPID()
		if task.CanReset(t.Status) {
			if err := task.TransitionAt(context.WithoutCancel(ctx), t, constants.TaskStatusTodo, now); err != nil {
				return err
			}
		}
		return task.AdvanceWorkflowStep(t, constants.WorkflowStepPending)
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to reset task after step failure")
	}

	e.hub.Broadcast(r.taskID, domain.NewLogMessage(constants.LogTypeError, msg, now))
	e.broadcastStatus(r, constants.TaskStatusTodo)
	return fmt.Errorf("step %s: %w", step, cause)
}

// finish refreshes the branch status and returns to the prior branch.
func (e *Engine) finish(ctx context.Context, r *run, priorBranch string) {
	if e.branches == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	t, err := e.store.GetTask(ctx, r.taskID)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to reload task after workflow")
		return
	}
	if t.Branch != "" && t.BaseBranch != "" {
		status, err := e.branches.BranchStatus(ctx, t.Branch, t.BaseBranch)
		if err != nil {
			r.logger.Warn().Err(err).Str("branch", t.Branch).Msg("failed to refresh branch status")
		} else if status != t.BranchStatus {
			if _, err := e.store.UpdateTask(ctx, r.taskID, func(t *domain.Task) error {
				t.BranchStatus = status
				return nil
			}); err != nil {
				r.logger.Warn().Err(err).Msg("failed to record branch status")
			}
			if status == constants.BranchStatusConflicts {
				r.logger.Warn().Str("branch", t.Branch).Str("base", t.BaseBranch).Msg(formicerrors.ErrGitConflict.Error())
			}
		}
	}

	if priorBranch != "" && priorBranch != t.Branch {
		if err := e.branches.Checkout(ctx, priorBranch); err != nil {
			r.logger.Error().Err(err).Str("branch", priorBranch).Msg("failed to restore previous branch")
		}
	}
}

func (e *Engine) broadcastStatus(r *run, status constants.TaskStatus) {
	msg := domain.NewLogMessage(constants.LogTypeStatus, status.String(), e.clock.Now())
	msg.Status = status.String()
	msg.RunID = r.id
	e.hub.Broadcast(r.taskID, msg)
}

func (e *Engine) docsDir(t *domain.Task) string {
	if filepath.IsAbs(t.DocsPath) {
		return t.DocsPath
	}
	return filepath.Join(e.cfg.Workspace, t.DocsPath)
}

func stepData(t *domain.Task) prompts.StepData {
	return prompts.StepData{
		TaskID:   t.ID,
		Title:    t.Title,
		Context:  t.Context,
		DocsPath: t.DocsPath,
	}
}
