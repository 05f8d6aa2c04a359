// Package recovery repairs task state left behind by an unclean shutdown.
//
// It runs once, before the queue scheduler starts. No agent process can
// still belong to this engine at that point, so every recorded pid is stale
// and every active status describes a workflow that is no longer running.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrz1836/formic/internal/board"
	"github.com/mrz1836/formic/internal/clock"
	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
	"github.com/mrz1836/formic/internal/task"
)

// Action is what recovery did to one task.
type Action string

// Recovery actions.
const (
	// ActionReset sent an interrupted task back to todo.
	ActionReset Action = "reset"
	// ActionRequeue cleared the pid of a queued task so the scheduler re-admits it.
	ActionRequeue Action = "requeue"
	// ActionClearPID cleared a stale pid and left the status alone.
	ActionClearPID Action = "clear_pid"
)

// Repair describes one recovered task.
type Repair struct {
	TaskID string
	From   constants.TaskStatus
	To     constants.TaskStatus
	PID    int
	Action Action
}

// Report lists every repair made by one recovery pass.
type Report struct {
	Repairs []Repair
}

// Count returns the number of repaired tasks.
func (r Report) Count() int {
	return len(r.Repairs)
}

// Manager performs startup recovery against a board store.
type Manager struct {
	store  board.Store
	clock  clock.Clock
	logger zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for transition timestamps.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger.With().Str("component", "recovery").Logger()
	}
}

// New creates a Manager.
func New(store board.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		clock:  clock.RealClock{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Recover repairs every inconsistent task in a single board update:
//
//	briefing, planning, running -> todo, workflow step pending
//	queued holding a pid        -> queued, pid cleared
//	any other status with a pid -> unchanged, pid cleared
//
// A recovery note is appended to each repaired task's logs. An unreadable
// board is returned as an error; the caller must not start the scheduler.
func (m *Manager) Recover(ctx context.Context) (Report, error) {
	var report Report
	now := m.clock.Now()

	_, err := m.store.Update(ctx, func(b *domain.Board) error {
		report = Report{}
		for _, t := range b.Tasks {
			repair, ok, err := recoverTask(ctx, t, now)
			if err != nil {
				return err
			}
			if ok {
				report.Repairs = append(report.Repairs, repair)
			}
		}
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("recovery failed: %w", err)
	}

	for _, r := range report.Repairs {
		m.logger.Warn().
			Str("task_id", r.TaskID).
			Str("from", r.From.String()).
			Str("to", r.To.String()).
			Int("stale_pid", r.PID).
			Str("action", string(r.Action)).
			Msg("recovered task after unclean shutdown")
	}
	m.logger.Info().Int("repaired", report.Count()).Msg("recovery complete")
	return report, nil
}

func recoverTask(ctx context.Context, t *domain.Task, now time.Time) (Repair, bool, error) {
	if !t.Status.IsActive() && !t.HasPID() {
		return Repair{}, false, nil
	}

	r := Repair{TaskID: t.ID, From: t.Status, To: t.Status}
	if t.HasPID() {
		r.PID = *t.PID
	}
	t.ClearPID()

	switch {
	case t.Status.IsActive():
		if err := task.TransitionAt(ctx, t, constants.TaskStatusTodo, now); err != nil {
			return Repair{}, false, err
		}
		if err := task.AdvanceWorkflowStep(t, constants.WorkflowStepPending); err != nil {
			return Repair{}, false, err
		}
		r.To = constants.TaskStatusTodo
		r.Action = ActionReset
		task.AppendLogs(t, fmt.Sprintf("[formic] Recovered after restart: %s interrupted, reset to todo", r.From))
	case t.Status == constants.TaskStatusQueued:
		r.Action = ActionRequeue
		task.AppendLogs(t, fmt.Sprintf("[formic] Recovered after restart: cleared stale pid %d, left queued", r.PID))
	default:
		r.Action = ActionClearPID
		task.AppendLogs(t, fmt.Sprintf("[formic] Recovered after restart: cleared stale pid %d", r.PID))
	}
	t.UpdatedAt = now
	return r, true, nil
}
