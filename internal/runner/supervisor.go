// Package runner supervises the external agent processes, one per workflow
// step. It owns the registry of live processes, pumps their output to
// subscribers and persists the tail of the output on the task when the
// process exits.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mrz1836/formic/internal/board"
	"github.com/mrz1836/formic/internal/broadcast"
	"github.com/mrz1836/formic/internal/clock"
	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
	formicerrors "github.com/mrz1836/formic/internal/errors"
	"github.com/mrz1836/formic/internal/logging"
	"github.com/mrz1836/formic/internal/task"
)

// maxLineSize bounds a single output line (1MB), matching long JSON lines
// some agents print.
const maxLineSize = 1024 * 1024

// outputDrainWindow is how long output is still read after the agent exits.
const outputDrainWindow = 500 * time.Millisecond

// Spec is one process to start.
type Spec struct {
	TaskID  string
	Command string
	Args    []string
	// Dir is the working directory (the workspace).
	Dir string
	// Env is appended to the engine's own environment.
	Env []string
}

// ExitResult is the single completion signal of a process.
type ExitResult struct {
	// ExitCode is the process exit code, -1 when killed by a signal.
	ExitCode int
	// Stopped is set when the exit was requested through Stop.
	Stopped bool
	// Forced is set when Stop had to escalate to SIGKILL.
	Forced bool
	// Err is a wait or stream error not described by the exit code.
	Err error
	// Lines holds the last output lines, capped at constants.MaxAgentLogLines.
	Lines []string
}

// Success reports whether the process exited cleanly with code 0.
func (r ExitResult) Success() bool {
	return r.Err == nil && r.ExitCode == 0 && !r.Stopped
}

// Process is a live or finished agent process.
type Process struct {
	TaskID string
	PID    int

	cmd      *exec.Cmd
	done     chan struct{}
	result   ExitResult
	stopping atomic.Bool
	forced   atomic.Bool
}

// Done is closed once the process has exited and its output is flushed.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits or ctx is done.
func (p *Process) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case <-p.done:
		return p.result, nil
	case <-ctx.Done():
		return ExitResult{}, ctx.Err()
	}
}

// Supervisor starts, tracks and stops agent processes. The zero value is not
// usable; create one with New.
type Supervisor struct {
	mu    sync.Mutex
	procs map[string]*Process

	hub       broadcast.Broadcaster
	store     board.Store
	clock     clock.Clock
	grace     time.Duration
	singleRun bool
	logger    zerolog.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithBroadcaster sets where output events are pushed.
func WithBroadcaster(b broadcast.Broadcaster) Option {
	return func(s *Supervisor) { s.hub = b }
}

// WithStore makes the supervisor record the pid on spawn and persist the
// output tail onto the task's agentLogs on exit.
func WithStore(store board.Store) Option {
	return func(s *Supervisor) { s.store = store }
}

// WithClock sets the clock used for event timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithGracePeriod sets how long Stop waits after SIGTERM before SIGKILL.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithSingleRun allows only one live process across the whole engine.
func WithSingleRun(enabled bool) Option {
	return func(s *Supervisor) { s.singleRun = enabled }
}

// WithLogger sets the supervisor logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger.With().Str("component", "runner").Logger()
	}
}

// New creates a Supervisor.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		procs:  make(map[string]*Process),
		hub:    broadcast.Nop{},
		clock:  clock.RealClock{},
		grace:  constants.DefaultGracePeriod,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn starts spec's process and returns once it is running.
//
// Returns ErrConcurrencyConflict when the task already has a process (or,
// in single-run mode, when any task does) and ErrSpawnFailure when the
// operating system rejects the start; a missing binary also matches
// ErrBinaryNotFound.
func (s *Supervisor) Spawn(ctx context.Context, spec Spec) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.procs[spec.TaskID]; ok {
		return nil, fmt.Errorf("%w: task %s already has a running agent", formicerrors.ErrConcurrencyConflict, spec.TaskID)
	}
	if s.singleRun {
		for id := range s.procs {
			return nil, fmt.Errorf("%w: task %s is running", formicerrors.ErrConcurrencyConflict, id)
		}
	}

	cmd := exec.Command(spec.Command, spec.Args...) //#nosec G204 -- command comes from the configured agent adapter
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	setProcessGroup(cmd)

	// Agents run non-interactively; a nil Stdin reads from the null device so
	// they never wait on a prompt. Output goes through pipes owned here rather
	// than exec's, so the process can be reaped while descendants still hold
	// the write ends.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", formicerrors.ErrSpawnFailure, err)
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdout, stdoutW)
		return nil, fmt.Errorf("%w: %w", formicerrors.ErrSpawnFailure, err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	closeAll(stdoutW, stderrW)
	if err != nil {
		closeAll(stdout, stderr)
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w: %s", formicerrors.ErrSpawnFailure, formicerrors.ErrBinaryNotFound, spec.Command)
		}
		return nil, fmt.Errorf("%w: %s: %w", formicerrors.ErrSpawnFailure, spec.Command, err)
	}

	p := &Process{
		TaskID: spec.TaskID,
		PID:    cmd.Process.Pid,
		cmd:    cmd,
		done:   make(chan struct{}),
	}
	s.procs[spec.TaskID] = p

	s.logger.Info().
		Str("task_id", spec.TaskID).
		Int("pid", p.PID).
		Str("command", spec.Command).
		Msg("agent process started")

	s.recordPID(spec.TaskID, p.PID)
	go s.supervise(p, stdout, stderr)
	return p, nil
}

// outputLine is one line read from a process stream.
type outputLine struct {
	stream constants.LogType
	text   string
}

// supervise pumps both streams through a bounded channel, reaps the process
// and publishes the single completion signal.
//
// The process is reaped as soon as it exits. Background children that
// inherited its output are given outputDrainWindow to finish writing, then
// the process group is killed and the pipes are closed, so a finished agent
// never waits on a server it left running.
func (s *Supervisor) supervise(p *Process, stdout, stderr *os.File) {
	defer closeAll(stdout, stderr)
	lines := make(chan outputLine, constants.OutputBuffer)

	var g errgroup.Group
	g.Go(func() error { return pump(stdout, constants.LogTypeStdout, lines) })
	g.Go(func() error { return pump(stderr, constants.LogTypeStderr, lines) })

	collected := make(chan []string, 1)
	go func() {
		var tail []string
		for l := range lines {
			text := logging.Redact(l.text)
			tail = task.CapLines(append(tail, text), constants.MaxAgentLogLines)
			s.hub.Broadcast(p.TaskID, domain.NewLogMessage(l.stream, text, s.clock.Now()))
		}
		collected <- tail
	}()

	streamsDone := make(chan error, 1)
	go func() { streamsDone <- g.Wait() }()

	waitErr := p.cmd.Wait()

	var streamErr error
	timer := time.NewTimer(outputDrainWindow)
	select {
	case streamErr = <-streamsDone:
	case <-timer.C:
		s.logger.Warn().
			Str("task_id", p.TaskID).
			Int("pid", p.PID).
			Msg("agent exited but left processes holding its output; stopping them")
		if err := kill(p.cmd); err != nil {
			s.logger.Warn().Err(err).Str("task_id", p.TaskID).Msg("failed to kill agent process group")
		}
		closeAll(stdout, stderr)
		streamErr = <-streamsDone
	}
	timer.Stop()
	close(lines)
	tail := <-collected

	res := ExitResult{
		ExitCode: p.cmd.ProcessState.ExitCode(),
		Stopped:  p.stopping.Load(),
		Forced:   p.forced.Load(),
		Lines:    tail,
	}
	var exitErr *exec.ExitError
	switch {
	case waitErr != nil && !errors.As(waitErr, &exitErr):
		res.Err = waitErr
	case streamErr != nil:
		res.Err = streamErr
	}

	s.persist(p.TaskID, tail)

	s.mu.Lock()
	if s.procs[p.TaskID] == p {
		delete(s.procs, p.TaskID)
	}
	s.mu.Unlock()

	p.result = res
	s.hub.Broadcast(p.TaskID, s.terminalEvent(res))

	s.logger.Info().
		Str("task_id", p.TaskID).
		Int("pid", p.PID).
		Int("exit_code", res.ExitCode).
		Bool("stopped", res.Stopped).
		Bool("forced", res.Forced).
		Msg("agent process exited")

	close(p.done)
}

// pump forwards r line by line. It blocks when the channel is full so a
// burst of output applies backpressure to the pipe instead of growing memory.
func pump(r io.Reader, stream constants.LogType, out chan<- outputLine) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		out <- outputLine{stream: stream, text: scanner.Text()}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("failed to read %s: %w", stream, err)
	}
	return nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func (s *Supervisor) terminalEvent(res ExitResult) domain.LogMessage {
	now := s.clock.Now()
	switch {
	case res.Err != nil:
		return domain.NewLogMessage(constants.LogTypeError, res.Err.Error(), now)
	case res.Forced:
		return domain.NewLogMessage(constants.LogTypeExit, "Process killed after grace period", now)
	case res.Stopped:
		return domain.NewLogMessage(constants.LogTypeExit, "Process terminated", now)
	default:
		return domain.NewLogMessage(constants.LogTypeExit, fmt.Sprintf("Process exited with code %d", res.ExitCode), now)
	}
}

// Stop terminates the task's process: SIGTERM, then SIGKILL if it is still
// alive after the grace period. It returns once the process has been reaped.
//
// Returns ErrProcessNotFound if the task has no live process.
func (s *Supervisor) Stop(ctx context.Context, taskID string) (ExitResult, error) {
	s.mu.Lock()
	p, ok := s.procs[taskID]
	s.mu.Unlock()
	if !ok {
		return ExitResult{}, fmt.Errorf("%w: %s", formicerrors.ErrProcessNotFound, taskID)
	}

	p.stopping.Store(true)
	if err := terminate(p.cmd); err != nil {
		s.logger.Warn().Err(err).Str("task_id", taskID).Int("pid", p.PID).Msg("failed to send SIGTERM")
	}

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.result, nil
	case <-timer.C:
		s.logger.Warn().Str("task_id", taskID).Int("pid", p.PID).Dur("grace", s.grace).
			Msg("process did not exit after SIGTERM, sending SIGKILL")
		p.forced.Store(true)
		if err := kill(p.cmd); err != nil {
			s.logger.Error().Err(err).Str("task_id", taskID).Int("pid", p.PID).Msg("failed to send SIGKILL")
		}
	case <-ctx.Done():
		return ExitResult{}, ctx.Err()
	}

	return p.Wait(ctx)
}

// StopAll stops every live process; used on engine shutdown.
func (s *Supervisor) StopAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, id := range s.Active() {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := s.Stop(ctx, id); err != nil && !errors.Is(err, formicerrors.ErrProcessNotFound) {
				s.logger.Warn().Err(err).Str("task_id", id).Msg("failed to stop agent process")
			}
		}(id)
	}
	wg.Wait()
}

// Running reports whether taskID has a live process.
func (s *Supervisor) Running(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[taskID]
	return ok
}

// Active returns the ids of tasks with a live process, sorted.
func (s *Supervisor) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Supervisor) recordPID(taskID string, pid int) {
	if s.store == nil {
		return
	}
	if _, err := s.store.UpdateTask(context.Background(), taskID, func(t *domain.Task) error {
		t.SetPID(pid)
		t.SetOwner(os.Getpid())
		return nil
	}); err != nil {
		s.logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to record agent pid")
	}
}

func (s *Supervisor) persist(taskID string, lines []string) {
	if s.store == nil {
		return
	}
	if _, err := s.store.UpdateTask(context.Background(), taskID, func(t *domain.Task) error {
		task.AppendLogs(t, lines...)
		t.ClearPID()
		return nil
	}); err != nil {
		s.logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to persist agent logs")
	}
}
