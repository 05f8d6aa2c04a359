//go:build !windows

package workflow

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/formic/internal/agent"
	"github.com/mrz1836/formic/internal/board"
	"github.com/mrz1836/formic/internal/broadcast"
	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
	formicerrors "github.com/mrz1836/formic/internal/errors"
	"github.com/mrz1836/formic/internal/prompts"
	"github.com/mrz1836/formic/internal/runner"
	"github.com/mrz1836/formic/internal/task"
)

const testTitle = "Add feature"

const completeSubtasks = `{"taskId":"t-1","subtasks":[
{"id":"1","content":"write code","status":"completed"},
{"id":"2","content":"write tests","status":"completed"}]}`

const partialSubtasks = `{"taskId":"t-1","subtasks":[
{"id":"1","content":"write code","status":"completed"},
{"id":"2","content":"write tests","status":"pending"}]}`

// fakeBranches records branch operations without touching git.
type fakeBranches struct {
	mu        sync.Mutex
	current   string
	createErr error
	status    constants.BranchStatus
	created   []string
	checkouts []string
}

func (f *fakeBranches) CurrentBranch(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeBranches) Checkout(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, name)
	f.current = name
	return nil
}

func (f *fakeBranches) CreateBranch(_ context.Context, name, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return false, f.createErr
	}
	f.created = append(f.created, name)
	f.current = name
	return true, nil
}

func (f *fakeBranches) BranchStatus(context.Context, string, string) (constants.BranchStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

type harness struct {
	ws     string
	store  *board.FileStore
	hub    *broadcast.Hub
	engine *Engine
}

// newHarness wires an engine whose agent is `sh -c script agent <prompt>`,
// so scripts see the prompt as $1 and run inside the workspace.
func newHarness(t *testing.T, script string, cfg Config, builder PromptBuilder, opts ...Option) *harness {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	ws := t.TempDir()
	store := board.NewFileStore(ws)
	hub := broadcast.NewHub()
	procs := runner.New(
		runner.WithStore(store),
		runner.WithBroadcaster(hub),
		runner.WithGracePeriod(100*time.Millisecond),
	)
	adapter := &agent.Adapter{
		Type:    "sh",
		Command: "sh",
		Args: func(prompt string) []string {
			return []string{"-c", script, "agent", prompt}
		},
	}
	if builder == nil {
		builder = prompts.NewBuilder(nil, "", zerolog.Nop())
	}
	cfg.Workspace = ws

	opts = append([]Option{WithBroadcaster(hub)}, opts...)
	return &harness{
		ws:     ws,
		store:  store,
		hub:    hub,
		engine: New(cfg, store, procs, builder, adapter, opts...),
	}
}

// docs is the workspace-relative docs folder of the harness task.
func docs() string {
	return board.DocsPath("t-1", testTitle)
}

func (h *harness) fixture(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.ws, name), []byte(content), 0o600))
}

// createTask adds t-1 and walks it through the state machine to status.
func (h *harness) createTask(t *testing.T, status constants.TaskStatus) *domain.Task {
	t.Helper()
	ctx := context.Background()
	created, err := h.store.CreateTask(ctx, board.NewTaskInput{Title: testTitle, Context: "make it work"})
	require.NoError(t, err)
	require.Equal(t, "t-1", created.ID)

	path := map[constants.TaskStatus][]constants.TaskStatus{
		constants.TaskStatusTodo:     nil,
		constants.TaskStatusBriefing: {constants.TaskStatusBriefing},
		constants.TaskStatusPlanning: {constants.TaskStatusBriefing, constants.TaskStatusPlanning},
		constants.TaskStatusRunning:  {constants.TaskStatusBriefing, constants.TaskStatusPlanning, constants.TaskStatusRunning},
	}[status]

	updated, err := h.store.UpdateTask(ctx, created.ID, func(tk *domain.Task) error {
		for _, s := range path {
			if err := task.Transition(ctx, tk, s); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return updated
}

func (h *harness) task(t *testing.T) *domain.Task {
	t.Helper()
	got, err := h.store.GetTask(context.Background(), "t-1")
	require.NoError(t, err)
	return got
}

func (h *harness) lines(t *testing.T, name string) int {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.ws, name)) //#nosec G304 -- test temp dir
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	require.NoError(t, err)
	return strings.Count(string(data), "\n")
}

func drain(ch <-chan domain.LogMessage) []domain.LogMessage {
	var out []domain.LogMessage
	for {
		select {
		case m := <-ch:
			out = append(out, m)
		default:
			return out
		}
	}
}

func ofType(msgs []domain.LogMessage, typ constants.LogType) []domain.LogMessage {
	var out []domain.LogMessage
	for _, m := range msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func hasLine(logs []string, substr string) bool {
	for _, l := range logs {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func TestEngine_RunFullWorkflowToReview(t *testing.T) {
	script := `echo call >> calls.log
mkdir -p "` + docs() + `" && cp complete.json "` + docs() + `/subtasks.json"
echo "agent done"`
	h := newHarness(t, script, Config{}, nil)
	h.fixture(t, "complete.json", completeSubtasks)
	h.createTask(t, constants.TaskStatusBriefing)

	events, cancel := h.hub.Subscribe("t-1")
	defer cancel()

	require.NoError(t, h.engine.Run(context.Background(), "t-1", ""))

	got := h.task(t)
	assert.Equal(t, constants.TaskStatusReview, got.Status)
	assert.Equal(t, constants.WorkflowStepComplete, got.WorkflowStep)
	assert.Nil(t, got.PID)
	assert.Contains(t, got.AgentLogs, "agent done")
	assert.Equal(t, 3, h.lines(t, "calls.log"), "brief, plan and one execute iteration")
	assert.DirExists(t, filepath.Join(h.ws, docs()))

	var statuses []string
	for _, m := range ofType(drain(events), constants.LogTypeStatus) {
		statuses = append(statuses, m.Status)
		assert.NotEmpty(t, m.RunID)
	}
	assert.Equal(t, []string{"planning", "running", "review"}, statuses)
}

func TestEngine_ExecuteStopsAtIterationCeiling(t *testing.T) {
	script := `echo call >> calls.log
case "$1" in *"Progress check"*) echo feedback >> feedback.log ;; esac
mkdir -p "` + docs() + `" && cp partial.json "` + docs() + `/subtasks.json"`
	h := newHarness(t, script, Config{MaxIterations: 5}, nil)
	h.fixture(t, "partial.json", partialSubtasks)
	h.createTask(t, constants.TaskStatusRunning)

	events, cancel := h.hub.Subscribe("t-1")
	defer cancel()

	require.NoError(t, h.engine.RunStep(context.Background(), "t-1", constants.WorkflowStepExecute, ""))

	assert.Equal(t, 5, h.lines(t, "calls.log"), "no sixth invocation")
	assert.Equal(t, 4, h.lines(t, "feedback.log"), "feedback from the second iteration on")

	got := h.task(t)
	assert.Equal(t, constants.TaskStatusReview, got.Status)
	assert.Equal(t, constants.WorkflowStepComplete, got.WorkflowStep)
	assert.True(t, hasLine(got.AgentLogs, "Iteration limit reached (5/5) at 50% complete"))

	iterations := ofType(drain(events), constants.LogTypeIteration)
	require.Len(t, iterations, 5)
	for i, m := range iterations[:4] {
		assert.Equal(t, i+1, m.Iteration)
		assert.Equal(t, 5, m.MaxIterations)
		assert.Equal(t, 50, m.Percentage)
		assert.False(t, m.LimitReached)
	}
	last := iterations[4]
	assert.True(t, last.LimitReached)
	assert.Equal(t, 5, last.Iteration)
}

func TestEngine_ExecuteCompletesEarly(t *testing.T) {
	// First iteration leaves work; second finishes it.
	script := `echo call >> calls.log
mkdir -p "` + docs() + `"
case "$1" in
  *"Progress check"*) cp complete.json "` + docs() + `/subtasks.json" ;;
  *) cp partial.json "` + docs() + `/subtasks.json" ;;
esac`
	h := newHarness(t, script, Config{MaxIterations: 5}, nil)
	h.fixture(t, "partial.json", partialSubtasks)
	h.fixture(t, "complete.json", completeSubtasks)
	h.createTask(t, constants.TaskStatusRunning)

	require.NoError(t, h.engine.RunStep(context.Background(), "t-1", constants.WorkflowStepExecute, ""))

	assert.Equal(t, 2, h.lines(t, "calls.log"))
	got := h.task(t)
	assert.Equal(t, constants.TaskStatusReview, got.Status)
	assert.False(t, hasLine(got.AgentLogs, "Iteration limit reached"))
}

func TestEngine_ExecuteMissingSubtasksCountsAsIncomplete(t *testing.T) {
	script := `echo call >> calls.log
case "$1" in *"could not be read"*) echo feedback >> feedback.log ;; esac`
	h := newHarness(t, script, Config{MaxIterations: 2}, nil)
	h.createTask(t, constants.TaskStatusRunning)

	require.NoError(t, h.engine.RunStep(context.Background(), "t-1", constants.WorkflowStepExecute, ""))

	assert.Equal(t, 2, h.lines(t, "calls.log"))
	assert.Equal(t, 1, h.lines(t, "feedback.log"))

	got := h.task(t)
	assert.Equal(t, constants.TaskStatusReview, got.Status)
	assert.True(t, hasLine(got.AgentLogs, formicerrors.ErrSubtasksFileMissing.Error()))
}

func TestEngine_StepFailureResetsToTodo(t *testing.T) {
	h := newHarness(t, `echo "compile error" 1>&2; exit 3`, Config{}, nil)
	h.createTask(t, constants.TaskStatusBriefing)

	events, cancel := h.hub.Subscribe("t-1")
	defer cancel()

	err := h.engine.Run(context.Background(), "t-1", "")
	require.ErrorIs(t, err, formicerrors.ErrStepFailed)

	got := h.task(t)
	assert.Equal(t, constants.TaskStatusTodo, got.Status)
	assert.Equal(t, constants.WorkflowStepPending, got.WorkflowStep)
	assert.Nil(t, got.PID)
	assert.Contains(t, got.AgentLogs, "compile error")
	assert.True(t, hasLine(got.AgentLogs, "[formic] Step brief failed"))

	msgs := drain(events)
	errs := ofType(msgs, constants.LogTypeError)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[len(errs)-1].Data, "Step brief failed")
}

func TestEngine_StepTimeout(t *testing.T) {
	h := newHarness(t, `sleep 10`, Config{StepTimeout: 300 * time.Millisecond}, nil)
	h.createTask(t, constants.TaskStatusBriefing)

	start := time.Now()
	err := h.engine.Run(context.Background(), "t-1", "")
	require.ErrorIs(t, err, formicerrors.ErrStepTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)

	got := h.task(t)
	assert.Equal(t, constants.TaskStatusTodo, got.Status)
	assert.Equal(t, constants.WorkflowStepPending, got.WorkflowStep)
	assert.True(t, hasLine(got.AgentLogs, "timed out"))
}

func TestEngine_UnknownPlaceholderFailsStep(t *testing.T) {
	skills := t.TempDir()
	stepDir := filepath.Join(skills, string(constants.WorkflowStepBrief))
	require.NoError(t, os.MkdirAll(stepDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(stepDir, constants.SkillFileName),
		[]byte("Brief {{TASK_TITLE}} for {{TASK_OWNER}}"), 0o600))

	builder := prompts.NewBuilder([]string{skills}, "", zerolog.Nop())
	h := newHarness(t, `echo call >> calls.log`, Config{}, builder)
	h.createTask(t, constants.TaskStatusBriefing)

	err := h.engine.Run(context.Background(), "t-1", "")
	require.ErrorIs(t, err, formicerrors.ErrUnknownPlaceholder)
	assert.Equal(t, 0, h.lines(t, "calls.log"), "agent never invoked")
	assert.Equal(t, constants.TaskStatusTodo, h.task(t).Status)
}

func TestEngine_RunStepRequiresMatchingStatus(t *testing.T) {
	h := newHarness(t, `true`, Config{}, nil)
	h.createTask(t, constants.TaskStatusTodo)

	err := h.engine.RunStep(context.Background(), "t-1", constants.WorkflowStepBrief, "")
	require.ErrorIs(t, err, formicerrors.ErrInvalidTransition)
	assert.Equal(t, constants.TaskStatusTodo, h.task(t).Status)

	_, err = StepStatus(constants.WorkflowStepComplete)
	require.ErrorIs(t, err, formicerrors.ErrUnknownStep)
}

func TestEngine_RunSinglePhaseStep(t *testing.T) {
	h := newHarness(t, `echo call >> calls.log`, Config{}, nil)
	h.createTask(t, constants.TaskStatusBriefing)

	require.NoError(t, h.engine.RunStep(context.Background(), "t-1", constants.WorkflowStepBrief, ""))

	got := h.task(t)
	assert.Equal(t, constants.TaskStatusPlanning, got.Status)
	assert.Equal(t, constants.WorkflowStepPlan, got.WorkflowStep)
	assert.Equal(t, 1, h.lines(t, "calls.log"))
}

func TestEngine_BranchIsolation(t *testing.T) {
	script := `mkdir -p "` + docs() + `" && cp complete.json "` + docs() + `/subtasks.json"`

	t.Run("prepares the task branch and restores the prior one", func(t *testing.T) {
		branches := &fakeBranches{current: "develop", status: constants.BranchStatusAhead}
		h := newHarness(t, script, Config{}, nil, WithBranches(branches))
		h.fixture(t, "complete.json", completeSubtasks)
		h.createTask(t, constants.TaskStatusBriefing)
		ctx := context.Background()

		prior, err := h.engine.PrepareBranch(ctx, "t-1")
		require.NoError(t, err)
		assert.Equal(t, "develop", prior)

		got := h.task(t)
		assert.Equal(t, "formic/t-1_add-feature", got.Branch)
		assert.Equal(t, constants.DefaultBaseBranch, got.BaseBranch)
		assert.Equal(t, constants.BranchStatusCreated, got.BranchStatus)

		require.NoError(t, h.engine.Run(ctx, "t-1", prior))

		got = h.task(t)
		assert.Equal(t, constants.BranchStatusAhead, got.BranchStatus)
		assert.Equal(t, []string{"develop"}, branches.checkouts)
	})

	t.Run("restores the prior branch after a failure", func(t *testing.T) {
		branches := &fakeBranches{current: "main", status: constants.BranchStatusCreated}
		h := newHarness(t, `exit 1`, Config{}, nil, WithBranches(branches))
		h.createTask(t, constants.TaskStatusBriefing)
		ctx := context.Background()

		prior, err := h.engine.PrepareBranch(ctx, "t-1")
		require.NoError(t, err)
		require.Error(t, h.engine.Run(ctx, "t-1", prior))
		assert.Equal(t, []string{"main"}, branches.checkouts)
	})

	t.Run("restore without a workflow run", func(t *testing.T) {
		branches := &fakeBranches{current: "3f2a9c1d"}
		h := newHarness(t, script, Config{}, nil, WithBranches(branches))
		h.createTask(t, constants.TaskStatusTodo)
		ctx := context.Background()

		prior, err := h.engine.PrepareBranch(ctx, "t-1")
		require.NoError(t, err)
		require.NoError(t, h.engine.RestoreBranch(ctx, prior))
		require.NoError(t, h.engine.RestoreBranch(ctx, ""))
		assert.Equal(t, []string{"3f2a9c1d"}, branches.checkouts)
	})

	t.Run("dirty tree leaves the task untouched", func(t *testing.T) {
		branches := &fakeBranches{current: "main", createErr: formicerrors.ErrGitDirtyTree}
		h := newHarness(t, script, Config{}, nil, WithBranches(branches))
		before := h.createTask(t, constants.TaskStatusTodo)

		_, err := h.engine.PrepareBranch(context.Background(), "t-1")
		require.ErrorIs(t, err, formicerrors.ErrGitDirtyTree)

		got := h.task(t)
		assert.Equal(t, before.Status, got.Status)
		assert.Empty(t, got.Branch)
		assert.Empty(t, branches.created)
	})

	t.Run("records conflicts", func(t *testing.T) {
		branches := &fakeBranches{current: "main", status: constants.BranchStatusConflicts}
		h := newHarness(t, script, Config{}, nil, WithBranches(branches))
		h.fixture(t, "complete.json", completeSubtasks)
		h.createTask(t, constants.TaskStatusBriefing)
		ctx := context.Background()

		prior, err := h.engine.PrepareBranch(ctx, "t-1")
		require.NoError(t, err)
		require.NoError(t, h.engine.Run(ctx, "t-1", prior))
		assert.Equal(t, constants.BranchStatusConflicts, h.task(t).BranchStatus)
	})
}
