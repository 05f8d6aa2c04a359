package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/formic/internal/board"
	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
	"github.com/mrz1836/formic/internal/errors"
	"github.com/mrz1836/formic/internal/runner"
)

// AddTaskCommand adds the task command tree to the root command.
func AddTaskCommand(root *cobra.Command, flags *GlobalFlags) {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, inspect and run tasks",
	}
	cmd.AddCommand(
		newTaskAddCmd(flags),
		newTaskListCmd(flags),
		newTaskShowCmd(flags),
		newTaskQueueCmd(flags),
		newTaskRunCmd(flags),
		newTaskStepCmd(flags),
		newTaskStopCmd(flags),
		newTaskDoneCmd(flags),
	)
	root.AddCommand(cmd)
}

// openStore loads configuration and opens the board without wiring the engine.
func openStore(ctx context.Context, flags *GlobalFlags) (*board.FileStore, error) {
	logger := GetLogger()
	cfg, err := loadConfig(ctx, flags, logger)
	if err != nil {
		return nil, err
	}
	return board.NewFileStore(cfg.Workspace.Path, board.WithLogger(logger)), nil
}

func newTaskAddCmd(flags *GlobalFlags) *cobra.Command {
	var (
		taskContext string
		priority    string
		queue       bool
	)
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task in todo (or queued with --queue)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := constants.Priority(strings.ToLower(priority))
			if !p.Valid() {
				return fmt.Errorf("%w: %q must be one of high, medium, low", errors.ErrInvalidPriority, priority)
			}
			store, err := openStore(cmd.Context(), flags)
			if err != nil {
				return err
			}
			t, err := store.CreateTask(cmd.Context(), board.NewTaskInput{
				Title:    strings.Join(args, " "),
				Context:  taskContext,
				Priority: p,
				Queue:    queue,
			})
			if err != nil {
				return err
			}
			return printTask(cmd.OutOrStdout(), flags.Output, t, 0)
		},
	}
	cmd.Flags().StringVarP(&taskContext, "context", "c", "", "free-text context handed to the agent")
	cmd.Flags().StringVarP(&priority, "priority", "p", string(constants.PriorityMedium), "priority (high|medium|low)")
	cmd.Flags().BoolVar(&queue, "queue", false, "queue the task for automatic admission")
	return cmd
}

func newTaskListCmd(flags *GlobalFlags) *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks on the board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd.Context(), flags)
			if err != nil {
				return err
			}
			b, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			tasks := filterTasks(b.Tasks, statuses)
			if flags.Output == OutputJSON {
				return writeJSON(cmd.OutOrStdout(), tasks)
			}
			printTaskTable(cmd.OutOrStdout(), tasks)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "only show tasks in these statuses")
	return cmd
}

func filterTasks(tasks []*domain.Task, statuses []string) []*domain.Task {
	out := make([]*domain.Task, 0, len(tasks))
	if len(statuses) == 0 {
		return append(out, tasks...)
	}
	for _, t := range tasks {
		if slices.Contains(statuses, t.Status.String()) {
			out = append(out, t)
		}
	}
	return out
}

func printTaskTable(w io.Writer, tasks []*domain.Task) {
	s := newStyles()
	if len(tasks) == 0 {
		_, _ = fmt.Fprintln(w, s.dim.Render("no tasks"))
		return
	}
	_, _ = fmt.Fprintln(w, s.header.Render(fmt.Sprintf("%-8s %-10s %-8s %-9s %s", "ID", "STATUS", "PRIORITY", "STEP", "TITLE")))
	for _, t := range tasks {
		// Pad before styling so escape codes do not break the columns.
		status := s.status(t.Status) + strings.Repeat(" ", max(0, 10-len(t.Status.String())))
		_, _ = fmt.Fprintf(w, "%-8s %s %-8s %-9s %s\n", t.ID, status, t.Priority, t.WorkflowStep, t.Title)
	}
}

func newTaskShowCmd(flags *GlobalFlags) *cobra.Command {
	var logLines int
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task and its latest agent output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), flags)
			if err != nil {
				return err
			}
			t, err := store.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printTask(cmd.OutOrStdout(), flags.Output, t, logLines)
		},
	}
	cmd.Flags().IntVarP(&logLines, "logs", "n", 10, "number of agent log lines to show")
	return cmd
}

func printTask(w io.Writer, format string, t *domain.Task, logLines int) error {
	if format == OutputJSON {
		return writeJSON(w, t)
	}
	s := newStyles()
	_, _ = fmt.Fprintf(w, "%s %s\n", s.header.Render(t.ID), t.Title)
	s.rule(w, 40)
	_, _ = fmt.Fprintf(w, "%s %s\n", s.key.Render("status:"), s.status(t.Status))
	s.field(w, "priority", string(t.Priority))
	if t.WorkflowStep != "" {
		s.field(w, "step", t.WorkflowStep.String())
	}
	s.field(w, "docs", t.DocsPath)
	if t.Branch != "" {
		s.field(w, "branch", fmt.Sprintf("%s (base %s, %s)", t.Branch, t.BaseBranch, t.BranchStatus))
	}
	if t.HasPID() {
		s.field(w, "pid", fmt.Sprint(*t.PID))
	}
	if t.Context != "" {
		s.field(w, "context", t.Context)
	}
	if logLines > 0 && len(t.AgentLogs) > 0 {
		_, _ = fmt.Fprintln(w, s.key.Render("logs:"))
		for _, line := range t.AgentLogs[max(0, len(t.AgentLogs)-logLines):] {
			_, _ = fmt.Fprintln(w, "  "+s.dim.Render(line))
		}
	}
	return nil
}

func newTaskQueueCmd(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "queue <id>",
		Short: "Queue a todo task for automatic admission by formic serve",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd.Context(), flags, GetLogger())
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), flags.Output, a.engine.Enqueue(cmd.Context(), args[0]))
		},
	}
}

func newTaskDoneCmd(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Accept a task in review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd.Context(), flags, GetLogger())
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), flags.Output, a.engine.MarkDone(cmd.Context(), args[0]))
		},
	}
}

func newTaskRunCmd(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Run brief, plan and execute for a task and follow its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return runAndFollow(cmd.Context(), cmd.OutOrStdout(), flags, id, func(a *app) domain.Result {
				return a.engine.RunFullWorkflow(cmd.Context(), id)
			})
		},
	}
}

func newTaskStepCmd(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "step <id> <brief|plan|execute>",
		Short: "Run a single workflow step and follow its output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			step, err := parseStep(args[1])
			if err != nil {
				return err
			}
			return runAndFollow(cmd.Context(), cmd.OutOrStdout(), flags, id, func(a *app) domain.Result {
				return a.engine.RunSingleStep(cmd.Context(), id, step)
			})
		},
	}
}

func parseStep(s string) (constants.WorkflowStep, error) {
	step := constants.WorkflowStep(strings.ToLower(s))
	switch step {
	case constants.WorkflowStepBrief, constants.WorkflowStepPlan, constants.WorkflowStepExecute:
		return step, nil
	case constants.WorkflowStepPending, constants.WorkflowStepComplete:
	}
	return "", fmt.Errorf("%w: step %q must be brief, plan or execute", errors.ErrInvalidArgument, s)
}

func newTaskStopCmd(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a task's agent and return the task to todo",
		Long: `Stop a task.

When the task's agent belongs to another live formic process (formic serve
or formic task run), its process group is sent SIGTERM and, if it is still
alive after process.grace_period, SIGKILL; that process then resets the
task. A pid whose owning formic process is gone is stale and never
signalled: the task is reset to todo directly, as is a task left active
with no agent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, ctx, flags, GetLogger())
			if err != nil {
				return err
			}
			t, err := a.store.GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			if ownedElsewhere(t) {
				pid := *t.PID
				forced, err := runner.TerminatePID(ctx, pid, a.cfg.Process.GracePeriod)
				if err != nil {
					return errors.Wrapf(err, "failed to stop agent pid %d", pid)
				}
				msg := fmt.Sprintf("Agent pid %d terminated", pid)
				if forced {
					msg = fmt.Sprintf("Agent pid %d killed after %s grace period", pid, a.cfg.Process.GracePeriod)
				}
				return report(cmd.OutOrStdout(), flags.Output, domain.Result{
					Kind:    domain.ResultSuccess,
					TaskID:  t.ID,
					Message: msg,
				})
			}
			if t.HasPID() {
				a.logger.Warn().Str("task_id", t.ID).Int("pid", *t.PID).Msg("ignoring stale agent pid")
			}
			return report(cmd.OutOrStdout(), flags.Output, a.engine.Stop(ctx, t.ID))
		},
	}
}

// ownedElsewhere reports whether t's agent is supervised by another formic
// process that is still alive. Only then is the recorded pid trusted.
func ownedElsewhere(t *domain.Task) bool {
	if !t.HasPID() || t.OwnerPID == nil || *t.OwnerPID == os.Getpid() {
		return false
	}
	return runner.ProcessAlive(*t.OwnerPID)
}

// report prints an engine result and converts failures into an error.
func report(w io.Writer, format string, res domain.Result) error {
	if !res.OK() {
		return resultError(w, format, res)
	}
	return printResult(w, format, res)
}
