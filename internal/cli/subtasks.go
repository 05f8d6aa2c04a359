package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/engine"
	"github.com/mrz1836/formic/internal/errors"
)

// AddSubtasksCommand adds the subtasks command tree to the root command.
func AddSubtasksCommand(root *cobra.Command, flags *GlobalFlags) {
	cmd := &cobra.Command{
		Use:   "subtasks",
		Short: "Inspect and update a task's subtasks file",
	}
	cmd.AddCommand(newSubtasksShowCmd(flags), newSubtasksSetCmd(flags))
	root.AddCommand(cmd)
}

func newSubtasksShowCmd(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show subtasks and completion percentage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd.Context(), flags, GetLogger())
			if err != nil {
				return err
			}
			p, err := a.engine.Subtasks(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printProgress(cmd.OutOrStdout(), flags.Output, p)
		},
	}
}

func newSubtasksSetCmd(flags *GlobalFlags) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "set <task-id> <subtask-id> <pending|in_progress|completed>",
		Short: "Set the status of one subtask",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := constants.SubtaskStatus(strings.ToLower(args[2]))
			if !status.Valid() {
				return fmt.Errorf("%w: subtask status %q", errors.ErrInvalidArgument, args[2])
			}
			a, err := newApp(cmd.Context(), cmd.Context(), flags, GetLogger())
			if err != nil {
				return err
			}
			p, err := a.engine.UpdateSubtask(cmd.Context(), args[0], args[1], status, notes)
			if err != nil {
				return err
			}
			return printProgress(cmd.OutOrStdout(), flags.Output, p)
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "notes recorded on the subtask")
	return cmd
}

func printProgress(w io.Writer, format string, p *engine.Progress) error {
	if format == OutputJSON {
		return writeJSON(w, p)
	}
	s := newStyles()
	title := p.File.TaskID
	if p.File.Title != "" {
		title += " " + p.File.Title
	}
	_, _ = fmt.Fprintln(w, s.header.Render(title))
	s.rule(w, 40)
	for _, st := range p.File.Subtasks {
		mark := "[ ]"
		switch st.Status {
		case constants.SubtaskStatusCompleted:
			mark = s.success.Render("[x]")
		case constants.SubtaskStatusInProgress:
			mark = s.warning.Render("[~]")
		case constants.SubtaskStatusPending:
		}
		_, _ = fmt.Fprintf(w, "%s %s %s\n", mark, s.dim.Render(st.ID), st.Content)
	}
	s.rule(w, 40)
	_, _ = fmt.Fprintf(w, "%s %d%% (%d/%d complete, %d in progress)\n",
		s.key.Render("progress:"), p.Stats.Percentage, p.Stats.Completed, p.Stats.Total, p.Stats.InProgress)
	return nil
}
