package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
)

// styles holds the lipgloss styles shared by the text output of every command.
type styles struct {
	header  lipgloss.Style
	key     lipgloss.Style
	value   lipgloss.Style
	dim     lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
}

func newStyles() *styles {
	return &styles{
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00D7FF")),
		key: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D7FF")),
		value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")),
		dim: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")),
		success: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF87")).
			Bold(true),
		warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700")),
		failure: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F5F")).
			Bold(true),
	}
}

// status renders a task status in the color of its board column.
func (s *styles) status(st constants.TaskStatus) string {
	switch st {
	case constants.TaskStatusTodo:
		return s.dim.Render(st.String())
	case constants.TaskStatusQueued:
		return s.value.Render(st.String())
	case constants.TaskStatusBriefing, constants.TaskStatusPlanning, constants.TaskStatusRunning:
		return s.warning.Render(st.String())
	case constants.TaskStatusReview:
		return s.key.Render(st.String())
	case constants.TaskStatusDone:
		return s.success.Render(st.String())
	}
	return st.String()
}

// field prints one "key: value" line.
func (s *styles) field(w io.Writer, key, value string) {
	_, _ = fmt.Fprintf(w, "%s %s\n", s.key.Render(key+":"), s.value.Render(value))
}

// rule prints a dim horizontal separator.
func (s *styles) rule(w io.Writer, width int) {
	_, _ = fmt.Fprintln(w, s.dim.Render(strings.Repeat("─", width)))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// resultError turns a non-success engine result into a command error. JSON
// output also gets the result object so scripts can read its kind.
func resultError(w io.Writer, format string, res domain.Result) error {
	if res.OK() {
		return nil
	}
	if format == OutputJSON {
		_ = writeJSON(w, res)
	}
	return fmt.Errorf("%s %s: %w", res.Kind, res.TaskID, res.Err)
}

// printResult prints a successful engine result.
func printResult(w io.Writer, format string, res domain.Result) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	s := newStyles()
	_, _ = fmt.Fprintf(w, "%s %s\n", s.success.Render(res.TaskID), res.Message)
	return nil
}
