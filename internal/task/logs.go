package task

import (
	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
)

// CapLines returns the last max entries of lines. The result never aliases
// the input's backing array beyond the returned window.
func CapLines(lines []string, maxLines int) []string {
	if maxLines <= 0 {
		return nil
	}
	if len(lines) <= maxLines {
		return lines
	}
	return append([]string(nil), lines[len(lines)-maxLines:]...)
}

// AppendLogs appends lines to the task's agent logs, evicting the oldest
// entries so that at most constants.MaxAgentLogLines remain.
func AppendLogs(task *domain.Task, lines ...string) {
	if len(lines) == 0 {
		return
	}
	task.AgentLogs = CapLines(append(task.AgentLogs, lines...), constants.MaxAgentLogLines)
}
