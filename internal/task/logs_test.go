package task

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
)

func TestAppendLogs_EvictsOldest(t *testing.T) {
	task := &domain.Task{}
	for i := 0; i < 60; i++ {
		AppendLogs(task, fmt.Sprintf("line %d", i))
	}

	assert.Len(t, task.AgentLogs, constants.MaxAgentLogLines)
	assert.Equal(t, "line 10", task.AgentLogs[0])
	assert.Equal(t, "line 59", task.AgentLogs[len(task.AgentLogs)-1])
}

func TestCapLines_NonPositiveMax(t *testing.T) {
	assert.Nil(t, CapLines([]string{"a"}, 0))
}

// TestProperty_AgentLogsCapped verifies that for any sequence of appends the
// log never exceeds the cap and always holds the most recent lines in order.
func TestProperty_AgentLogsCapped(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		task := &domain.Task{}
		var all []string

		batches := rapid.IntRange(1, 20).Draw(rt, "batches")
		for b := 0; b < batches; b++ {
			n := rapid.IntRange(0, 30).Draw(rt, "batch_size")
			lines := make([]string, n)
			for i := range lines {
				lines[i] = fmt.Sprintf("%d-%d", b, i)
			}
			AppendLogs(task, lines...)
			all = append(all, lines...)

			if len(task.AgentLogs) > constants.MaxAgentLogLines {
				rt.Fatalf("agent logs has %d entries, cap is %d", len(task.AgentLogs), constants.MaxAgentLogLines)
			}
		}

		want := all
		if len(want) > constants.MaxAgentLogLines {
			want = want[len(want)-constants.MaxAgentLogLines:]
		}
		if len(want) != len(task.AgentLogs) {
			rt.Fatalf("got %d lines, want %d", len(task.AgentLogs), len(want))
		}
		for i := range want {
			if task.AgentLogs[i] != want[i] {
				rt.Fatalf("line %d = %q, want %q", i, task.AgentLogs[i], want[i])
			}
		}
	})
}
