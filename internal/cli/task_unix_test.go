//go:build !windows

package cli

import (
	"context"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/formic/internal/board"
	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
)

// startProcess runs script in its own process group and reaps it in the
// background; the group is killed when the test ends.
func startProcess(t *testing.T, script string) (int, <-chan error) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	cmd := exec.Command("sh", "-c", script)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	pid := cmd.Process.Pid
	t.Cleanup(func() { _ = syscall.Kill(-pid, syscall.SIGKILL) })
	return pid, exited
}

func attach(t *testing.T, ws, id string, pid, owner int) {
	t.Helper()
	_, err := board.NewFileStore(ws).UpdateTask(context.Background(), id, func(tk *domain.Task) error {
		tk.SetPID(pid)
		tk.SetOwner(owner)
		return nil
	})
	require.NoError(t, err)
}

func TestTaskStop_EscalatesForAgentOfLiveOwner(t *testing.T) {
	ws := isolate(t)
	t.Setenv("FORMIC_PROCESS_GRACE_PERIOD", "300ms")
	addTask(t, ws, "Stubborn agent")
	walk(t, ws, "t-1", constants.TaskStatusBriefing, constants.TaskStatusPlanning, constants.TaskStatusRunning)

	owner, _ := startProcess(t, "sleep 30")
	agent, agentExited := startProcess(t, "trap '' TERM; sleep 30")
	// Give sh time to install the trap before signalling.
	time.Sleep(200 * time.Millisecond)
	attach(t, ws, "t-1", agent, owner)

	out, err := execute(t, inWorkspace(ws, OutputText, "task", "stop", "t-1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "killed after 300ms grace period")

	select {
	case err := <-agentExited:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent still running after task stop")
	}
	// The owning process resets the task; this command does not touch it.
	assert.Equal(t, constants.TaskStatusRunning, statusOf(t, ws, "t-1"))
}

func TestTaskStop_StalePIDIsNeverSignalled(t *testing.T) {
	ws := isolate(t)
	addTask(t, ws, "Crashed owner")
	walk(t, ws, "t-1", constants.TaskStatusBriefing, constants.TaskStatusPlanning, constants.TaskStatusRunning)

	deadOwner, ownerExited := startProcess(t, "exit 0")
	require.NoError(t, <-ownerExited)
	// An unrelated live process now holds the recorded agent pid.
	bystander, bystanderExited := startProcess(t, "sleep 30")
	attach(t, ws, "t-1", bystander, deadOwner)

	_, err := execute(t, inWorkspace(ws, OutputText, "task", "stop", "t-1")...)
	require.NoError(t, err)

	tk, err := board.NewFileStore(ws).GetTask(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, constants.TaskStatusTodo, tk.Status)
	assert.Nil(t, tk.PID)
	assert.Nil(t, tk.OwnerPID)

	select {
	case err := <-bystanderExited:
		t.Fatalf("unrelated process was signalled: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
}
