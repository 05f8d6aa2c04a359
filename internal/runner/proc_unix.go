//go:build !windows

package runner

import (
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// setProcessGroup starts the agent in its own process group so signals reach
// the tools it spawns as well.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// groupPollInterval is how often TerminatePID checks whether the group exited.
const groupPollInterval = 50 * time.Millisecond

func terminate(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGTERM)
}

func kill(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGKILL)
}

// TerminatePID stops the process group of an agent started by another
// formic process: SIGTERM, then SIGKILL if any member is still alive after
// grace. It reports whether SIGKILL was sent. An already exited group is not
// an error.
func TerminatePID(ctx context.Context, pid int, grace time.Duration) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return false, nil
		}
		return false, err
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(groupPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !groupAlive(pid) {
				return false, nil
			}
		case <-deadline.C:
			if !groupAlive(pid) {
				return false, nil
			}
			err := unix.Kill(-pid, unix.SIGKILL)
			if errors.Is(err, unix.ESRCH) {
				return false, nil
			}
			return true, err
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// ProcessAlive reports whether pid names a live process.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func groupAlive(pgid int) bool {
	err := unix.Kill(-pgid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func signalGroup(cmd *exec.Cmd, sig unix.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
