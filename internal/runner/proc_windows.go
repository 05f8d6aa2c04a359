//go:build windows

package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"
)

func setProcessGroup(*exec.Cmd) {}

// terminate has no graceful equivalent on Windows; the process is killed and
// the grace period only bounds the wait for it to be reaped.
func terminate(cmd *exec.Cmd) error {
	return kill(cmd)
}

func kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// TerminatePID kills an agent started by another formic process. Windows
// has no graceful stop for it, so grace is unused and SIGKILL is never
// reported.
func TerminatePID(_ context.Context, pid int, _ time.Duration) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false, nil //nolint:nilerr // process is gone
	}
	err = p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return false, nil
	}
	return false, err
}

// ProcessAlive reports whether pid names a live process.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
