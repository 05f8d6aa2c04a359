// Package git gives each task an isolated branch in the shared workspace and
// reports how that branch relates to its base. Every command shells out to
// the git CLI.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	formicerrors "github.com/mrz1836/formic/internal/errors"
)

// CommandError describes a failed git invocation. It matches ErrGitOperation.
type CommandError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git %s failed (exit %d): %s", strings.Join(e.Args, " "), e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("git %s failed (exit %d)", strings.Join(e.Args, " "), e.ExitCode)
}

// Unwrap lets errors.Is match ErrGitOperation.
func (e *CommandError) Unwrap() error {
	return formicerrors.ErrGitOperation
}

// ExitCodeOf returns the git exit code carried by err, or -1.
func ExitCodeOf(err error) int {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.ExitCode
	}
	return -1
}

// RunCommand executes git in workDir and returns trimmed stdout.
// Failures are *CommandError values wrapping ErrGitOperation.
func RunCommand(ctx context.Context, workDir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...) //#nosec G204 -- args are constructed internally
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return "", &CommandError{
			Args:     args,
			ExitCode: code,
			Stdout:   strings.TrimSpace(stdout.String()),
			Stderr:   strings.TrimSpace(stderr.String()),
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Runner executes git commands against one repository.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// CLIRunner runs the git binary in Dir. Commands that fail because another
// process holds .git/index.lock (typically the agent committing) are retried
// with exponential backoff.
type CLIRunner struct {
	Dir string

	maxAttempts  int
	initialDelay time.Duration
	logger       zerolog.Logger
}

// NewCLIRunner creates a runner for the repository at dir.
func NewCLIRunner(dir string, logger zerolog.Logger) *CLIRunner {
	return &CLIRunner{
		Dir:          dir,
		maxAttempts:  5,
		initialDelay: 100 * time.Millisecond,
		logger:       logger.With().Str("component", "git").Logger(),
	}
}

// Run implements Runner.
func (r *CLIRunner) Run(ctx context.Context, args ...string) (string, error) {
	delay := r.initialDelay
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		out, err := RunCommand(ctx, r.Dir, args...)
		if err == nil {
			return out, nil
		}
		if !isLockFileError(err) {
			return "", err
		}
		lastErr = err
		r.logger.Debug().Int("attempt", attempt).Dur("delay", delay).Err(err).Msg("git lock file busy, retrying")
		if attempt == r.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, 2*time.Second)
	}
	return "", lastErr
}

func isLockFileError(err error) bool {
	var ce *CommandError
	if !errors.As(err, &ce) {
		return false
	}
	msg := strings.ToLower(ce.Stderr)
	return strings.Contains(msg, "index.lock") ||
		(strings.Contains(msg, "unable to create") && strings.Contains(msg, ".lock"))
}

var _ Runner = (*CLIRunner)(nil)
