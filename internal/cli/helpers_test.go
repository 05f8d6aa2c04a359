package cli

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/formic/internal/config"
)

// envKeys are every configuration key with environment bindings.
var envKeys = []string{ //nolint:gochecknoglobals // test table
	"agent.type", "agent.command", "queue.enabled", "queue.max_concurrent_tasks",
	"queue.poll_interval", "workflow.max_execute_iterations", "workflow.step_timeout",
	"workspace.path",
}

// isolate points HOME and FORMIC_HOME at temp directories and clears every
// environment variable formic reads, returning a fresh workspace.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FORMIC_HOME", t.TempDir())

	var names []string
	for _, key := range envKeys {
		names = append(names, config.EnvNames(key)...)
	}
	for _, env := range os.Environ() {
		if name, _, ok := strings.Cut(env, "="); ok && strings.HasPrefix(name, "FORMIC_") && name != "FORMIC_HOME" {
			names = append(names, name)
		}
	}
	for _, name := range names {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
	return t.TempDir()
}

func nopLogger(bool, bool) zerolog.Logger { return zerolog.Nop() }

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&GlobalFlags{}, BuildInfo{Version: "1.2.3"}, nopLogger)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// inWorkspace prefixes args with --workspace ws and --output format.
func inWorkspace(ws, format string, args ...string) []string {
	return append([]string{"--workspace", ws, "--output", format}, args...)
}
