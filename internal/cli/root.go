// Package cli provides the command-line interface for formic.
package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mrz1836/formic/internal/errors"
)

// BuildInfo contains version information set at build time via ldflags.
type BuildInfo struct {
	// Version is the semantic version (e.g., "1.0.0").
	Version string
	// Commit is the git commit hash.
	Commit string
	// Date is the build date.
	Date string
}

// globalLogger stores the initialized logger for use by subcommands.
// It is set during PersistentPreRunE and read through GetLogger.
var (
	globalLogger   = zerolog.Nop() //nolint:gochecknoglobals // CLI logger requires global access
	globalLoggerMu sync.RWMutex    //nolint:gochecknoglobals // Protects globalLogger
)

// GetLogger returns the logger initialized by the root command. Before
// PersistentPreRunE runs it returns a logger that discards everything.
//
// This function is safe for concurrent use.
func GetLogger() zerolog.Logger {
	globalLoggerMu.RLock()
	defer globalLoggerMu.RUnlock()
	return globalLogger
}

func setLogger(l zerolog.Logger) {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = l
}

// loggerFactory builds the logger for a command invocation. Tests replace it
// to keep log files out of the user's home directory.
type loggerFactory func(verbose, quiet bool) zerolog.Logger

func newRootCmd(flags *GlobalFlags, info BuildInfo, newLogger loggerFactory) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "formic",
		Short: "formic - local task orchestration for coding agents",
		Long: `formic turns tasks on a local board into reviewed changes by driving a
coding agent CLI through brief, plan and execute steps on an isolated git
branch per task.

Tasks are queued and admitted by priority within a concurrency budget,
every agent process is supervised, and state survives restarts.`,
		Version: formatVersion(info),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := BindGlobalFlags(v, cmd, flags); err != nil {
				return fmt.Errorf("failed to bind flags: %w", err)
			}
			if !IsValidOutputFormat(flags.Output) {
				return fmt.Errorf("%w: %q must be one of %v", errors.ErrInvalidOutputFormat, flags.Output, ValidOutputFormats())
			}
			setLogger(newLogger(flags.Verbose, flags.Quiet))
			return nil
		},
		// SilenceUsage prevents printing usage on error
		// (we handle our own error messages)
		SilenceUsage: true,
		// main prints errors with their suggested action
		SilenceErrors: true,
	}

	AddGlobalFlags(cmd, flags)

	cmd.AddCommand(newServeCmd(flags))
	AddTaskCommand(cmd, flags)
	AddSubtasksCommand(cmd, flags)
	AddConfigCommand(cmd, flags)

	return cmd
}

// formatVersion creates the version string from build info.
func formatVersion(info BuildInfo) string {
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.Commit == "" {
		info.Commit = "none"
	}
	if info.Date == "" {
		info.Date = "unknown"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.Date)
}

// Execute runs the root command with the provided context and build info.
func Execute(ctx context.Context, info BuildInfo) error {
	defer CloseLogFile()
	flags := &GlobalFlags{}
	//nolint:contextcheck // Cobra command pattern uses cmd.Context() internally
	cmd := newRootCmd(flags, info, InitLogger)
	return cmd.ExecuteContext(ctx)
}
