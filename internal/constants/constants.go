// Package constants provides centralized constant values used throughout formic.
// This package is the single source of truth for all shared constants and MUST NOT
// import any other internal packages.
package constants

import "time"

// Directory names and paths used by formic for organizing data.
const (
	// FormicHome is the hidden directory name where formic stores user-wide data
	// (global config, CLI logs). It is created in the user's home directory.
	FormicHome = ".formic"

	// WorkspaceDir is the hidden directory inside the workspace that holds the
	// board, project config, skills and per-task documentation.
	WorkspaceDir = ".formic"

	// TasksDir is the directory under WorkspaceDir where per-task docs folders live.
	TasksDir = "tasks"

	// SkillsDir is the default directory under WorkspaceDir holding skill descriptions.
	SkillsDir = "skills"

	// LogsDir is the directory name where log files are stored.
	LogsDir = "logs"
)

// File names used by formic for state persistence.
const (
	// BoardFileName is the JSON file that stores the board and all tasks.
	BoardFileName = "board.json"

	// SubtasksFileName is the JSON file inside a task's docs folder that tracks
	// execute-step progress.
	SubtasksFileName = "subtasks.json"

	// SkillFileName is the file name of a skill description inside its step folder.
	SkillFileName = "SKILL.md"

	// GuidelinesFileName is the default project guidelines file in the workspace root.
	GuidelinesFileName = "kanban-development-guideline.md"

	// GlobalConfigName is the name of the global and project configuration files.
	GlobalConfigName = "config.yaml"

	// CLILogFileName is the name of the rotating CLI log file in ~/.formic/logs.
	CLILogFileName = "formic.log"
)

// Scheduling and supervision defaults.
const (
	// DefaultMaxConcurrentTasks is the default concurrency budget of the queue scheduler.
	DefaultMaxConcurrentTasks = 1

	// DefaultPollInterval is how often the queue scheduler looks for queued tasks.
	DefaultPollInterval = 5 * time.Second

	// MinPollInterval guards against busy-looping the scheduler.
	MinPollInterval = 100 * time.Millisecond

	// DefaultMaxExecuteIterations is the ceiling of the execute-verify loop.
	DefaultMaxExecuteIterations = 5

	// DefaultStepTimeout is the wall-clock budget of one workflow step invocation.
	DefaultStepTimeout = 10 * time.Minute

	// DefaultGracePeriod is how long Stop waits after SIGTERM before sending SIGKILL.
	DefaultGracePeriod = 5 * time.Second

	// MaxAgentLogLines caps Task.AgentLogs; the oldest lines are evicted first.
	MaxAgentLogLines = 50

	// SlugMaxLength bounds the title slug embedded in branch and docs names.
	SlugMaxLength = 30

	// LockTimeout is the maximum duration to wait for the board file lock.
	LockTimeout = 5 * time.Second

	// SubscriberBuffer is the channel capacity of one broadcast subscriber.
	SubscriberBuffer = 256

	// OutputBuffer is the capacity of the channel between the process stream
	// readers and the line consumer. A full channel blocks the readers, which in
	// turn lets the OS pipe apply backpressure to the agent.
	OutputBuffer = 64
)

// Git defaults.
const (
	// DefaultBaseBranch is the branch task branches are created from.
	DefaultBaseBranch = "main"

	// BranchPrefix is prepended to every task branch name.
	BranchPrefix = "formic/"
)

// Log file rotation settings for the CLI log file.
const (
	// LogMaxSizeMB is the maximum size in megabytes before rotation.
	LogMaxSizeMB = 10

	// LogMaxBackups is the number of rotated files to keep.
	LogMaxBackups = 3

	// LogMaxAgeDays is the maximum age of rotated files.
	LogMaxAgeDays = 28

	// LogCompress controls gzip compression of rotated files.
	LogCompress = true
)

// BoardSchemaVersion is the current version of the board JSON schema.
const BoardSchemaVersion = 1
