// Package errors provides centralized error handling for formic.
//
// This package defines sentinel errors used for programmatic error categorization
// throughout the engine. All error types can be checked using errors.Is().
//
// IMPORTANT: This package MUST NOT import any other internal packages.
// Only standard library imports are allowed.
package errors

import "errors"

// Sentinel errors for error categorization.
// These allow callers to check error types with errors.Is().
var (
	// ErrSpawnFailure indicates that the operating system rejected the agent process spawn.
	ErrSpawnFailure = errors.New("agent spawn failed")

	// ErrBinaryNotFound is the "binary not found" sub-kind of ErrSpawnFailure.
	// Errors of this kind match both sentinels.
	ErrBinaryNotFound = errors.New("agent binary not found")

	// ErrConcurrencyConflict indicates a spawn was attempted while another
	// process holds the single-run slot.
	ErrConcurrencyConflict = errors.New("another agent is already running")

	// ErrInvalidTransition indicates an attempt to make an invalid state transition.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrGitOperation indicates that a git command failed.
	ErrGitOperation = errors.New("git operation failed")

	// ErrGitDirtyTree indicates the working tree has uncommitted changes.
	ErrGitDirtyTree = errors.New("working tree has uncommitted changes")

	// ErrGitConflict indicates a trial merge between a task branch and its base failed.
	ErrGitConflict = errors.New("branch has merge conflicts")

	// ErrBranchExists indicates the branch already exists with different history.
	ErrBranchExists = errors.New("branch already exists")

	// ErrBranchNotFound indicates the specified branch does not exist.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrNotGitRepo indicates the path is not a git repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrSubtasksFileMissing indicates the subtasks file has not been generated.
	ErrSubtasksFileMissing = errors.New("subtasks file missing")

	// ErrSubtasksFileMalformed indicates the subtasks file cannot be parsed.
	ErrSubtasksFileMalformed = errors.New("subtasks file malformed")

	// ErrSubtaskNotFound indicates a subtask id is not present in the subtasks file.
	ErrSubtaskNotFound = errors.New("subtask not found")

	// ErrStepTimeout indicates a workflow step exceeded its wall-clock budget.
	ErrStepTimeout = errors.New("workflow step timed out")

	// ErrStepFailed indicates the agent process for a workflow step exited unsuccessfully.
	ErrStepFailed = errors.New("workflow step failed")

	// ErrUnknownStep indicates an unrecognized workflow step name.
	ErrUnknownStep = errors.New("unknown workflow step")

	// ErrTaskNotFound indicates that a task was not found on the board.
	ErrTaskNotFound = errors.New("task not found")

	// ErrProcessNotFound indicates no agent process is registered for a task.
	ErrProcessNotFound = errors.New("no running process for task")

	// ErrUnknownPlaceholder indicates a skill description referenced a placeholder
	// that the prompt renderer does not recognize.
	ErrUnknownPlaceholder = errors.New("unknown placeholder")

	// ErrSkillNotFound indicates the skill description for a step could not be loaded.
	ErrSkillNotFound = errors.New("skill description not found")

	// ErrUnknownAgent indicates the configured agent type has no adapter.
	ErrUnknownAgent = errors.New("unknown agent type")

	// ErrStoreUnreadable indicates the persisted board could not be read or parsed.
	ErrStoreUnreadable = errors.New("board store unreadable")

	// ErrLockTimeout indicates a file lock could not be acquired within the timeout period.
	ErrLockTimeout = errors.New("lock acquisition timeout")

	// ErrSchedulerRunning indicates Start was called on a scheduler that is already running.
	ErrSchedulerRunning = errors.New("scheduler already running")

	// ErrEmptyValue indicates that a required value was empty.
	ErrEmptyValue = errors.New("value cannot be empty")

	// ErrInvalidPriority indicates a priority outside high|medium|low.
	ErrInvalidPriority = errors.New("invalid priority")

	// ErrInvalidOutputFormat indicates an unsupported --output value.
	ErrInvalidOutputFormat = errors.New("invalid output format")

	// ErrInvalidArgument indicates a malformed command-line argument.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConfigNil indicates that a nil config was passed to validation.
	ErrConfigNil = errors.New("config is nil")

	// ErrConfigInvalidQueue indicates an invalid queue configuration value.
	ErrConfigInvalidQueue = errors.New("invalid queue configuration")

	// ErrConfigInvalidWorkflow indicates an invalid workflow configuration value.
	ErrConfigInvalidWorkflow = errors.New("invalid workflow configuration")

	// ErrConfigInvalidAgent indicates an invalid agent configuration value.
	ErrConfigInvalidAgent = errors.New("invalid agent configuration")

	// ErrConfigInvalidGit indicates an invalid git configuration value.
	ErrConfigInvalidGit = errors.New("invalid git configuration")
)
