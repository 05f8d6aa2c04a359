package errors

import "errors"

// ErrorInfo holds user-facing message and suggested action for an error.
type ErrorInfo struct {
	// Message is the user-friendly error description.
	Message string
	// Action is a suggested action to resolve the issue (empty if none).
	Action string
}

// errorEntry pairs a sentinel error with its user-facing info.
type errorEntry struct {
	err  error
	info ErrorInfo
}

// errorInfoEntries maps sentinel errors to their user-facing messages.
// Order matters: errors.Is() walks the slice top to bottom, so more specific
// sentinels (ErrBinaryNotFound) must come before the general ones they wrap.
//
//nolint:gochecknoglobals // Pre-built mapping
var errorInfoEntries = []errorEntry{
	{
		err: ErrBinaryNotFound,
		info: ErrorInfo{
			Message: "The agent CLI could not be found on PATH.",
			Action:  "Install the agent CLI or set AGENT_COMMAND to its absolute path.",
		},
	},
	{
		err: ErrSpawnFailure,
		info: ErrorInfo{
			Message: "The agent process could not be started.",
			Action:  "Check the agent command and workspace permissions, then run the task again.",
		},
	},
	{
		err: ErrConcurrencyConflict,
		info: ErrorInfo{
			Message: "Another task is already running.",
			Action:  "Wait for it to finish or stop it with 'formic task stop'.",
		},
	},
	{
		err: ErrInvalidTransition,
		info: ErrorInfo{
			Message: "The task cannot move to that status from its current status.",
			Action:  "Run 'formic task show' to see the current status.",
		},
	},
	{
		err: ErrGitDirtyTree,
		info: ErrorInfo{
			Message: "The workspace has uncommitted changes.",
			Action:  "Commit or stash your changes; queued tasks are retried automatically.",
		},
	},
	{
		err: ErrGitConflict,
		info: ErrorInfo{
			Message: "The task branch conflicts with its base branch.",
			Action:  "Resolve the conflicts manually before merging the task branch.",
		},
	},
	{
		err: ErrSubtasksFileMissing,
		info: ErrorInfo{
			Message: "The task has no subtasks file yet.",
			Action:  "Run the plan step again with 'formic task step <id> plan'.",
		},
	},
	{
		err: ErrSubtasksFileMalformed,
		info: ErrorInfo{
			Message: "The task's subtasks file could not be parsed.",
			Action:  "Fix or delete subtasks.json and run the plan step again.",
		},
	},
	{
		err: ErrStepTimeout,
		info: ErrorInfo{
			Message: "The workflow step took longer than the configured timeout.",
			Action:  "Increase workflow.step_timeout (STEP_TIMEOUT_MS) or split the task.",
		},
	},
	{
		err: ErrTaskNotFound,
		info: ErrorInfo{
			Message: "Task not found.",
			Action:  "Run 'formic task list' to see available tasks.",
		},
	},
	{
		err: ErrStoreUnreadable,
		info: ErrorInfo{
			Message: "The board file could not be read.",
			Action:  "Check .formic/board.json for corruption or restore it from git.",
		},
	},
	{
		err: ErrUnknownPlaceholder,
		info: ErrorInfo{
			Message: "A skill description uses an unknown placeholder.",
			Action:  "Use only TASK_TITLE, TASK_CONTEXT, TASK_DOCS_PATH and TASK_ID placeholders.",
		},
	},
}

// getErrorInfo looks up the ErrorInfo for a given error.
// Returns an ErrorInfo with the original error message if not found.
func getErrorInfo(err error) ErrorInfo {
	for _, entry := range errorInfoEntries {
		if errors.Is(err, entry.err) {
			return entry.info
		}
	}
	return ErrorInfo{Message: err.Error()}
}

// UserMessage returns a user-friendly message for common errors.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	return getErrorInfo(err).Message
}

// Actionable returns a user-friendly error message along with a suggested
// action. The action is empty for errors without a clear remedy.
func Actionable(err error) (message, action string) {
	if err == nil {
		return "", ""
	}
	info := getErrorInfo(err)
	return info.Message, info.Action
}
