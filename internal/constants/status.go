package constants

// TaskStatus represents the state of a task in the formic state machine.
type TaskStatus string

// Task status constants define the valid states a task can be in:
//
//	Todo → Queued, Briefing
//	Queued → Briefing
//	Briefing → Planning, Todo
//	Planning → Running, Todo
//	Running → Review, Todo
//	Review → Done
const (
	// TaskStatusTodo indicates a task that has been created but not scheduled.
	TaskStatusTodo TaskStatus = "todo"

	// TaskStatusQueued indicates a task waiting for the queue scheduler.
	TaskStatusQueued TaskStatus = "queued"

	// TaskStatusBriefing indicates the brief step is running.
	TaskStatusBriefing TaskStatus = "briefing"

	// TaskStatusPlanning indicates the plan step is running.
	TaskStatusPlanning TaskStatus = "planning"

	// TaskStatusRunning indicates the execute loop is running.
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusReview indicates the agent finished and a human should review.
	TaskStatusReview TaskStatus = "review"

	// TaskStatusDone is terminal.
	TaskStatusDone TaskStatus = "done"
)

// String implements fmt.Stringer.
func (s TaskStatus) String() string {
	return string(s)
}

// IsActive reports whether the status counts against the concurrency budget.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusBriefing || s == TaskStatusPlanning || s == TaskStatusRunning
}

// WorkflowStep is the workflow engine's sub-state of a task.
type WorkflowStep string

// Workflow steps in the order they advance.
const (
	WorkflowStepPending  WorkflowStep = "pending"
	WorkflowStepBrief    WorkflowStep = "brief"
	WorkflowStepPlan     WorkflowStep = "plan"
	WorkflowStepExecute  WorkflowStep = "execute"
	WorkflowStepComplete WorkflowStep = "complete"
)

// String implements fmt.Stringer.
func (s WorkflowStep) String() string {
	return string(s)
}

// Order returns the position of the step in the workflow, or -1 if unknown.
func (s WorkflowStep) Order() int {
	switch s {
	case WorkflowStepPending:
		return 0
	case WorkflowStepBrief:
		return 1
	case WorkflowStepPlan:
		return 2
	case WorkflowStepExecute:
		return 3
	case WorkflowStepComplete:
		return 4
	default:
		return -1
	}
}

// Priority is a task's immutable scheduling weight.
type Priority string

// Priority values.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Weight returns the sort weight of a priority; higher admits first.
// Unknown priorities weigh the same as medium.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityLow:
		return 1
	default:
		return 2
	}
}

// Valid reports whether p is one of high, medium or low.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// BranchStatus classifies a task branch relative to its base.
type BranchStatus string

// Branch status values.
const (
	BranchStatusCreated   BranchStatus = "created"
	BranchStatusAhead     BranchStatus = "ahead"
	BranchStatusBehind    BranchStatus = "behind"
	BranchStatusConflicts BranchStatus = "conflicts"
	BranchStatusMerged    BranchStatus = "merged"
)

// SubtaskStatus is the progress state of one subtask.
type SubtaskStatus string

// Subtask status values.
const (
	SubtaskStatusPending    SubtaskStatus = "pending"
	SubtaskStatusInProgress SubtaskStatus = "in_progress"
	SubtaskStatusCompleted  SubtaskStatus = "completed"
)

// Valid reports whether s is a recognized subtask status.
func (s SubtaskStatus) Valid() bool {
	return s == SubtaskStatusPending || s == SubtaskStatusInProgress || s == SubtaskStatusCompleted
}

// LogType discriminates the events pushed to task subscribers.
type LogType string

// Log event types.
const (
	LogTypeStdout    LogType = "stdout"
	LogTypeStderr    LogType = "stderr"
	LogTypeExit      LogType = "exit"
	LogTypeError     LogType = "error"
	LogTypeIteration LogType = "iteration"
	LogTypeStatus    LogType = "status"
)

// IsTerminal reports whether the event ends a process's stream.
func (t LogType) IsTerminal() bool {
	return t == LogTypeExit || t == LogTypeError
}
