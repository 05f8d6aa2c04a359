// Package domain provides shared domain types for the formic orchestration engine.
// These types are used across all internal packages to ensure consistent data structures.
//
// This package follows strict import rules:
//   - CAN import: internal/constants, internal/errors, standard library
//   - MUST NOT import: any other internal packages
//
// JSON field names use camelCase so the board file stays readable by the
// web collaborators that share it.
package domain

import (
	"time"

	"github.com/mrz1836/formic/internal/constants"
)

// Task is the unit of work the engine drives through the workflow.
//
// Example JSON representation:
//
//	{
//	    "id": "t-4",
//	    "title": "High Priority Task",
//	    "context": "Add rate limiting to the API",
//	    "priority": "high",
//	    "status": "running",
//	    "docsPath": ".formic/tasks/t-4_high-priority-task",
//	    "agentLogs": ["..."],
//	    "pid": 4242,
//	    "workflowStep": "execute",
//	    "branch": "formic/t-4_high-priority-task",
//	    "baseBranch": "main",
//	    "branchStatus": "ahead",
//	    "createdAt": "2026-10-19T10:00:00Z",
//	    "queuedAt": "2026-10-19T10:01:00Z"
//	}
type Task struct {
	// ID is the unique, never reused identifier (t-<n>).
	ID string `json:"id"`

	// Title and Context are user-supplied free text.
	Title   string `json:"title"`
	Context string `json:"context"`

	// Priority is the immutable scheduling weight.
	Priority constants.Priority `json:"priority"`

	// Status is guarded by the state machine in internal/task; callers never
	// assign it directly.
	Status constants.TaskStatus `json:"status"`

	// DocsPath is where the workflow engine writes the brief, plan and
	// subtasks file. Relative paths are resolved against the workspace.
	DocsPath string `json:"docsPath"`

	// AgentLogs holds the most recent agent output lines, capped at
	// constants.MaxAgentLogLines.
	AgentLogs []string `json:"agentLogs"`

	// PID is the currently attached agent process, nil when none.
	PID *int `json:"pid,omitempty"`
	// OwnerPID is the formic process supervising PID. Other formic
	// processes use it to tell a live agent from a stale pid.
	OwnerPID *int `json:"ownerPid,omitempty"`

	// WorkflowStep is the workflow engine's sub-state.
	WorkflowStep constants.WorkflowStep `json:"workflowStep,omitempty"`

	// Branch isolation metadata.
	Branch       string                 `json:"branch,omitempty"`
	BaseBranch   string                 `json:"baseBranch,omitempty"`
	BranchStatus constants.BranchStatus `json:"branchStatus,omitempty"`

	// CreatedAt and QueuedAt drive FIFO tie-breaking in the queue.
	CreatedAt time.Time  `json:"createdAt"`
	QueuedAt  *time.Time `json:"queuedAt,omitempty"`

	// UpdatedAt is refreshed on every state write.
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// HasPID reports whether an agent process is recorded for the task.
func (t *Task) HasPID() bool {
	return t.PID != nil
}

// SetPID records the attached process id.
func (t *Task) SetPID(pid int) {
	t.PID = &pid
}

// SetOwner records the formic process supervising the agent.
func (t *Task) SetOwner(pid int) {
	t.OwnerPID = &pid
}

// ClearPID removes any recorded process id and its owner.
func (t *Task) ClearPID() {
	t.PID = nil
	t.OwnerPID = nil
}

// Clone returns a deep copy of the task, safe to hand to another goroutine.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.AgentLogs != nil {
		c.AgentLogs = append([]string(nil), t.AgentLogs...)
	}
	if t.PID != nil {
		pid := *t.PID
		c.PID = &pid
	}
	if t.OwnerPID != nil {
		owner := *t.OwnerPID
		c.OwnerPID = &owner
	}
	if t.QueuedAt != nil {
		q := *t.QueuedAt
		c.QueuedAt = &q
	}
	return &c
}
