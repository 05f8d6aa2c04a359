package domain

import (
	"time"

	"github.com/mrz1836/formic/internal/constants"
)

// Subtask is one granular unit of execute-step progress tracked by the agent.
type Subtask struct {
	ID          string                  `json:"id"`
	Content     string                  `json:"content"`
	Status      constants.SubtaskStatus `json:"status"`
	CompletedAt *time.Time              `json:"completedAt,omitempty"`
	Notes       string                  `json:"notes,omitempty"`
}

// SubtasksFile is the document the agent maintains in a task's docs folder.
// It is the single source of truth for completion percentage.
type SubtasksFile struct {
	Version   string    `json:"version,omitempty"`
	TaskID    string    `json:"taskId"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Subtasks  []Subtask `json:"subtasks"`
}

// CompletionStats summarizes a subtasks file.
type CompletionStats struct {
	Total       int  `json:"total"`
	Completed   int  `json:"completed"`
	InProgress  int  `json:"inProgress"`
	Pending     int  `json:"pending"`
	Percentage  int  `json:"percentage"`
	AllComplete bool `json:"allComplete"`
}
