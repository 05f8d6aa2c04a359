package prompts

import "github.com/mrz1836/formic/internal/domain"

// PromptID identifies a built-in prompt template.
type PromptID string

// Built-in prompt identifiers. Each maps to templates/<id>.tmpl.
const (
	Brief    PromptID = "brief"
	Plan     PromptID = "plan"
	Execute  PromptID = "execute"
	Feedback PromptID = "feedback"
)

// StepData is the task context every step prompt is rendered with.
type StepData struct {
	TaskID   string
	Title    string
	Context  string
	DocsPath string
}

// FeedbackData is appended to the execute prompt from the second iteration on.
type FeedbackData struct {
	Iteration     int
	MaxIterations int
	Percentage    int
	Incomplete    []domain.Subtask
	// SubtasksError is set when the subtasks file could not be read.
	SubtasksError string
}
