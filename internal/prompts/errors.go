// Package prompts builds the prompt text handed to the agent for each
// workflow step. Built-in prompts are text/template files embedded at compile
// time; user supplied skill descriptions use {{PLACEHOLDER}} substitution.
package prompts

import "errors"

// Package errors for prompt management.
var (
	// ErrTemplateNotFound indicates the requested template doesn't exist.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrTemplateExecution indicates a failure during template execution.
	ErrTemplateExecution = errors.New("template execution failed")
)
