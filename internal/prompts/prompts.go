package prompts

import (
	"bytes"
	"errors"
	"fmt"
)

// Render executes a built-in prompt template with data.
//
//	prompt, err := prompts.Render(prompts.Brief, prompts.StepData{TaskID: "t-4", Title: "Add rate limiting"})
func Render(id PromptID, data any) (string, error) {
	tmpl, err := globalRegistry.get(id)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.Join(ErrTemplateExecution, fmt.Errorf("prompt %s: %w", id, err))
	}
	return buf.String(), nil
}

// GetTemplate returns the raw source of a built-in prompt.
func GetTemplate(id PromptID) (string, error) {
	return globalRegistry.source(id)
}
