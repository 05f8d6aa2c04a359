package prompts

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	formicerrors "github.com/mrz1836/formic/internal/errors"
)

// Recognized skill placeholders.
const (
	PlaceholderTitle    = "TASK_TITLE"
	PlaceholderContext  = "TASK_CONTEXT"
	PlaceholderDocsPath = "TASK_DOCS_PATH"
	PlaceholderID       = "TASK_ID"
)

// placeholderPattern matches {{NAME}} with optional inner spaces.
var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Values returns the placeholder map for a task.
func (d StepData) Values() map[string]string {
	return map[string]string{
		PlaceholderTitle:    d.Title,
		PlaceholderContext:  d.Context,
		PlaceholderDocsPath: d.DocsPath,
		PlaceholderID:       d.TaskID,
	}
}

// Substitute replaces every {{NAME}} in text with values[NAME].
//
// Unlike text/template it fails on the first placeholder that is not in
// values, returning ErrUnknownPlaceholder with every offending name.
func Substitute(text string, values map[string]string) (string, error) {
	var unknown []string
	out := placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := values[name]; ok {
			return v
		}
		if !slices.Contains(unknown, name) {
			unknown = append(unknown, name)
		}
		return match
	})
	if len(unknown) > 0 {
		return "", fmt.Errorf("%w: %s", formicerrors.ErrUnknownPlaceholder, strings.Join(unknown, ", "))
	}
	return out, nil
}
