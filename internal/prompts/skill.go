package prompts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/formic/internal/constants"
	formicerrors "github.com/mrz1836/formic/internal/errors"
)

// Skill is a step-specific prompt template authored outside formic.
type Skill struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// Body is the markdown after the front matter.
	Body string `yaml:"-"`
	// Path is where the skill was loaded from.
	Path string `yaml:"-"`
}

// frontMatterDelim opens and closes the YAML header of a SKILL.md file.
const frontMatterDelim = "---"

// ParseSkill splits optional YAML front matter from the skill body.
func ParseSkill(data []byte) (*Skill, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	s := &Skill{}
	if !strings.HasPrefix(text, frontMatterDelim+"\n") {
		s.Body = strings.TrimSpace(text)
		return s, nil
	}

	rest := text[len(frontMatterDelim):]
	header, body, found := strings.Cut(rest, "\n"+frontMatterDelim)
	if !found {
		return nil, fmt.Errorf("%w: unterminated front matter", formicerrors.ErrSkillNotFound)
	}
	if err := yaml.Unmarshal([]byte(header), s); err != nil {
		return nil, fmt.Errorf("%w: front matter: %w", formicerrors.ErrSkillNotFound, err)
	}
	// drop the remainder of the closing delimiter line
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	s.Body = strings.TrimSpace(body)
	return s, nil
}

// LoadSkill reads <dir>/<step>/SKILL.md.
func LoadSkill(dir string, step constants.WorkflowStep) (*Skill, error) {
	path := filepath.Join(dir, string(step), constants.SkillFileName)
	data, err := os.ReadFile(path) //#nosec G304 -- skills dir comes from workspace config
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", formicerrors.ErrSkillNotFound, path, err)
	}
	s, err := ParseSkill(data)
	if err != nil {
		return nil, err
	}
	if s.Body == "" {
		return nil, fmt.Errorf("%w: %s is empty", formicerrors.ErrSkillNotFound, path)
	}
	s.Path = path
	return s, nil
}

// Builder assembles the full prompt for a workflow step.
type Builder struct {
	// SkillDirs are searched in order for <dir>/<step>/SKILL.md.
	SkillDirs []string
	// GuidelinesPath is an optional project guideline file prepended to every prompt.
	GuidelinesPath string

	logger zerolog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(skillDirs []string, guidelinesPath string, logger zerolog.Logger) *Builder {
	return &Builder{
		SkillDirs:      skillDirs,
		GuidelinesPath: guidelinesPath,
		logger:         logger.With().Str("component", "prompts").Logger(),
	}
}

// Build returns the prompt for step. A skill that cannot be loaded falls back
// to the built-in prompt; a skill that loads but references an unknown
// placeholder is an error. feedback is appended only for execute.
func (b *Builder) Build(step constants.WorkflowStep, data StepData, feedback *FeedbackData) (string, error) {
	id, err := promptFor(step)
	if err != nil {
		return "", err
	}

	body, err := b.stepBody(step, id, data)
	if err != nil {
		return "", err
	}

	var parts []string
	if g := b.guidelines(); g != "" {
		parts = append(parts, "# Project guidelines\n\n"+g)
	}
	parts = append(parts, body)

	if step == constants.WorkflowStepExecute && feedback != nil {
		fb, err := Render(Feedback, feedback)
		if err != nil {
			return "", err
		}
		parts = append(parts, strings.TrimSpace(fb))
	}
	return strings.Join(parts, "\n\n"), nil
}

func (b *Builder) stepBody(step constants.WorkflowStep, id PromptID, data StepData) (string, error) {
	for _, dir := range b.SkillDirs {
		if dir == "" {
			continue
		}
		skill, err := LoadSkill(dir, step)
		if err != nil {
			b.logger.Debug().Err(err).Str("step", step.String()).Msg("skill not loaded")
			continue
		}
		out, err := Substitute(skill.Body, data.Values())
		if err != nil {
			return "", fmt.Errorf("skill %s: %w", skill.Path, err)
		}
		b.logger.Debug().Str("step", step.String()).Str("skill", skill.Path).Msg("using skill")
		return out, nil
	}

	b.logger.Debug().Str("step", step.String()).Msg("using built-in prompt")
	out, err := Render(id, data)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (b *Builder) guidelines() string {
	if b.GuidelinesPath == "" {
		return ""
	}
	data, err := os.ReadFile(b.GuidelinesPath) //#nosec G304 -- guidelines path comes from workspace config
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			b.logger.Warn().Err(err).Str("path", b.GuidelinesPath).Msg("failed to read guidelines")
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

func promptFor(step constants.WorkflowStep) (PromptID, error) {
	switch step {
	case constants.WorkflowStepBrief:
		return Brief, nil
	case constants.WorkflowStepPlan:
		return Plan, nil
	case constants.WorkflowStepExecute:
		return Execute, nil
	case constants.WorkflowStepPending, constants.WorkflowStepComplete:
	}
	return "", fmt.Errorf("%w: %s", formicerrors.ErrUnknownStep, step)
}
