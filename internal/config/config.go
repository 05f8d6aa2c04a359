// Package config provides layered configuration for formic.
//
// Configuration sources are loaded in the following order (highest precedence first):
//  1. CLI flags (passed via LoadWithOverrides)
//  2. Environment variables (FORMIC_* prefix, plus the short aliases such as
//     MAX_CONCURRENT_TASKS and STEP_TIMEOUT_MS)
//  3. Project config (<workspace>/.formic/config.yaml)
//  4. Global config (~/.formic/config.yaml)
//  5. Built-in defaults
//
// Each higher level completely overrides the lower level for the same key.
//
// IMPORTANT: This package may import internal/constants and internal/errors,
// but MUST NOT import internal/domain or other internal packages.
package config

import "time"

// Config is the root configuration structure for formic.
type Config struct {
	// Agent selects the coding agent CLI driven by every workflow step.
	Agent AgentConfig `yaml:"agent" mapstructure:"agent"`

	// Queue controls automatic admission of queued tasks.
	Queue QueueConfig `yaml:"queue" mapstructure:"queue"`

	// Workflow bounds each workflow step and the execute loop.
	Workflow WorkflowConfig `yaml:"workflow" mapstructure:"workflow"`

	// Process configures agent process supervision.
	Process ProcessConfig `yaml:"process" mapstructure:"process"`

	// Git contains settings for task branch management.
	Git GitConfig `yaml:"git" mapstructure:"git"`

	// Workspace locates the repository formic operates on.
	Workspace WorkspaceConfig `yaml:"workspace" mapstructure:"workspace"`
}

// AgentConfig selects the agent adapter. The selection is fixed for the
// lifetime of the process.
type AgentConfig struct {
	// Type is the adapter name: "claude" or "copilot".
	Type string `yaml:"type" mapstructure:"type"`

	// Command overrides the adapter's binary. Empty keeps the adapter default.
	Command string `yaml:"command" mapstructure:"command"`
}

// QueueConfig controls the queue scheduler.
type QueueConfig struct {
	// Enabled starts the scheduler with `formic serve`.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// MaxConcurrentTasks is the number of tasks allowed in an active status at once.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks" mapstructure:"max_concurrent_tasks"`

	// PollInterval is the delay between scheduler ticks.
	// Bare integers are read as milliseconds.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// WorkflowConfig bounds workflow execution.
type WorkflowConfig struct {
	// MaxExecuteIterations caps agent invocations in the execute loop.
	MaxExecuteIterations int `yaml:"max_execute_iterations" mapstructure:"max_execute_iterations"`

	// StepTimeout is the wall-clock limit for one workflow step.
	// Bare integers are read as milliseconds.
	StepTimeout time.Duration `yaml:"step_timeout" mapstructure:"step_timeout"`
}

// ProcessConfig configures the process supervisor.
type ProcessConfig struct {
	// GracePeriod is how long a stopped agent has to exit before it is killed.
	GracePeriod time.Duration `yaml:"grace_period" mapstructure:"grace_period"`

	// SingleRun allows only one agent process across the whole engine.
	SingleRun bool `yaml:"single_run" mapstructure:"single_run"`
}

// GitConfig contains git settings.
type GitConfig struct {
	// BaseBranch is the branch task branches are created from and compared against.
	BaseBranch string `yaml:"base_branch" mapstructure:"base_branch"`
}

// WorkspaceConfig locates the workspace and its prompt material.
type WorkspaceConfig struct {
	// Path is the repository root. Empty means the current directory.
	Path string `yaml:"path" mapstructure:"path"`

	// SkillsDir holds per-step SKILL.md files, relative to Path unless absolute.
	SkillsDir string `yaml:"skills_dir" mapstructure:"skills_dir"`

	// GuidelinesFile is the project guidelines document, relative to Path unless absolute.
	GuidelinesFile string `yaml:"guidelines_file" mapstructure:"guidelines_file"`
}
