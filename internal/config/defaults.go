package config

import (
	"path/filepath"

	"github.com/mrz1836/formic/internal/constants"
)

// DefaultAgentType is the agent adapter used when none is configured.
const DefaultAgentType = "claude"

// DefaultConfig returns a new Config with default values.
// These defaults are the base layer that config files, environment
// variables, and CLI flags override.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Type: DefaultAgentType,
		},
		Queue: QueueConfig{
			// The queue is on by default; serve without it only runs recovery.
			Enabled:            true,
			MaxConcurrentTasks: constants.DefaultMaxConcurrentTasks,
			PollInterval:       constants.DefaultPollInterval,
		},
		Workflow: WorkflowConfig{
			MaxExecuteIterations: constants.DefaultMaxExecuteIterations,
			StepTimeout:          constants.DefaultStepTimeout,
		},
		Process: ProcessConfig{
			GracePeriod: constants.DefaultGracePeriod,
		},
		Git: GitConfig{
			BaseBranch: constants.DefaultBaseBranch,
		},
		Workspace: WorkspaceConfig{
			SkillsDir:      filepath.Join(constants.WorkspaceDir, constants.SkillsDir),
			GuidelinesFile: constants.GuidelinesFileName,
		},
	}
}
