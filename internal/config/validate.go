package config

import (
	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/errors"
)

// Validate checks the configuration for invalid or inconsistent values.
// It returns an error describing the first validation failure found.
//
// Validation rules:
//   - agent.type must be claude or copilot
//   - queue.max_concurrent_tasks must be positive
//   - queue.poll_interval must be at least 100ms
//   - workflow.max_execute_iterations must be at least 1
//   - workflow.step_timeout and process.grace_period must be positive
//   - git.base_branch must not be empty
//
// Missing agent environment variables are not validated here; they only
// produce a startup warning.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.ErrConfigNil
	}
	if err := validateAgentConfig(&cfg.Agent); err != nil {
		return err
	}
	if err := validateQueueConfig(&cfg.Queue); err != nil {
		return err
	}
	if err := validateWorkflowConfig(&cfg.Workflow, &cfg.Process); err != nil {
		return err
	}
	if cfg.Git.BaseBranch == "" {
		return errors.Wrap(errors.ErrConfigInvalidGit, "git.base_branch must not be empty")
	}
	return nil
}

func validateAgentConfig(cfg *AgentConfig) error {
	switch cfg.Type {
	case "claude", "copilot":
		return nil
	default:
		return errors.Wrapf(errors.ErrConfigInvalidAgent,
			"agent.type must be claude or copilot, got %q", cfg.Type)
	}
}

func validateQueueConfig(cfg *QueueConfig) error {
	if cfg.MaxConcurrentTasks < 1 {
		return errors.Wrapf(errors.ErrConfigInvalidQueue,
			"queue.max_concurrent_tasks must be positive, got %d", cfg.MaxConcurrentTasks)
	}
	if cfg.PollInterval < constants.MinPollInterval {
		return errors.Wrapf(errors.ErrConfigInvalidQueue,
			"queue.poll_interval must be at least %s, got %s", constants.MinPollInterval, cfg.PollInterval)
	}
	return nil
}

func validateWorkflowConfig(wf *WorkflowConfig, proc *ProcessConfig) error {
	if wf.MaxExecuteIterations < 1 {
		return errors.Wrapf(errors.ErrConfigInvalidWorkflow,
			"workflow.max_execute_iterations must be at least 1, got %d", wf.MaxExecuteIterations)
	}
	if wf.StepTimeout <= 0 {
		return errors.Wrapf(errors.ErrConfigInvalidWorkflow,
			"workflow.step_timeout must be positive, got %s", wf.StepTimeout)
	}
	if proc.GracePeriod <= 0 {
		return errors.Wrapf(errors.ErrConfigInvalidWorkflow,
			"process.grace_period must be positive, got %s", proc.GracePeriod)
	}
	return nil
}
