package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/mrz1836/formic/internal/agent"
	"github.com/mrz1836/formic/internal/board"
	"github.com/mrz1836/formic/internal/broadcast"
	"github.com/mrz1836/formic/internal/config"
	"github.com/mrz1836/formic/internal/engine"
	"github.com/mrz1836/formic/internal/errors"
	"github.com/mrz1836/formic/internal/git"
	"github.com/mrz1836/formic/internal/prompts"
	"github.com/mrz1836/formic/internal/queue"
	"github.com/mrz1836/formic/internal/recovery"
	"github.com/mrz1836/formic/internal/runner"
	"github.com/mrz1836/formic/internal/workflow"
)

// app is the fully wired engine for one CLI invocation.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	adapter *agent.Adapter
	store   *board.FileStore
	hub     *broadcast.Hub
	procs   *runner.Supervisor
	engine  *engine.Engine
}

// newApp loads configuration and builds every component. base bounds the
// lifetime of background workflows; it should outlive any signal context so
// shutdown can stop workflows explicitly.
func newApp(ctx, base context.Context, flags *GlobalFlags, logger zerolog.Logger) (*app, error) {
	cfg, err := loadConfig(ctx, flags, logger)
	if err != nil {
		return nil, err
	}

	adapter, err := agent.NewRegistry().Resolve(cfg.Agent.Type, cfg.Agent.Command)
	if err != nil {
		return nil, err
	}
	workspace := cfg.Workspace.Path
	store := board.NewFileStore(workspace, board.WithLogger(logger))
	hub := broadcast.NewHub(broadcast.WithHubLogger(logger))
	procs := runner.New(
		runner.WithStore(store),
		runner.WithBroadcaster(hub),
		runner.WithGracePeriod(cfg.Process.GracePeriod),
		runner.WithSingleRun(cfg.Process.SingleRun),
		runner.WithLogger(logger),
	)
	branches := git.NewBranchManager(git.NewCLIRunner(workspace, logger), git.WithBranchLogger(logger))
	builder := prompts.NewBuilder(
		[]string{cfg.ResolvePath(cfg.Workspace.SkillsDir), adapter.SkillsPath(workspace)},
		cfg.ResolvePath(cfg.Workspace.GuidelinesFile),
		logger,
	)
	wf := workflow.New(workflow.Config{
		Workspace:     workspace,
		BaseBranch:    cfg.Git.BaseBranch,
		MaxIterations: cfg.Workflow.MaxExecuteIterations,
		StepTimeout:   cfg.Workflow.StepTimeout,
	}, store, procs, builder, adapter,
		workflow.WithBroadcaster(hub),
		workflow.WithBranches(branches),
		workflow.WithLogger(logger),
	)
	eng := engine.New(store, wf, procs,
		engine.WithMaxConcurrent(cfg.Queue.MaxConcurrentTasks),
		engine.WithWorkspace(workspace),
		engine.WithLogger(logger),
		engine.WithBaseContext(base),
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		adapter: adapter,
		store:   store,
		hub:     hub,
		procs:   procs,
		engine:  eng,
	}, nil
}

// loadConfig applies the --workspace and --agent flags over the layered config.
func loadConfig(ctx context.Context, flags *GlobalFlags, logger zerolog.Logger) (*config.Config, error) {
	overrides := &config.Config{Agent: config.AgentConfig{Type: flags.Agent}}
	if flags.Workspace != "" {
		abs, err := filepath.Abs(flags.Workspace)
		if err != nil {
			return nil, errors.Wrap(err, "failed to resolve workspace path")
		}
		overrides.Workspace.Path = abs
	}
	return config.LoadWithOverrides(logger.WithContext(ctx), overrides)
}

// warnMissingEnv logs the agent's unset credential variables. Missing
// variables never stop formic; the agent may have other ways to authenticate.
func (a *app) warnMissingEnv() {
	if missing := a.adapter.MissingEnv(os.LookupEnv); len(missing) > 0 {
		a.logger.Warn().
			Str("agent", string(a.adapter.Type)).
			Strs("missing_env", missing).
			Msg("agent environment variables are not set; the agent may fail to authenticate")
	}
}

// newScheduler builds the queue scheduler admitting through the engine.
func (a *app) newScheduler() *queue.Scheduler {
	return queue.New(a.store, a.engine,
		queue.WithMaxConcurrent(a.cfg.Queue.MaxConcurrentTasks),
		queue.WithPollInterval(a.cfg.Queue.PollInterval),
		queue.WithLogger(a.logger),
	)
}

// newRecovery builds the startup recovery manager.
func (a *app) newRecovery() *recovery.Manager {
	return recovery.New(a.store, recovery.WithLogger(a.logger))
}
