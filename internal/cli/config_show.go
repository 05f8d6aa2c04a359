package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/formic/internal/config"
)

// ConfigSource represents where a configuration value came from.
type ConfigSource string

const (
	// SourceDefault indicates the value is a built-in default.
	SourceDefault ConfigSource = "default"
	// SourceGlobal indicates the value came from global config.
	SourceGlobal ConfigSource = "global"
	// SourceProject indicates the value came from project config.
	SourceProject ConfigSource = "project"
	// SourceEnv indicates the value came from an environment variable.
	SourceEnv ConfigSource = "env"
	// SourceFlag indicates the value came from a command-line flag.
	SourceFlag ConfigSource = "flag"
)

// ConfigValueWithSource represents a configuration value with its source.
type ConfigValueWithSource struct {
	Key    string       `json:"key" yaml:"key"`
	Value  any          `json:"value" yaml:"value"`
	Source ConfigSource `json:"source" yaml:"source"`
	// Env is the variable that supplied the value when Source is env.
	Env string `json:"env,omitempty" yaml:"env,omitempty"`
}

// AddConfigCommand adds the config command tree to the root command.
func AddConfigCommand(root *cobra.Command, flags *GlobalFlags) {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect formic configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Display effective configuration",
		Long: `Display the effective formic configuration with source annotations.

Each value is marked with where it comes from:
  - flag: --workspace or --agent
  - env: FORMIC_* or a short alias such as MAX_CONCURRENT_TASKS
  - project: <workspace>/.formic/config.yaml
  - global: ~/.formic/config.yaml
  - default: built-in default`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	})
	root.AddCommand(cmd)
}

func runConfigShow(ctx context.Context, w io.Writer, flags *GlobalFlags) error {
	cfg, err := loadConfig(ctx, flags, GetLogger())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	values := annotate(cfg, flags)
	if flags.Output == OutputJSON {
		return writeJSON(w, values)
	}
	printAnnotated(w, values)
	return nil
}

// annotate pairs every effective value with the layer that supplied it.
func annotate(cfg *config.Config, flags *GlobalFlags) []ConfigValueWithSource {
	global := loadConfigFile(globalConfigPath())
	project := loadConfigFile(config.ProjectConfigPath(cfg.Workspace.Path))

	entries := []struct {
		key   string
		value any
		flag  bool
	}{
		{"agent.type", cfg.Agent.Type, flags.Agent != ""},
		{"agent.command", cfg.Agent.Command, false},
		{"queue.enabled", cfg.Queue.Enabled, false},
		{"queue.max_concurrent_tasks", cfg.Queue.MaxConcurrentTasks, false},
		{"queue.poll_interval", cfg.Queue.PollInterval.String(), false},
		{"workflow.max_execute_iterations", cfg.Workflow.MaxExecuteIterations, false},
		{"workflow.step_timeout", cfg.Workflow.StepTimeout.String(), false},
		{"process.grace_period", cfg.Process.GracePeriod.String(), false},
		{"process.single_run", cfg.Process.SingleRun, false},
		{"git.base_branch", cfg.Git.BaseBranch, false},
		{"workspace.path", cfg.Workspace.Path, flags.Workspace != ""},
		{"workspace.skills_dir", cfg.Workspace.SkillsDir, false},
		{"workspace.guidelines_file", cfg.Workspace.GuidelinesFile, false},
	}

	out := make([]ConfigValueWithSource, 0, len(entries))
	for _, e := range entries {
		v := ConfigValueWithSource{Key: e.key, Value: e.value, Source: SourceDefault}
		switch {
		case e.flag:
			v.Source = SourceFlag
		case envSource(e.key) != "":
			v.Source, v.Env = SourceEnv, envSource(e.key)
		case project.has(e.key):
			v.Source = SourceProject
		case global.has(e.key):
			v.Source = SourceGlobal
		}
		out = append(out, v)
	}
	return out
}

func envSource(key string) string {
	for _, name := range config.EnvNames(key) {
		if os.Getenv(name) != "" {
			return name
		}
	}
	return ""
}

func globalConfigPath() string {
	path, err := config.GlobalConfigPath()
	if err != nil {
		return ""
	}
	return path
}

// configValues is a parsed config file, keyed by section then key.
type configValues map[string]map[string]any

func (c configValues) has(key string) bool {
	section, name, ok := strings.Cut(key, ".")
	if !ok || c == nil {
		return false
	}
	_, exists := c[section][name]
	return exists
}

// loadConfigFile parses a config file for source detection. Missing or
// unparsable files count as empty; Load already reported parse errors.
func loadConfigFile(path string) configValues {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path) //#nosec G304 -- config file path
	if err != nil {
		return nil
	}
	var values configValues
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil
	}
	return values
}

func printAnnotated(w io.Writer, values []ConfigValueWithSource) {
	s := newStyles()
	sourceStyle := map[ConfigSource]lipgloss.Style{
		SourceFlag:    s.failure,
		SourceEnv:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")),
		SourceProject: s.warning,
		SourceGlobal:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF87")),
		SourceDefault: s.dim,
	}

	_, _ = fmt.Fprintln(w, s.header.Render("Effective formic configuration"))
	s.rule(w, 50)
	_, _ = fmt.Fprintln(w, s.dim.Render("Sources: ")+
		sourceStyle[SourceFlag].Render("flag")+" > "+
		sourceStyle[SourceEnv].Render("env")+" > "+
		sourceStyle[SourceProject].Render("project")+" > "+
		sourceStyle[SourceGlobal].Render("global")+" > "+
		sourceStyle[SourceDefault].Render("default"))
	_, _ = fmt.Fprintln(w)

	section := ""
	for _, v := range values {
		sec, name, _ := strings.Cut(v.Key, ".")
		if sec != section {
			if section != "" {
				_, _ = fmt.Fprintln(w)
			}
			section = sec
			_, _ = fmt.Fprintln(w, s.header.Render(sec+":"))
		}
		origin := string(v.Source)
		if v.Env != "" {
			origin += " " + v.Env
		}
		_, _ = fmt.Fprintf(w, "  %s %v %s\n",
			s.key.Render(name+":"),
			s.value.Render(fmt.Sprint(v.Value)),
			sourceStyle[v.Source].Render("# "+origin))
	}
}
