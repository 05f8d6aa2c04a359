package config

import (
	"context"
	stderrors "errors"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/mrz1836/formic/internal/errors"
)

// envAliases binds the short, unprefixed environment names formic has always
// accepted. The FORMIC_ prefixed name is listed first and wins when both are set.
var envAliases = map[string][]string{
	"agent.type":                      {"AGENT_TYPE"},
	"agent.command":                   {"AGENT_COMMAND"},
	"queue.enabled":                   {"QUEUE_ENABLED"},
	"queue.max_concurrent_tasks":      {"MAX_CONCURRENT_TASKS"},
	"queue.poll_interval":             {"QUEUE_POLL_INTERVAL"},
	"workflow.max_execute_iterations": {"MAX_EXECUTE_ITERATIONS"},
	"workflow.step_timeout":           {"STEP_TIMEOUT_MS"},
	"workspace.path":                  {"WORKSPACE_PATH"},
}

// newViperInstance creates a new Viper instance with the FORMIC_ environment
// prefix, the short aliases, and defaults.
func newViperInstance() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FORMIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key := range envAliases {
		_ = v.BindEnv(append([]string{key}, EnvNames(key)...)...)
	}
	return v
}

// EnvNames returns the environment variables read for key, highest
// precedence first: FORMIC_<SECTION>_<KEY> followed by any short alias.
func EnvNames(key string) []string {
	names := []string{"FORMIC_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
	return append(names, envAliases[key]...)
}

// isConfigNotFoundError returns true if the error is a viper config file not found error.
func isConfigNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var configNotFoundErr viper.ConfigFileNotFoundError
	return stderrors.As(err, &configNotFoundErr)
}

// unmarshalAndValidate unmarshals viper config into Config struct and validates it.
func unmarshalAndValidate(ctx context.Context, v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viperDecoderOption()); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	logger := zerolog.Ctx(ctx).With().Str("component", "config").Logger()
	logger.Debug().
		Str("agent.type", cfg.Agent.Type).
		Int("queue.max_concurrent_tasks", cfg.Queue.MaxConcurrentTasks).
		Dur("queue.poll_interval", cfg.Queue.PollInterval).
		Int("workflow.max_execute_iterations", cfg.Workflow.MaxExecuteIterations).
		Dur("workflow.step_timeout", cfg.Workflow.StepTimeout).
		Msg("configuration loaded and unmarshaled")

	if err := Validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &cfg, nil
}

// Load reads configuration from all available sources with proper precedence.
// The project config is looked up in the workspace named by workspace.path
// (environment or global config), falling back to the current directory.
//
// For CLI flag overrides, use LoadWithOverrides instead.
//
// Missing config files are not an error.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, "")
}

func load(ctx context.Context, workspace string) (*Config, error) {
	v := newViperInstance()

	if err := loadGlobalConfig(v); err != nil {
		return nil, err
	}

	if workspace == "" {
		workspace = v.GetString("workspace.path")
	}
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "failed to determine working directory")
		}
		workspace = wd
	}
	v.Set("workspace.path", workspace)

	if err := mergeConfigFile(v, ProjectConfigPath(workspace), "failed to read project config file"); err != nil {
		return nil, err
	}

	return unmarshalAndValidate(ctx, v)
}

// loadGlobalConfig attempts to load the global config file (~/.formic/config.yaml).
// Returns nil if the file doesn't exist or home directory cannot be determined.
func loadGlobalConfig(v *viper.Viper) error {
	path, err := GlobalConfigPath()
	if err != nil {
		return nil //nolint:nilerr // no home directory means no global config
	}
	return mergeConfigFile(v, path, "failed to read global config file")
}

// mergeConfigFile merges the yaml file at path over v. A missing file is skipped.
func mergeConfigFile(v *viper.Viper, path, msg string) error {
	if !fileExists(path) {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil && !isConfigNotFoundError(err) {
		return errors.Wrap(err, msg)
	}
	return nil
}

// fileExists returns true if the file at path exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadWithOverrides loads configuration and applies CLI flag overrides.
// A non-empty overrides.Workspace.Path also selects which project config is read.
//
// Only non-zero values in overrides are applied. Boolean fields cannot be
// overridden to false this way; the CLI handles those flags explicitly.
func LoadWithOverrides(ctx context.Context, overrides *Config) (*Config, error) {
	workspace := ""
	if overrides != nil {
		workspace = overrides.Workspace.Path
	}
	cfg, err := load(ctx, workspace)
	if err != nil {
		return nil, err
	}

	if overrides != nil {
		applyOverrides(cfg, overrides)
	}

	if err := Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration after overrides")
	}
	return cfg, nil
}

// LoadFromPaths loads configuration from specific file paths. Empty paths are
// skipped. Environment variables still apply; workspace.path is left as
// configured.
func LoadFromPaths(ctx context.Context, projectConfigPath, globalConfigPath string) (*Config, error) {
	v := newViperInstance()

	if globalConfigPath != "" {
		if err := mergeConfigFile(v, globalConfigPath, "failed to read global config file"); err != nil {
			return nil, err
		}
	}
	if projectConfigPath != "" {
		if err := mergeConfigFile(v, projectConfigPath, "failed to read project config file"); err != nil {
			return nil, err
		}
	}

	return unmarshalAndValidate(ctx, v)
}

// setDefaults configures default values in Viper from DefaultConfig.
// Every key needs a default so AutomaticEnv can find it during Unmarshal.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("agent.type", d.Agent.Type)
	v.SetDefault("agent.command", d.Agent.Command)

	v.SetDefault("queue.enabled", d.Queue.Enabled)
	v.SetDefault("queue.max_concurrent_tasks", d.Queue.MaxConcurrentTasks)
	v.SetDefault("queue.poll_interval", d.Queue.PollInterval.String())

	v.SetDefault("workflow.max_execute_iterations", d.Workflow.MaxExecuteIterations)
	v.SetDefault("workflow.step_timeout", d.Workflow.StepTimeout.String())

	v.SetDefault("process.grace_period", d.Process.GracePeriod.String())
	v.SetDefault("process.single_run", d.Process.SingleRun)

	v.SetDefault("git.base_branch", d.Git.BaseBranch)

	v.SetDefault("workspace.path", d.Workspace.Path)
	v.SetDefault("workspace.skills_dir", d.Workspace.SkillsDir)
	v.SetDefault("workspace.guidelines_file", d.Workspace.GuidelinesFile)
}

// applyOverrides merges non-zero override values into the config.
func applyOverrides(cfg, overrides *Config) {
	if overrides.Agent.Type != "" {
		cfg.Agent.Type = overrides.Agent.Type
	}
	if overrides.Agent.Command != "" {
		cfg.Agent.Command = overrides.Agent.Command
	}
	if overrides.Queue.MaxConcurrentTasks != 0 {
		cfg.Queue.MaxConcurrentTasks = overrides.Queue.MaxConcurrentTasks
	}
	if overrides.Queue.PollInterval != 0 {
		cfg.Queue.PollInterval = overrides.Queue.PollInterval
	}
	if overrides.Workflow.MaxExecuteIterations != 0 {
		cfg.Workflow.MaxExecuteIterations = overrides.Workflow.MaxExecuteIterations
	}
	if overrides.Workflow.StepTimeout != 0 {
		cfg.Workflow.StepTimeout = overrides.Workflow.StepTimeout
	}
	if overrides.Git.BaseBranch != "" {
		cfg.Git.BaseBranch = overrides.Git.BaseBranch
	}
	if overrides.Workspace.Path != "" {
		cfg.Workspace.Path = overrides.Workspace.Path
	}
}

// viperDecoderOption returns the decoder options for Viper unmarshal.
// Durations accept Go duration strings ("5s") and bare millisecond integers ("5000").
func viperDecoderOption() viper.DecoderConfigOption {
	return viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			millisecondsHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	)
}

// millisecondsHookFunc decodes integers and all-digit strings into a
// time.Duration of that many milliseconds.
func millisecondsHookFunc() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeFor[time.Duration]()
	return func(from, to reflect.Type, data any) (any, error) {
		if to != durationType || from == durationType {
			return data, nil
		}
		switch from.Kind() { //nolint:exhaustive // only numeric and string inputs are converted
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Millisecond, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(reflect.ValueOf(data).Uint()) * time.Millisecond, nil //#nosec G115 -- config values are small
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Millisecond)), nil
		case reflect.String:
			s := strings.TrimSpace(reflect.ValueOf(data).String())
			ms, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return data, nil //nolint:nilerr // not a bare integer, leave it to ParseDuration
			}
			return time.Duration(ms) * time.Millisecond, nil
		default:
			return data, nil
		}
	}
}
