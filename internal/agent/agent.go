// Package agent maps the configured agent type to the concrete CLI invocation
// that runs one prompt non-interactively.
package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	formicerrors "github.com/mrz1836/formic/internal/errors"
)

// Type identifies an agent CLI.
type Type string

// Supported agent types.
const (
	TypeClaude  Type = "claude"
	TypeCopilot Type = "copilot"
)

// Adapter describes how to invoke one agent CLI.
type Adapter struct {
	// Type is the agent identifier (AGENT_TYPE).
	Type Type

	// Command is the executable, possibly overridden by AGENT_COMMAND.
	Command string

	// Args builds the argument list for one prompt.
	Args func(prompt string) []string

	// RequiredEnv lists environment variables the agent needs to authenticate.
	RequiredEnv []string

	// SkillsDir is where the agent looks for project skills, relative to the workspace.
	SkillsDir string

	// InstallHint is shown when the binary is missing.
	InstallHint string
}

// Invocation is a resolved command line.
type Invocation struct {
	Command string
	Args    []string
}

// BuildInvocation returns the command line that runs prompt.
func (a *Adapter) BuildInvocation(prompt string) Invocation {
	return Invocation{Command: a.Command, Args: a.Args(prompt)}
}

// MissingEnv returns the required environment variables that are unset.
func (a *Adapter) MissingEnv(lookup func(string) (string, bool)) []string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var missing []string
	for _, key := range a.RequiredEnv {
		if v, ok := lookup(key); !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// SkillsPath returns the agent's skills folder inside workspace.
func (a *Adapter) SkillsPath(workspace string) string {
	return filepath.Join(workspace, a.SkillsDir)
}

// Registry maps agent types to adapters. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Type]Adapter
}

// NewRegistry returns a registry holding the built-in adapters.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[Type]Adapter)}
	r.Register(claudeAdapter())
	r.Register(copilotAdapter())
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Type] = a
}

// Types returns the registered agent types, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve returns the adapter for typ. A non-empty commandOverride replaces
// the executable but keeps the adapter's argument shape.
//
// Returns ErrUnknownAgent if typ has no adapter.
func (r *Registry) Resolve(typ, commandOverride string) (*Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[Type(strings.ToLower(strings.TrimSpace(typ)))]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", formicerrors.ErrUnknownAgent, typ)
	}
	if cmd := strings.TrimSpace(commandOverride); cmd != "" {
		a.Command = cmd
	}
	return &a, nil
}

func claudeAdapter() Adapter {
	return Adapter{
		Type:    TypeClaude,
		Command: "claude",
		Args: func(prompt string) []string {
			return []string{"--print", "--dangerously-skip-permissions", prompt}
		},
		RequiredEnv: []string{"ANTHROPIC_API_KEY"},
		SkillsDir:   filepath.Join(".claude", "skills"),
		InstallHint: "npm install -g @anthropic-ai/claude-code",
	}
}

func copilotAdapter() Adapter {
	return Adapter{
		Type:    TypeCopilot,
		Command: "copilot",
		Args: func(prompt string) []string {
			return []string{"--prompt", prompt, "--allow-all-tools"}
		},
		RequiredEnv: []string{"GITHUB_TOKEN"},
		SkillsDir:   filepath.Join(".github", "skills"),
		InstallHint: "npm install -g @github/copilot",
	}
}
