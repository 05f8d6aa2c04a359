package git

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mrz1836/formic/internal/constants"
	formicerrors "github.com/mrz1836/formic/internal/errors"
	"github.com/mrz1836/formic/internal/slug"
)

// BranchName returns the isolated branch for a task: formic/<id>_<slug>.
//
//	BranchName("t-4", "High Priority Task") // formic/t-4_high-priority-task
func BranchName(taskID, title string) string {
	s := slug.Make(title, constants.SlugMaxLength)
	if s == "" {
		return constants.BranchPrefix + taskID
	}
	return constants.BranchPrefix + taskID + "_" + s
}

// BranchManager performs branch operations on the shared working tree.
// Every exported method holds one engine-wide lock, so only one git
// operation runs at any instant.
type BranchManager struct {
	mu     sync.Mutex
	runner Runner
	// ignoredPrefixes are status paths that never make the tree dirty.
	ignoredPrefixes []string
	logger          zerolog.Logger
}

// BranchManagerOption configures a BranchManager.
type BranchManagerOption func(*BranchManager)

// WithBranchLogger sets the logger.
func WithBranchLogger(logger zerolog.Logger) BranchManagerOption {
	return func(m *BranchManager) {
		m.logger = logger.With().Str("component", "branch").Logger()
	}
}

// WithIgnoredPaths adds path prefixes excluded from the dirty-tree check.
func WithIgnoredPaths(prefixes ...string) BranchManagerOption {
	return func(m *BranchManager) {
		m.ignoredPrefixes = append(m.ignoredPrefixes, prefixes...)
	}
}

// NewBranchManager creates a BranchManager. The formic workspace directory
// (board, task docs) is always ignored by the dirty check.
func NewBranchManager(runner Runner, opts ...BranchManagerOption) *BranchManager {
	m := &BranchManager{
		runner:          runner,
		ignoredPrefixes: []string{constants.WorkspaceDir + "/"},
		logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsClean reports whether the working tree has no uncommitted changes.
func (m *BranchManager) IsClean(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isClean(ctx)
}

func (m *BranchManager) isClean(ctx context.Context) (bool, error) {
	out, err := m.runner.Run(ctx, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return false, fmt.Errorf("failed to check working tree: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		if path := statusPath(line); path != "" && !m.ignored(path) {
			return false, nil
		}
	}
	return true, nil
}

// statusPath extracts the path from one porcelain status line. The leading
// space of the first line may already be trimmed, so the two status columns
// are skipped and the remainder trimmed.
func statusPath(line string) string {
	if len(line) < 3 {
		return ""
	}
	path := strings.TrimSpace(line[2:])
	if _, after, ok := strings.Cut(path, " -> "); ok {
		path = after
	}
	return strings.Trim(path, `"`)
}

func (m *BranchManager) ignored(path string) bool {
	for _, p := range m.ignoredPrefixes {
		if strings.HasPrefix(path, p) || path+"/" == p {
			return true
		}
	}
	return false
}

// CurrentBranch returns the checked-out branch name. With a detached HEAD it
// returns the commit id instead, so Checkout can restore either.
func (m *BranchManager) CurrentBranch(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentBranch(ctx)
}

func (m *BranchManager) currentBranch(ctx context.Context) (string, error) {
	out, err := m.runner.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	if out != "HEAD" {
		return out, nil
	}
	sha, err := m.runner.Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve detached HEAD: %w", err)
	}
	return sha, nil
}

// BranchExists reports whether a local branch exists.
func (m *BranchManager) BranchExists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.branchExists(ctx, name)
}

func (m *BranchManager) branchExists(ctx context.Context, name string) (bool, error) {
	_, err := m.runner.Run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err == nil {
		return true, nil
	}
	if ExitCodeOf(err) == 1 {
		return false, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, fmt.Errorf("failed to check branch %s: %w", name, err)
}

// CreateBranch creates name from base and checks it out. The dirty check
// always runs first. An existing branch that already descends from base is
// reused; one with unrelated history fails with ErrBranchExists.
//
// Returns true when a new branch was created.
func (m *BranchManager) CreateBranch(ctx context.Context, name, base string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clean, err := m.isClean(ctx)
	if err != nil {
		return false, err
	}
	if !clean {
		return false, formicerrors.ErrGitDirtyTree
	}

	baseExists, err := m.branchExists(ctx, base)
	if err != nil {
		return false, err
	}
	if !baseExists {
		return false, fmt.Errorf("%w: base %s", formicerrors.ErrBranchNotFound, base)
	}

	exists, err := m.branchExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		if _, err := m.runner.Run(ctx, "merge-base", "--is-ancestor", base, name); err != nil {
			if ExitCodeOf(err) == 1 {
				return false, fmt.Errorf("%w: %s does not descend from %s", formicerrors.ErrBranchExists, name, base)
			}
			return false, fmt.Errorf("failed to compare %s with %s: %w", name, base, err)
		}
		if _, err := m.runner.Run(ctx, "checkout", name); err != nil {
			return false, fmt.Errorf("failed to checkout %s: %w", name, err)
		}
		m.logger.Info().Str("branch", name).Str("base", base).Msg("reusing existing task branch")
		return false, nil
	}

	if _, err := m.runner.Run(ctx, "checkout", "-b", name, base); err != nil {
		return false, fmt.Errorf("failed to create branch %s: %w", name, err)
	}
	m.logger.Info().Str("branch", name).Str("base", base).Msg("created task branch")
	return true, nil
}

// Checkout switches the working tree to name. Restoring the previous branch
// is the caller's job.
func (m *BranchManager) Checkout(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.runner.Run(ctx, "checkout", name); err != nil {
		return fmt.Errorf("failed to checkout %s: %w", name, err)
	}
	return nil
}

// BranchStatus classifies name relative to base:
//
//	no divergence                     -> created
//	only name has new commits         -> ahead
//	base moved, name fully contained  -> merged if name was merged in, else behind
//	both moved, trial merge succeeds  -> behind
//	both moved, trial merge conflicts -> conflicts
func (m *BranchManager) BranchStatus(ctx context.Context, name, base string) (constants.BranchStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out, err := m.runner.Run(ctx, "rev-list", "--left-right", "--count", base+"..."+name)
	if err != nil {
		return "", fmt.Errorf("failed to compare %s with %s: %w", name, base, err)
	}
	behind, ahead, err := parseLeftRight(out)
	if err != nil {
		return "", err
	}

	switch {
	case ahead == 0 && behind == 0:
		return constants.BranchStatusCreated, nil
	case behind == 0:
		return constants.BranchStatusAhead, nil
	case ahead == 0:
		merged, err := m.mergedInto(ctx, name, base)
		if err != nil {
			return "", err
		}
		if merged {
			return constants.BranchStatusMerged, nil
		}
		return constants.BranchStatusBehind, nil
	}

	conflicts, err := m.trialMergeConflicts(ctx, name, base)
	if err != nil {
		return "", err
	}
	if conflicts {
		return constants.BranchStatusConflicts, nil
	}
	return constants.BranchStatusBehind, nil
}

// mergedInto reports whether a merge commit on base has name's tip as a
// non-first parent.
func (m *BranchManager) mergedInto(ctx context.Context, name, base string) (bool, error) {
	tip, err := m.runner.Run(ctx, "rev-parse", name)
	if err != nil {
		return false, fmt.Errorf("failed to resolve %s: %w", name, err)
	}
	out, err := m.runner.Run(ctx, "log", "--merges", "--format=%P", base)
	if err != nil {
		return false, fmt.Errorf("failed to list merges on %s: %w", base, err)
	}
	for _, line := range strings.Split(out, "\n") {
		parents := strings.Fields(line)
		for i := 1; i < len(parents); i++ {
			if parents[i] == tip {
				return true, nil
			}
		}
	}
	return false, nil
}

// trialMergeConflicts merges in memory with git merge-tree, which exits 1 on
// conflicts and never touches the working tree.
func (m *BranchManager) trialMergeConflicts(ctx context.Context, name, base string) (bool, error) {
	_, err := m.runner.Run(ctx, "merge-tree", "--write-tree", "--name-only", base, name)
	if err == nil {
		return false, nil
	}
	if ExitCodeOf(err) == 1 {
		return true, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, err
	}
	return false, fmt.Errorf("trial merge of %s into %s: %w", name, base, err)
}

func parseLeftRight(out string) (left, right int, err error) {
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("%w: unexpected rev-list output %q", formicerrors.ErrGitOperation, out)
	}
	if left, err = strconv.Atoi(fields[0]); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", formicerrors.ErrGitOperation, err)
	}
	if right, err = strconv.Atoi(fields[1]); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", formicerrors.ErrGitOperation, err)
	}
	return left, right, nil
}
