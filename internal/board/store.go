// Package board provides persistence for the formic board and its tasks.
// The board lives in a single JSON file that is rewritten with a
// load-modify-atomic-rename cycle under an exclusive file lock.
package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mrz1836/formic/internal/clock"
	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
	formicerrors "github.com/mrz1836/formic/internal/errors"
	"github.com/mrz1836/formic/internal/flock"
	"github.com/mrz1836/formic/internal/slug"
	"github.com/mrz1836/formic/internal/task"
)

// Directory and file permission constants.
const (
	dirPerm  = 0o750
	filePerm = 0o600
)

// Store defines the board persistence operations the engine consumes.
// Every returned task or board is a private copy; mutate through Update.
type Store interface {
	// Load returns the current board. A missing board file yields an empty board.
	Load(ctx context.Context) (*domain.Board, error)

	// Save replaces the persisted board.
	Save(ctx context.Context, b *domain.Board) error

	// Update runs fn against the current board and persists the result
	// atomically. If fn returns an error nothing is written.
	Update(ctx context.Context, fn func(b *domain.Board) error) (*domain.Board, error)

	// GetTask returns a copy of one task or ErrTaskNotFound.
	GetTask(ctx context.Context, id string) (*domain.Task, error)

	// UpdateTask runs fn against one task and persists the board.
	UpdateTask(ctx context.Context, id string, fn func(t *domain.Task) error) (*domain.Task, error)
}

// NewTaskInput describes a task to create.
type NewTaskInput struct {
	Title    string
	Context  string
	Priority constants.Priority
	// Queue creates the task directly in queued instead of todo.
	Queue bool
}

// FileStore implements Store on the local filesystem.
type FileStore struct {
	path   string
	clock  clock.Clock
	logger zerolog.Logger

	// mu serializes in-process writers; the file lock guards against other processes.
	mu sync.Mutex
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithClock sets the clock used for createdAt/queuedAt/updatedAt stamps.
func WithClock(c clock.Clock) Option {
	return func(s *FileStore) {
		s.clock = c
	}
}

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *FileStore) {
		s.logger = logger.With().Str("component", "board").Logger()
	}
}

// NewFileStore creates a store for the board file of the given workspace
// (<workspace>/.formic/board.json).
func NewFileStore(workspacePath string, opts ...Option) *FileStore {
	s := &FileStore{
		path:   filepath.Join(workspacePath, constants.WorkspaceDir, constants.BoardFileName),
		clock:  clock.RealClock{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the board file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load returns the current board.
func (s *FileStore) Load(ctx context.Context) (*domain.Board, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := s.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	return s.read()
}

// Save replaces the persisted board.
func (s *FileStore) Save(ctx context.Context, b *domain.Board) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("failed to save board: board %w", formicerrors.ErrEmptyValue)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	return s.write(b)
}

// Update runs fn against the current board and persists the result.
func (s *FileStore) Update(ctx context.Context, fn func(b *domain.Board) error) (*domain.Board, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := s.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	b, err := s.read()
	if err != nil {
		return nil, err
	}
	if err := fn(b); err != nil {
		return nil, err
	}
	if err := s.write(b); err != nil {
		return nil, err
	}
	return b, nil
}

// GetTask returns a copy of one task.
func (s *FileStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	b, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	t := b.FindTask(id)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", formicerrors.ErrTaskNotFound, id)
	}
	return t, nil
}

// UpdateTask runs fn against one task and persists the board. Agent logs are
// re-capped after fn runs so the 50 line invariant survives any caller.
func (s *FileStore) UpdateTask(ctx context.Context, id string, fn func(t *domain.Task) error) (*domain.Task, error) {
	var updated *domain.Task
	_, err := s.Update(ctx, func(b *domain.Board) error {
		t := b.FindTask(id)
		if t == nil {
			return fmt.Errorf("%w: %s", formicerrors.ErrTaskNotFound, id)
		}
		if err := fn(t); err != nil {
			return err
		}
		t.AgentLogs = task.CapLines(t.AgentLogs, constants.MaxAgentLogLines)
		t.UpdatedAt = s.clock.Now()
		updated = t.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CreateTask allocates the next t-<n> id and appends a new task in todo (or
// queued when in.Queue is set).
func (s *FileStore) CreateTask(ctx context.Context, in NewTaskInput) (*domain.Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("failed to create task: title %w", formicerrors.ErrEmptyValue)
	}
	priority := in.Priority
	if priority == "" {
		priority = constants.PriorityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: %q", formicerrors.ErrInvalidPriority, priority)
	}

	var created *domain.Task
	_, err := s.Update(ctx, func(b *domain.Board) error {
		n := nextTaskNumber(b)
		b.NextTaskNumber = n + 1

		id := "t-" + strconv.Itoa(n)
		now := s.clock.Now()
		t := &domain.Task{
			ID:           id,
			Title:        in.Title,
			Context:      in.Context,
			Priority:     priority,
			Status:       constants.TaskStatusTodo,
			DocsPath:     DocsPath(id, in.Title),
			AgentLogs:    []string{},
			WorkflowStep: constants.WorkflowStepPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if in.Queue {
			if err := task.TransitionAt(ctx, t, constants.TaskStatusQueued, now); err != nil {
				return err
			}
		}
		b.Tasks = append(b.Tasks, t)
		created = t.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("task_id", created.ID).
		Str("priority", string(created.Priority)).
		Str("status", created.Status.String()).
		Msg("task created")
	return created, nil
}

// DocsPath returns the workspace-relative documentation folder of a task.
func DocsPath(id, title string) string {
	name := id
	if s := slug.Make(title, constants.SlugMaxLength); s != "" {
		name = id + "_" + s
	}
	return filepath.ToSlash(filepath.Join(constants.WorkspaceDir, constants.TasksDir, name))
}

// nextTaskNumber returns the number for the next task id. It never hands out
// a number at or below an id already on the board, even if the counter was
// edited by hand.
func nextTaskNumber(b *domain.Board) int {
	n := b.NextTaskNumber
	if n < 1 {
		n = 1
	}
	for _, t := range b.Tasks {
		if v, ok := parseTaskNumber(t.ID); ok && v >= n {
			n = v + 1
		}
	}
	return n
}

// parseTaskNumber extracts n from "t-<n>".
func parseTaskNumber(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, "t-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// read loads and normalizes the board. Caller holds the lock.
func (s *FileStore) read() (*domain.Board, error) {
	data, err := os.ReadFile(s.path) //#nosec G304 -- path is constructed from the configured workspace
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &domain.Board{
				Version:        constants.BoardSchemaVersion,
				Tasks:          []*domain.Task{},
				NextTaskNumber: 1,
			}, nil
		}
		return nil, fmt.Errorf("%w: %w", formicerrors.ErrStoreUnreadable, err)
	}

	var b domain.Board
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", formicerrors.ErrStoreUnreadable, s.path, err)
	}
	normalize(&b)
	return &b, nil
}

// normalize fills defaults for boards written by older versions or by hand.
func normalize(b *domain.Board) {
	if b.Version == 0 {
		b.Version = constants.BoardSchemaVersion
	}
	if b.Tasks == nil {
		b.Tasks = []*domain.Task{}
	}
	for _, t := range b.Tasks {
		if t.Priority == "" {
			t.Priority = constants.PriorityMedium
		}
		if t.WorkflowStep == "" {
			t.WorkflowStep = constants.WorkflowStepPending
		}
		if t.AgentLogs == nil {
			t.AgentLogs = []string{}
		}
		t.AgentLogs = task.CapLines(t.AgentLogs, constants.MaxAgentLogLines)
	}
	if b.NextTaskNumber < 1 {
		b.NextTaskNumber = nextTaskNumber(b)
	}
}

// write persists the board atomically. Caller holds the lock.
func (s *FileStore) write(b *domain.Board) error {
	if err := os.MkdirAll(filepath.Dir(s.path), dirPerm); err != nil {
		return fmt.Errorf("failed to create board directory: %w", err)
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode board: %w", err)
	}
	return atomicWrite(s.path, data)
}

// acquireLock takes the cross-process board lock.
func (s *FileStore) acquireLock(ctx context.Context) (*flock.Lock, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create board directory: %w", err)
	}
	lock, err := flock.Acquire(ctx, s.path+".lock", constants.LockTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to lock board: %w", err)
	}
	return lock, nil
}

// atomicWrite writes data to a file atomically using write-then-rename.
func atomicWrite(path string, data []byte) error {
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm) //#nosec G304 -- path is constructed internally
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)
