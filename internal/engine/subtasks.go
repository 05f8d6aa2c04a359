package engine

import (
	"context"
	"path/filepath"

	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
	"github.com/mrz1836/formic/internal/subtasks"
)

// Progress is a task's subtasks file with its completion statistics.
type Progress struct {
	File  *domain.SubtasksFile
	Stats domain.CompletionStats
}

// Subtasks reads the subtasks file of taskID. A missing or malformed file is
// returned as ErrSubtasksFileMissing or ErrSubtasksFileMalformed so callers
// can suggest re-running the plan step.
func (e *Engine) Subtasks(ctx context.Context, taskID string) (*Progress, error) {
	dir, err := e.docsDir(ctx, taskID)
	if err != nil {
		return nil, err
	}
	f, err := subtasks.Read(dir)
	if err != nil {
		return nil, err
	}
	return &Progress{File: f, Stats: subtasks.Stats(f)}, nil
}

// UpdateSubtask sets the status (and optionally the notes) of one subtask.
func (e *Engine) UpdateSubtask(ctx context.Context, taskID, subtaskID string, status constants.SubtaskStatus, notes string) (*Progress, error) {
	dir, err := e.docsDir(ctx, taskID)
	if err != nil {
		return nil, err
	}
	f, err := subtasks.UpdateStatus(dir, subtaskID, status, notes, e.clock.Now())
	if err != nil {
		return nil, err
	}
	e.logger.Info().
		Str("task_id", taskID).
		Str("subtask_id", subtaskID).
		Str("status", string(status)).
		Msg("subtask updated")
	return &Progress{File: f, Stats: subtasks.Stats(f)}, nil
}

func (e *Engine) docsDir(ctx context.Context, taskID string) (string, error) {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(t.DocsPath) || e.workspace == "" {
		return t.DocsPath, nil
	}
	return filepath.Join(e.workspace, t.DocsPath), nil
}
