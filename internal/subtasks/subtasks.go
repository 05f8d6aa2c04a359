// Package subtasks reads and writes the subtasks.json document the agent
// maintains inside a task's docs folder, and derives completion statistics
// from it. The file, not the agent's claims, decides when execution is done.
package subtasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
	formicerrors "github.com/mrz1836/formic/internal/errors"
)

// Path returns the subtasks file location for a task docs folder.
func Path(docsDir string) string {
	return filepath.Join(docsDir, constants.SubtasksFileName)
}

// Read loads the subtasks file from docsDir.
//
// Returns ErrSubtasksFileMissing when the file does not exist and
// ErrSubtasksFileMalformed when it cannot be parsed or has an invalid status.
func Read(docsDir string) (*domain.SubtasksFile, error) {
	path := Path(docsDir)
	data, err := os.ReadFile(path) //#nosec G304 -- docs folder is owned by the engine
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", formicerrors.ErrSubtasksFileMissing, path)
		}
		return nil, fmt.Errorf("failed to read subtasks file: %w", err)
	}

	var f domain.SubtasksFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", formicerrors.ErrSubtasksFileMalformed, path, err)
	}
	for _, st := range f.Subtasks {
		if !st.Status.Valid() {
			return nil, fmt.Errorf("%w: subtask %s has status %q",
				formicerrors.ErrSubtasksFileMalformed, st.ID, st.Status)
		}
	}
	return &f, nil
}

// Write stores f in docsDir, creating the folder if needed.
func Write(docsDir string, f *domain.SubtasksFile) error {
	if f == nil {
		return fmt.Errorf("failed to write subtasks file: %w", formicerrors.ErrEmptyValue)
	}
	if err := os.MkdirAll(docsDir, 0o750); err != nil {
		return fmt.Errorf("failed to create docs folder: %w", err)
	}
	if f.Subtasks == nil {
		f.Subtasks = []domain.Subtask{}
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode subtasks file: %w", err)
	}

	path := Path(docsDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write subtasks file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write subtasks file: %w", err)
	}
	return nil
}

// UpdateStatus sets the status of one subtask and stamps completedAt when it
// becomes completed (cleared otherwise). A non-empty notes replaces the
// subtask's annotation.
func UpdateStatus(docsDir, id string, status constants.SubtaskStatus, notes string, now time.Time) (*domain.SubtasksFile, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid subtask status %q", formicerrors.ErrSubtasksFileMalformed, status)
	}
	f, err := Read(docsDir)
	if err != nil {
		return nil, err
	}

	found := false
	for i := range f.Subtasks {
		if f.Subtasks[i].ID != id {
			continue
		}
		found = true
		f.Subtasks[i].Status = status
		if notes != "" {
			f.Subtasks[i].Notes = notes
		}
		if status == constants.SubtaskStatusCompleted {
			at := now
			f.Subtasks[i].CompletedAt = &at
		} else {
			f.Subtasks[i].CompletedAt = nil
		}
		break
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", formicerrors.ErrSubtaskNotFound, id)
	}

	f.UpdatedAt = now
	if err := Write(docsDir, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Stats computes completion statistics. The percentage is
// floor(completed*100/total); an empty list is 0% and never complete.
func Stats(f *domain.SubtasksFile) domain.CompletionStats {
	var s domain.CompletionStats
	if f == nil {
		return s
	}
	for _, st := range f.Subtasks {
		switch st.Status {
		case constants.SubtaskStatusCompleted:
			s.Completed++
		case constants.SubtaskStatusInProgress:
			s.InProgress++
		case constants.SubtaskStatusPending:
			s.Pending++
		}
	}
	s.Total = len(f.Subtasks)
	if s.Total > 0 {
		s.Percentage = s.Completed * 100 / s.Total
		s.AllComplete = s.Completed == s.Total
	}
	return s
}

// Incomplete returns the subtasks not yet completed, in file order.
func Incomplete(f *domain.SubtasksFile) []domain.Subtask {
	if f == nil {
		return nil
	}
	var out []domain.Subtask
	for _, st := range f.Subtasks {
		if st.Status != constants.SubtaskStatusCompleted {
			out = append(out, st)
		}
	}
	return out
}
