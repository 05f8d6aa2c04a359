package domain

// Project holds the metadata of the workspace the board belongs to.
type Project struct {
	Name        string `json:"name"`
	RepoPath    string `json:"repoPath"`
	Description string `json:"description,omitempty"`
}

// Board is the root aggregate persisted by the board store.
type Board struct {
	// Version is the board JSON schema version.
	Version int `json:"version"`

	Project Project `json:"project"`

	// Tasks holds every task; ids are unique.
	Tasks []*Task `json:"tasks"`

	// NextTaskNumber is the counter used to allocate t-<n> ids. It never
	// decreases, so ids are not reused even after deletion.
	NextTaskNumber int `json:"nextTaskNumber"`
}

// FindTask returns the task with the given id, or nil.
func (b *Board) FindTask(id string) *Task {
	for _, t := range b.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// ActiveCount returns the number of tasks holding an active status
// (briefing, planning or running).
func (b *Board) ActiveCount() int {
	n := 0
	for _, t := range b.Tasks {
		if t.Status.IsActive() {
			n++
		}
	}
	return n
}
