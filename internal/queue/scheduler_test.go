package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/mrz1836/formic/internal/board"
	"github.com/mrz1836/formic/internal/clock"
	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
	formicerrors "github.com/mrz1836/formic/internal/errors"
	"github.com/mrz1836/formic/internal/task"
)

// fakeAdmitter moves tasks to briefing unless told to reject them.
type fakeAdmitter struct {
	mu     sync.Mutex
	store  board.Store
	reject map[string]bool
	calls  []string
}

func (f *fakeAdmitter) AdmitFromQueue(ctx context.Context, id string) domain.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)

	if f.reject[id] {
		return domain.Result{Kind: domain.ResultConflict, TaskID: id, Err: formicerrors.ErrGitDirtyTree}
	}
	if _, err := f.store.UpdateTask(ctx, id, func(t *domain.Task) error {
		return task.Transition(ctx, t, constants.TaskStatusBriefing)
	}); err != nil {
		return domain.Result{Kind: domain.ResultError, TaskID: id, Err: err}
	}
	return domain.Result{Kind: domain.ResultSuccess, TaskID: id}
}

func (f *fakeAdmitter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func newTestStore(t *testing.T) *board.FileStore {
	t.Helper()
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	return board.NewFileStore(t.TempDir(), board.WithClock(clock.NewStepClock(start, time.Second)))
}

func enqueue(t *testing.T, store *board.FileStore, title string, p constants.Priority) string {
	t.Helper()
	created, err := store.CreateTask(context.Background(), board.NewTaskInput{Title: title, Priority: p, Queue: true})
	require.NoError(t, err)
	require.Equal(t, constants.TaskStatusQueued, created.Status)
	return created.ID
}

// seedExample queues low(t1), low(t2), medium(t3), high(t4) in that order.
func seedExample(t *testing.T, store *board.FileStore) {
	t.Helper()
	enqueue(t, store, "Low one", constants.PriorityLow)
	enqueue(t, store, "Low two", constants.PriorityLow)
	enqueue(t, store, "Medium", constants.PriorityMedium)
	enqueue(t, store, "High Priority Task", constants.PriorityHigh)
}

func TestScheduler_AdmissionOrder(t *testing.T) {
	store := newTestStore(t)
	seedExample(t, store)
	admitter := &fakeAdmitter{store: store}

	s := New(store, admitter, WithMaxConcurrent(4))
	admitted, err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"t-4", "t-3", "t-1", "t-2"}, admitted)
}

func TestScheduler_AdmissionOrderOneSlotAtATime(t *testing.T) {
	store := newTestStore(t)
	seedExample(t, store)
	admitter := &fakeAdmitter{store: store}
	s := New(store, admitter)
	ctx := context.Background()

	var order []string
	for range 4 {
		admitted, err := s.Tick(ctx)
		require.NoError(t, err)
		require.Len(t, admitted, 1)
		order = append(order, admitted[0])

		// Budget is exhausted until the admitted task leaves the active set.
		again, err := s.Tick(ctx)
		require.NoError(t, err)
		assert.Empty(t, again)

		_, err = store.UpdateTask(ctx, admitted[0], func(tk *domain.Task) error {
			return task.Transition(ctx, tk, constants.TaskStatusTodo)
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"t-4", "t-3", "t-1", "t-2"}, order)
}

func TestScheduler_BudgetCountsActiveTasks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	running, err := store.CreateTask(ctx, board.NewTaskInput{Title: "Already running"})
	require.NoError(t, err)
	_, err = store.UpdateTask(ctx, running.ID, func(tk *domain.Task) error {
		return task.Transition(ctx, tk, constants.TaskStatusBriefing)
	})
	require.NoError(t, err)
	enqueue(t, store, "Waiting A", constants.PriorityHigh)
	enqueue(t, store, "Waiting B", constants.PriorityHigh)

	admitter := &fakeAdmitter{store: store}
	s := New(store, admitter, WithMaxConcurrent(2))

	admitted, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t-2"}, admitted)
	assert.Equal(t, []string{"t-2"}, admitter.Calls())
}

func TestScheduler_RejectedTaskStaysQueuedAndScanContinues(t *testing.T) {
	store := newTestStore(t)
	seedExample(t, store)
	admitter := &fakeAdmitter{store: store, reject: map[string]bool{"t-4": true}}
	s := New(store, admitter)
	ctx := context.Background()

	admitted, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t-3"}, admitted)
	assert.Equal(t, []string{"t-4", "t-3"}, admitter.Calls())

	t4, err := store.GetTask(ctx, "t-4")
	require.NoError(t, err)
	assert.Equal(t, constants.TaskStatusQueued, t4.Status)
}

func TestScheduler_StartStop(t *testing.T) {
	store := newTestStore(t)
	enqueue(t, store, "Background", constants.PriorityMedium)
	admitter := &fakeAdmitter{store: store}
	s := New(store, admitter, WithPollInterval(time.Millisecond))
	assert.Equal(t, constants.MinPollInterval, s.interval)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.ErrorIs(t, s.Start(ctx), formicerrors.ErrSchedulerRunning)
	assert.True(t, s.Running())

	require.Eventually(t, func() bool {
		return slices.Equal(admitter.Calls(), []string{"t-1"})
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())
	s.Stop()

	// Stopped scheduler admits nothing new.
	enqueue(t, store, "After stop", constants.PriorityHigh)
	time.Sleep(3 * constants.MinPollInterval)
	assert.Equal(t, []string{"t-1"}, admitter.Calls())
}

func TestOrder_TieBreakers(t *testing.T) {
	base := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	at := func(sec int) *time.Time {
		v := base.Add(time.Duration(sec) * time.Second)
		return &v
	}
	tasks := []*domain.Task{
		{ID: "t-10", Status: constants.TaskStatusQueued, Priority: constants.PriorityMedium, QueuedAt: at(5), CreatedAt: base},
		{ID: "t-2", Status: constants.TaskStatusQueued, Priority: constants.PriorityMedium, QueuedAt: at(5), CreatedAt: base},
		{ID: "t-3", Status: constants.TaskStatusQueued, Priority: constants.PriorityMedium, QueuedAt: at(5), CreatedAt: base.Add(-time.Minute)},
		{ID: "t-4", Status: constants.TaskStatusQueued, Priority: constants.PriorityMedium},
		{ID: "t-5", Status: constants.TaskStatusTodo, Priority: constants.PriorityHigh},
		{ID: "t-6", Status: constants.TaskStatusQueued, Priority: constants.PriorityMedium, QueuedAt: at(1), CreatedAt: base},
	}

	var ids []string
	for _, tk := range Order(tasks) {
		ids = append(ids, tk.ID)
	}
	assert.Equal(t, []string{"t-6", "t-3", "t-2", "t-10", "t-4"}, ids)
}

func TestProperty_OrderIsSortedPermutationOfQueued(t *testing.T) {
	priorities := []constants.Priority{constants.PriorityHigh, constants.PriorityMedium, constants.PriorityLow}
	statuses := []constants.TaskStatus{constants.TaskStatusQueued, constants.TaskStatusQueued, constants.TaskStatusTodo, constants.TaskStatusRunning}
	base := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(rt, "n")
		tasks := make([]*domain.Task, n)
		queued := 0
		for i := range tasks {
			q := base.Add(time.Duration(rapid.IntRange(0, 10).Draw(rt, "queuedAt")) * time.Second)
			tasks[i] = &domain.Task{
				ID:        fmt.Sprintf("t-%d", i+1),
				Priority:  rapid.SampledFrom(priorities).Draw(rt, "priority"),
				Status:    rapid.SampledFrom(statuses).Draw(rt, "status"),
				CreatedAt: base.Add(time.Duration(rapid.IntRange(0, 10).Draw(rt, "createdAt")) * time.Second),
				QueuedAt:  &q,
			}
			if tasks[i].Status == constants.TaskStatusQueued {
				queued++
			}
		}

		got := Order(tasks)
		if len(got) != queued {
			rt.Fatalf("got %d tasks, want %d queued", len(got), queued)
		}
		seen := map[string]bool{}
		for i, tk := range got {
			if tk.Status != constants.TaskStatusQueued {
				rt.Fatalf("%s is %s, not queued", tk.ID, tk.Status)
			}
			if seen[tk.ID] {
				rt.Fatalf("%s returned twice", tk.ID)
			}
			seen[tk.ID] = true
			if i == 0 {
				continue
			}
			prev := got[i-1]
			if Compare(prev, tk) > 0 {
				rt.Fatalf("%s ordered before %s", prev.ID, tk.ID)
			}
			if prev.Priority.Weight() < tk.Priority.Weight() {
				rt.Fatalf("%s (%s) admitted before higher priority %s (%s)", prev.ID, prev.Priority, tk.ID, tk.Priority)
			}
		}
	})
}
