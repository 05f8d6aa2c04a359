package queue

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
)

// Order returns the queued tasks in admission order:
//
//	priority weight   descending (high, medium, low)
//	queuedAt          ascending, tasks without one last
//	createdAt         ascending
//	id                ascending by number, then lexically
func Order(tasks []*domain.Task) []*domain.Task {
	var queued []*domain.Task
	for _, t := range tasks {
		if t.Status == constants.TaskStatusQueued {
			queued = append(queued, t)
		}
	}
	slices.SortStableFunc(queued, Compare)
	return queued
}

// Compare orders two queued tasks; negative means a admits before b.
func Compare(a, b *domain.Task) int {
	if wa, wb := a.Priority.Weight(), b.Priority.Weight(); wa != wb {
		return wb - wa
	}
	if c := compareQueuedAt(a.QueuedAt, b.QueuedAt); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return compareIDs(a.ID, b.ID)
}

func compareQueuedAt(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

// compareIDs sorts t-2 before t-10.
func compareIDs(a, b string) int {
	na, okA := idNumber(a)
	nb, okB := idNumber(b)
	if okA && okB && na != nb {
		if na < nb {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func idNumber(id string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "t-"))
	return n, err == nil
}
