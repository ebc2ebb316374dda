// Package tasks implements the dependency-aware task graph: creation, status
// transitions, blocking/readiness, progress, and priority ordering. All
// functions are pure; callers own persistence.
package tasks

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"gateline/internal/domain"
)

// Now and NewID are injectable so tests can supply deterministic stamps/ids.
var (
	Now = time.Now

	NewID = func() string {
		return fmt.Sprintf("task-%d-%s", Now().UnixMilli(), uuid.NewString()[:8])
	}
)

// CreateOptions are the caller-supplied fields for a new task. Title, Type and
// SuccessCriteria are required by contract; ParentID, BlockedBy and Assignee
// pass through unchanged.
type CreateOptions struct {
	Title           string
	Type            domain.TaskType
	SuccessCriteria string
	ParentID        *string
	BlockedBy       []string
	Assignee        *domain.Assignee
}

// Create builds a task in backlog with a generated id and fresh timestamps.
func Create(opts CreateOptions) domain.Task {
	now := Now().UTC().Format(time.RFC3339)
	return domain.Task{
		ID:              NewID(),
		Title:           opts.Title,
		Type:            opts.Type,
		Status:          domain.TaskBacklog,
		SuccessCriteria: opts.SuccessCriteria,
		ParentID:        opts.ParentID,
		BlockedBy:       opts.BlockedBy,
		Assignee:        opts.Assignee,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// UpdateStatus returns a copy with the new status and a bumped UpdatedAt.
// Moving to done stamps CompletedAt; moving away from done leaves a previously
// set CompletedAt untouched.
func UpdateStatus(t domain.Task, status domain.TaskStatus) domain.Task {
	now := Now().UTC().Format(time.RFC3339)
	t.Status = status
	t.UpdatedAt = now
	if status == domain.TaskDone {
		t.CompletedAt = &now
	}
	return t
}

// IsBlocked reports whether any BlockedBy id resolves to a task in the working
// set that is not done. Dangling ids do not block.
func IsBlocked(t domain.Task, all []domain.Task) bool {
	if len(t.BlockedBy) == 0 {
		return false
	}
	byID := make(map[string]domain.TaskStatus, len(all))
	for _, other := range all {
		byID[other.ID] = other.Status
	}
	for _, dep := range t.BlockedBy {
		if status, ok := byID[dep]; ok && status != domain.TaskDone {
			return true
		}
	}
	return false
}

// Ready filters to workable tasks: not done, not explicitly blocked (status is
// authoritative over the dependency check), and not computed-blocked.
func Ready(ts []domain.Task) []domain.Task {
	var out []domain.Task
	for _, t := range ts {
		if t.Status == domain.TaskDone || t.Status == domain.TaskBlocked {
			continue
		}
		if IsBlocked(t, ts) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Progress is the percentage of done tasks, rounded; 0 for an empty list.
func Progress(ts []domain.Task) int {
	if len(ts) == 0 {
		return 0
	}
	done := 0
	for _, t := range ts {
		if t.Status == domain.TaskDone {
			done++
		}
	}
	return int(math.Round(100 * float64(done) / float64(len(ts))))
}

var statusRank = map[domain.TaskStatus]int{
	domain.TaskInProgress: 0,
	domain.TaskReady:      1,
	domain.TaskBacklog:    2,
	domain.TaskBlocked:    3,
	domain.TaskDone:       4,
}

// SortByPriority orders tasks by status rank (in_progress first, done last).
// The sort is stable: equal-rank tasks keep their input order.
func SortByPriority(ts []domain.Task) []domain.Task {
	out := make([]domain.Task, len(ts))
	copy(out, ts)
	sort.SliceStable(out, func(i, j int) bool {
		return statusRank[out[i].Status] < statusRank[out[j].Status]
	})
	return out
}
