package tasks_test

import (
	"fmt"
	"testing"
	"time"

	"gateline/internal/domain"
	"gateline/internal/tasks"
)

func fixedClock(t *testing.T, ts time.Time) {
	t.Helper()
	oldNow, oldID := tasks.Now, tasks.NewID
	n := 0
	tasks.Now = func() time.Time { return ts }
	tasks.NewID = func() string {
		n++
		return fmt.Sprintf("task-%d", n)
	}
	t.Cleanup(func() { tasks.Now, tasks.NewID = oldNow, oldID })
}

func TestCreateDefaults(t *testing.T) {
	fixedClock(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	got := tasks.Create(tasks.CreateOptions{
		Title:           "Wire the frame",
		Type:            domain.TaskImplementation,
		SuccessCriteria: "frame holds weight",
	})
	if got.ID != "task-1" {
		t.Fatalf("id = %q", got.ID)
	}
	if got.Status != domain.TaskBacklog {
		t.Fatalf("status = %s", got.Status)
	}
	if got.CreatedAt != "2024-01-01T00:00:00Z" || got.UpdatedAt != got.CreatedAt {
		t.Fatalf("timestamps = %q / %q", got.CreatedAt, got.UpdatedAt)
	}
	if got.CompletedAt != nil {
		t.Fatal("completed_at should start nil")
	}
}

func TestUpdateStatusStampsCompletedAt(t *testing.T) {
	fixedClock(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	task := tasks.Create(tasks.CreateOptions{Title: "t", Type: domain.TaskTest, SuccessCriteria: "c"})

	done := tasks.UpdateStatus(task, domain.TaskDone)
	if done.CompletedAt == nil || *done.CompletedAt != "2024-03-01T12:00:00Z" {
		t.Fatalf("completed_at = %v", done.CompletedAt)
	}
	if task.CompletedAt != nil {
		t.Fatal("input task mutated")
	}
}

func TestUpdateStatusRegressionKeepsCompletedAt(t *testing.T) {
	fixedClock(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	task := tasks.Create(tasks.CreateOptions{Title: "t", Type: domain.TaskTest, SuccessCriteria: "c"})
	done := tasks.UpdateStatus(task, domain.TaskDone)

	// Moving back to in_progress leaves the stale completion stamp in place.
	reopened := tasks.UpdateStatus(done, domain.TaskInProgress)
	if reopened.Status != domain.TaskInProgress {
		t.Fatalf("status = %s", reopened.Status)
	}
	if reopened.CompletedAt == nil || *reopened.CompletedAt != *done.CompletedAt {
		t.Fatalf("completed_at changed on regression: %v", reopened.CompletedAt)
	}
}

func mkTask(id string, status domain.TaskStatus, blockedBy ...string) domain.Task {
	return domain.Task{ID: id, Title: id, Status: status, BlockedBy: blockedBy}
}

func TestIsBlocked(t *testing.T) {
	dep := mkTask("dep", domain.TaskInProgress)
	doneDep := mkTask("done-dep", domain.TaskDone)
	all := []domain.Task{dep, doneDep}

	if tasks.IsBlocked(mkTask("a", domain.TaskBacklog), all) {
		t.Fatal("no deps should not block")
	}
	if !tasks.IsBlocked(mkTask("b", domain.TaskBacklog, "dep"), all) {
		t.Fatal("unfinished dep should block")
	}
	if tasks.IsBlocked(mkTask("c", domain.TaskBacklog, "done-dep"), all) {
		t.Fatal("done dep should not block")
	}
	if tasks.IsBlocked(mkTask("d", domain.TaskBacklog, "ghost"), all) {
		t.Fatal("dangling dep id should not block")
	}
	if !tasks.IsBlocked(mkTask("e", domain.TaskBacklog, "ghost", "dep"), all) {
		t.Fatal("mix of dangling and live deps should block")
	}
}

func TestReadyExclusions(t *testing.T) {
	dep := mkTask("dep", domain.TaskInProgress)
	all := []domain.Task{
		dep,
		mkTask("workable", domain.TaskBacklog),
		mkTask("finished", domain.TaskDone),
		mkTask("stuck", domain.TaskBlocked),
		mkTask("waiting", domain.TaskReady, "dep"),
		mkTask("dangling", domain.TaskReady, "ghost"),
	}
	ready := tasks.Ready(all)
	got := map[string]bool{}
	for _, r := range ready {
		got[r.ID] = true
	}
	for _, want := range []string{"dep", "workable", "dangling"} {
		if !got[want] {
			t.Errorf("%s missing from ready set", want)
		}
	}
	for _, not := range []string{"finished", "stuck", "waiting"} {
		if got[not] {
			t.Errorf("%s should not be ready", not)
		}
	}
}

func TestReadyStatusBlockedIsAuthoritative(t *testing.T) {
	// A task marked blocked stays excluded even when its deps are all done.
	done := mkTask("dep", domain.TaskDone)
	stuck := mkTask("stuck", domain.TaskBlocked, "dep")
	ready := tasks.Ready([]domain.Task{done, stuck})
	for _, r := range ready {
		if r.ID == "stuck" {
			t.Fatal("status-blocked task appeared in ready set")
		}
	}
}

func TestProgress(t *testing.T) {
	if got := tasks.Progress(nil); got != 0 {
		t.Fatalf("empty progress = %d", got)
	}
	ts := []domain.Task{
		mkTask("a", domain.TaskDone),
		mkTask("b", domain.TaskDone),
		mkTask("c", domain.TaskBacklog),
	}
	if got := tasks.Progress(ts); got != 67 {
		t.Fatalf("2/3 progress = %d, want 67", got)
	}
	ts[2].Status = domain.TaskDone
	if got := tasks.Progress(ts); got != 100 {
		t.Fatalf("all done progress = %d", got)
	}
}

func TestSortByPriorityStable(t *testing.T) {
	in := []domain.Task{
		mkTask("done-1", domain.TaskDone),
		mkTask("backlog-1", domain.TaskBacklog),
		mkTask("active-1", domain.TaskInProgress),
		mkTask("backlog-2", domain.TaskBacklog),
		mkTask("ready-1", domain.TaskReady),
		mkTask("blocked-1", domain.TaskBlocked),
		mkTask("active-2", domain.TaskInProgress),
	}
	out := tasks.SortByPriority(in)
	want := []string{"active-1", "active-2", "ready-1", "backlog-1", "backlog-2", "blocked-1", "done-1"}
	if len(out) != len(want) {
		t.Fatalf("got %d tasks", len(out))
	}
	for i, id := range want {
		if out[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, out[i].ID, id)
		}
	}
	if in[0].ID != "done-1" {
		t.Fatal("input slice reordered")
	}
}
