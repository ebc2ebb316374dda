package project_test

import (
	"testing"
	"time"

	"gateline/internal/domain"
	"gateline/internal/gates"
	"gateline/internal/project"
)

func fixedNow(t *testing.T, ts time.Time) {
	t.Helper()
	old := project.Now
	project.Now = func() time.Time { return ts }
	t.Cleanup(func() { project.Now = old })
}

func TestNewProject(t *testing.T) {
	fixedNow(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := project.New("Treehouse", domain.ProjectPhysical, "sam", "backyard build")
	if s.Phase != domain.PhaseSpec {
		t.Fatalf("phase = %s", s.Phase)
	}
	if len(s.Gates) != 4 {
		t.Fatalf("gates = %d", len(s.Gates))
	}
	if s.Identity.CreatedAt != "2024-01-01T00:00:00Z" || s.Identity.UpdatedAt != s.Identity.CreatedAt {
		t.Fatalf("timestamps = %q / %q", s.Identity.CreatedAt, s.Identity.UpdatedAt)
	}
	if s.Tasks != nil || s.Budget != nil {
		t.Fatal("tasks and budget should start unset")
	}
}

func TestUpdatePhaseRederivesAndBumpsUpdatedAt(t *testing.T) {
	fixedNow(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := project.New("Svc", domain.ProjectSoftware, "sam", "")

	for i := range s.Gates {
		if s.Gates[i].Name == gates.SpecApproved {
			s.Gates[i].Status = domain.GateApproved
		}
	}
	fixedNow(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	out := project.UpdatePhase(s)
	if out.Phase != domain.PhaseDesign {
		t.Fatalf("phase = %s", out.Phase)
	}
	if out.Identity.UpdatedAt != "2024-02-01T00:00:00Z" {
		t.Fatalf("updated_at = %q", out.Identity.UpdatedAt)
	}
	if out.Identity.CreatedAt != "2024-01-01T00:00:00Z" {
		t.Fatalf("created_at changed: %q", out.Identity.CreatedAt)
	}
}

func TestSerializeSnapshotShape(t *testing.T) {
	fixedNow(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := project.New("Svc", domain.ProjectSoftware, "sam", "")
	s.Gates[0].Status = domain.GateRejected
	s.Gates[0].RejectedAt = "2024-01-02T00:00:00Z"
	s.Gates[0].Comments = "incomplete"
	s.Tasks = &domain.TaskList{
		ProjectID: "svc",
		Tasks:     []domain.Task{{ID: "t1"}, {ID: "t2"}, {ID: "t3"}},
		Progress:  33,
	}

	snap := project.Serialize(s)
	if snap.Version != "1.0" {
		t.Fatalf("version = %q", snap.Version)
	}
	if len(snap.Gates) != len(s.Gates) {
		t.Fatalf("gates = %d", len(snap.Gates))
	}
	// Gate snapshots keep comments but drop descriptions and rejection stamps.
	g := snap.Gates[0]
	if g.Comments != "incomplete" {
		t.Fatalf("comments = %q", g.Comments)
	}
	if snap.Tasks == nil {
		t.Fatal("task summary missing")
	}
	if snap.Tasks.TaskCount != 3 || snap.Tasks.Progress != 33 || snap.Tasks.ProjectID != "svc" {
		t.Fatalf("task summary = %+v", snap.Tasks)
	}
}

func TestSerializeWithoutTasksOrBudget(t *testing.T) {
	fixedNow(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	snap := project.Serialize(project.New("Svc", domain.ProjectSoftware, "sam", ""))
	if snap.Tasks != nil || snap.Budget != nil {
		t.Fatal("unset tasks/budget should stay nil in snapshot")
	}
}
