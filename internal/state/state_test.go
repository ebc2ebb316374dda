package state_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"gateline/internal/domain"
	"gateline/internal/project"
	"gateline/internal/state"
)

func TestWriteReadRoundTrip(t *testing.T) {
	old := project.Now
	project.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { project.Now = old })

	dir := t.TempDir()
	s := project.New("Treehouse", domain.ProjectPhysical, "sam", "backyard build")
	s.Tasks = &domain.TaskList{ProjectID: "treehouse", Tasks: []domain.Task{{ID: "t1"}}, Progress: 0}
	snap := project.Serialize(s)

	if err := state.Write(dir, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := state.Read(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Version != "1.0" {
		t.Fatalf("version = %q", got.Version)
	}
	if got.Identity.Name != "Treehouse" || got.Phase != domain.PhaseSpec {
		t.Fatalf("identity/phase = %+v / %s", got.Identity, got.Phase)
	}
	if len(got.Gates) != 4 {
		t.Fatalf("gates = %d", len(got.Gates))
	}
	if got.Tasks == nil || got.Tasks.TaskCount != 1 {
		t.Fatalf("task summary = %+v", got.Tasks)
	}
}

func TestWriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	snap := project.Serialize(project.New("Svc", domain.ProjectSoftware, "sam", ""))
	if err := state.Write(dir, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
	if _, err := os.Stat(state.Path(dir)); err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
}

func TestReadRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(state.Path(dir), []byte("{not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := state.Read(dir); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}
