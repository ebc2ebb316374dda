package gates_test

import (
	"testing"
	"time"

	"gateline/internal/domain"
	"gateline/internal/gates"
)

func fixedNow(t *testing.T) {
	t.Helper()
	old := gates.Now
	gates.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { gates.Now = old })
}

func TestTemplateCounts(t *testing.T) {
	cases := map[domain.ProjectType]int{
		domain.ProjectSoftware:       6,
		domain.ProjectPhysical:       4,
		domain.ProjectDocumentation:  3,
		domain.ProjectInfrastructure: 3,
	}
	for pt, want := range cases {
		if got := len(gates.TemplateFor(pt)); got != want {
			t.Errorf("%s: got %d gates, want %d", pt, got, want)
		}
	}
}

func TestTemplateUnknownTypeFallsBackToSoftware(t *testing.T) {
	got := gates.TemplateFor(domain.ProjectType("garden"))
	want := gates.TemplateFor(domain.ProjectSoftware)
	if len(got) != len(want) {
		t.Fatalf("got %d gates, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("gate %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestTemplateReturnsCopy(t *testing.T) {
	a := gates.TemplateFor(domain.ProjectSoftware)
	a[0] = "MUTATED"
	b := gates.TemplateFor(domain.ProjectSoftware)
	if b[0] == "MUTATED" {
		t.Fatal("TemplateFor exposed shared backing array")
	}
}

func TestIDForKebabCase(t *testing.T) {
	if got := gates.IDFor("SPEC_APPROVED"); got != "spec-approved" {
		t.Fatalf("got %q", got)
	}
	if got := gates.IDFor("IMPLEMENTATION_COMPLETE"); got != "implementation-complete" {
		t.Fatalf("got %q", got)
	}
}

func TestCreateForProjectIDsUnique(t *testing.T) {
	for _, pt := range []domain.ProjectType{
		domain.ProjectSoftware, domain.ProjectPhysical,
		domain.ProjectDocumentation, domain.ProjectInfrastructure,
	} {
		gs := gates.CreateForProject(pt)
		seen := map[string]bool{}
		for _, g := range gs {
			if seen[g.ID] {
				t.Errorf("%s: duplicate gate id %s", pt, g.ID)
			}
			seen[g.ID] = true
			if g.Status != domain.GatePending {
				t.Errorf("%s: gate %s created with status %s", pt, g.ID, g.Status)
			}
			if g.Description == "" {
				t.Errorf("%s: gate %s has no description", pt, g.ID)
			}
		}
	}
}

func TestDescriptionForUnmappedReturnsName(t *testing.T) {
	if got := gates.DescriptionFor("CUSTOM_GATE"); got != "CUSTOM_GATE" {
		t.Fatalf("got %q", got)
	}
}

func TestApproveDoesNotMutateInput(t *testing.T) {
	fixedNow(t)
	g := domain.Gate{ID: "spec-approved", Name: gates.SpecApproved, Status: domain.GatePending}
	out := gates.Approve(g, "alice")
	if g.Status != domain.GatePending {
		t.Fatal("input gate mutated")
	}
	if out.Status != domain.GateApproved || out.Approver != "alice" {
		t.Fatalf("unexpected result: %+v", out)
	}
	if out.ApprovedAt != "2024-01-01T00:00:00Z" {
		t.Fatalf("approved_at = %q", out.ApprovedAt)
	}
	if out.Comments != "" {
		t.Fatalf("comments should be empty, got %q", out.Comments)
	}
}

func TestApproveTwiceRestamps(t *testing.T) {
	old := gates.Now
	t.Cleanup(func() { gates.Now = old })

	gates.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	g := gates.Approve(domain.Gate{ID: "g"}, "alice", "first pass")

	gates.Now = func() time.Time { return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) }
	g = gates.Approve(g, "bob")
	if g.Approver != "bob" {
		t.Fatalf("approver = %q", g.Approver)
	}
	if g.ApprovedAt != "2024-02-01T00:00:00Z" {
		t.Fatalf("approved_at = %q", g.ApprovedAt)
	}
	if g.Comments != "first pass" {
		t.Fatalf("comments should survive re-approval, got %q", g.Comments)
	}
}

func TestRejectSetsCommentsAndStamp(t *testing.T) {
	fixedNow(t)
	out := gates.Reject(domain.Gate{ID: "g", Status: domain.GatePending}, "carol", "needs rework")
	if out.Status != domain.GateRejected {
		t.Fatalf("status = %s", out.Status)
	}
	if out.RejectedAt != "2024-01-01T00:00:00Z" || out.Comments != "needs rework" {
		t.Fatalf("unexpected result: %+v", out)
	}
	if out.ApprovedAt != "" {
		t.Fatal("approved_at should stay empty on reject")
	}
}

func TestAllApproved(t *testing.T) {
	approved := domain.Gate{Status: domain.GateApproved}
	pending := domain.Gate{Status: domain.GatePending}
	rejected := domain.Gate{Status: domain.GateRejected}

	if !gates.AllApproved(nil) {
		t.Fatal("empty set should count as all approved")
	}
	if !gates.AllApproved([]domain.Gate{approved, approved}) {
		t.Fatal("all approved set reported false")
	}
	if gates.AllApproved([]domain.Gate{approved, pending}) {
		t.Fatal("pending gate should break all-approved")
	}
	if gates.AllApproved([]domain.Gate{approved, rejected}) {
		t.Fatal("rejected gate should break all-approved")
	}
}

func TestNextPendingFollowsTemplateOrder(t *testing.T) {
	gs := gates.CreateForProject(domain.ProjectSoftware)
	g, ok := gates.NextPending(gs)
	if !ok || g.Name != gates.SpecApproved {
		t.Fatalf("first pending = %v (%v)", g.Name, ok)
	}

	// Approving out of order moves the cursor past approved gates only.
	gs[0].Status = domain.GateApproved
	gs[2].Status = domain.GateApproved
	g, ok = gates.NextPending(gs)
	if !ok || g.Name != gates.DesignApproved {
		t.Fatalf("next pending = %v (%v)", g.Name, ok)
	}

	for i := range gs {
		gs[i].Status = domain.GateApproved
	}
	if _, ok := gates.NextPending(gs); ok {
		t.Fatal("expected no pending gates")
	}
}

func approveByName(gs []domain.Gate, name string) {
	for i := range gs {
		if gs[i].Name == name {
			gs[i].Status = domain.GateApproved
		}
	}
}

func TestCurrentPhaseDerivation(t *testing.T) {
	gs := gates.CreateForProject(domain.ProjectSoftware)
	if got := gates.CurrentPhase(gs); got != domain.PhaseSpec {
		t.Fatalf("fresh project phase = %s", got)
	}

	approveByName(gs, gates.SpecApproved)
	if got := gates.CurrentPhase(gs); got != domain.PhaseDesign {
		t.Fatalf("after spec approval phase = %s", got)
	}

	approveByName(gs, gates.DesignApproved)
	if got := gates.CurrentPhase(gs); got != domain.PhaseBuild {
		t.Fatalf("after design approval phase = %s", got)
	}

	for _, name := range gates.TemplateFor(domain.ProjectSoftware) {
		approveByName(gs, name)
	}
	if got := gates.CurrentPhase(gs); got != domain.PhaseComplete {
		t.Fatalf("all approved phase = %s", got)
	}
}

func TestCurrentPhaseDesignApprovedAloneSkipsDesign(t *testing.T) {
	// DESIGN_APPROVED without SPEC_APPROVED still lands in BUILD.
	gs := gates.CreateForProject(domain.ProjectSoftware)
	approveByName(gs, gates.DesignApproved)
	if got := gates.CurrentPhase(gs); got != domain.PhaseBuild {
		t.Fatalf("phase = %s, want BUILD", got)
	}
}

func TestCurrentPhaseOutlineApprovedMapsToBuild(t *testing.T) {
	gs := gates.CreateForProject(domain.ProjectDocumentation)
	approveByName(gs, gates.OutlineApproved)
	if got := gates.CurrentPhase(gs); got != domain.PhaseBuild {
		t.Fatalf("phase = %s, want BUILD", got)
	}
}

func TestCurrentPhaseNeverVerify(t *testing.T) {
	// Exhaustively flip every gate combination for each template and confirm
	// VERIFY never comes out.
	for _, pt := range []domain.ProjectType{
		domain.ProjectSoftware, domain.ProjectPhysical,
		domain.ProjectDocumentation, domain.ProjectInfrastructure,
	} {
		gs := gates.CreateForProject(pt)
		n := len(gs)
		for mask := 0; mask < (1 << n); mask++ {
			for i := range gs {
				if mask&(1<<i) != 0 {
					gs[i].Status = domain.GateApproved
				} else {
					gs[i].Status = domain.GatePending
				}
			}
			if got := gates.CurrentPhase(gs); got == domain.PhaseVerify {
				t.Fatalf("%s mask %b produced VERIFY", pt, mask)
			}
		}
	}
}

func TestCurrentPhaseRejectedGateBlocksComplete(t *testing.T) {
	gs := gates.CreateForProject(domain.ProjectInfrastructure)
	for i := range gs {
		gs[i].Status = domain.GateApproved
	}
	gs[len(gs)-1].Status = domain.GateRejected
	if got := gates.CurrentPhase(gs); got == domain.PhaseComplete {
		t.Fatal("rejected gate should prevent COMPLETE")
	}
}
