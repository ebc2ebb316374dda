// Package gates holds the per-project-type gate templates and the pure gate
// lifecycle: every function returns a new value and never mutates its input.
package gates

import (
	"strings"
	"time"

	"gateline/internal/domain"
)

// Now stamps approval/rejection times; tests override it for determinism.
var Now = time.Now

// Gate name vocabulary. The template lists and the description table below are
// maintained separately; a name present in one but not the other is a silent
// gap, not an error.
const (
	SpecApproved           = "SPEC_APPROVED"
	DesignApproved         = "DESIGN_APPROVED"
	ImplementationComplete = "IMPLEMENTATION_COMPLETE"
	TestsPassed            = "TESTS_PASSED"
	DocsComplete           = "DOCS_COMPLETE"
	ReleaseApproved        = "RELEASE_APPROVED"
	MaterialsAcquired      = "MATERIALS_ACQUIRED"
	BuildComplete          = "BUILD_COMPLETE"
	FinalInspection        = "FINAL_INSPECTION"
	OutlineApproved        = "OUTLINE_APPROVED"
	DraftComplete          = "DRAFT_COMPLETE"
	FinalReview            = "FINAL_REVIEW"
	Provisioned            = "PROVISIONED"
	Validated              = "VALIDATED"
)

// Configs maps each project type to its ordered gate template.
var Configs = map[domain.ProjectType][]string{
	domain.ProjectSoftware: {
		SpecApproved,
		DesignApproved,
		ImplementationComplete,
		TestsPassed,
		DocsComplete,
		ReleaseApproved,
	},
	domain.ProjectPhysical: {
		DesignApproved,
		MaterialsAcquired,
		BuildComplete,
		FinalInspection,
	},
	domain.ProjectDocumentation: {
		OutlineApproved,
		DraftComplete,
		FinalReview,
	},
	domain.ProjectInfrastructure: {
		DesignApproved,
		Provisioned,
		Validated,
	},
}

var descriptions = map[string]string{
	SpecApproved:           "Specification reviewed and approved by the owner",
	DesignApproved:         "Design reviewed and approved",
	ImplementationComplete: "All implementation tasks finished",
	TestsPassed:            "Test suite passing on the release candidate",
	DocsComplete:           "User and operator documentation written",
	ReleaseApproved:        "Owner signed off on the release",
	MaterialsAcquired:      "All materials and parts on hand",
	BuildComplete:          "Physical build finished",
	FinalInspection:        "Build inspected against the design",
	OutlineApproved:        "Document outline approved",
	DraftComplete:          "Full draft written",
	FinalReview:            "Final editorial review complete",
	Provisioned:            "Infrastructure provisioned and reachable",
	Validated:              "Infrastructure validated against requirements",
}

// TemplateFor returns the ordered gate names for a project type. An
// unrecognized type falls back to the software template.
func TemplateFor(pt domain.ProjectType) []string {
	names, ok := Configs[pt]
	if !ok {
		names = Configs[domain.ProjectSoftware]
	}
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// DescriptionFor returns the human description for a gate name, falling back
// to the raw name when unmapped.
func DescriptionFor(name string) string {
	if d, ok := descriptions[name]; ok {
		return d
	}
	return name
}

// IDFor derives a gate id from its name: lower-cased, underscores to hyphens.
func IDFor(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}

// CreateForProject instantiates the pending gate set for a project type.
// Deterministic: no ids beyond the kebab-cased names, no timestamps.
func CreateForProject(pt domain.ProjectType) []domain.Gate {
	names := TemplateFor(pt)
	out := make([]domain.Gate, 0, len(names))
	for _, name := range names {
		out = append(out, domain.Gate{
			ID:          IDFor(name),
			Name:        name,
			Description: DescriptionFor(name),
			Status:      domain.GatePending,
		})
	}
	return out
}

// Approve returns a copy of the gate with status approved. It is not guarded
// to pending gates; approving twice simply re-stamps approver and timestamp.
// Comments are carried through when supplied.
func Approve(g domain.Gate, approver string, comments ...string) domain.Gate {
	g.Status = domain.GateApproved
	g.Approver = approver
	g.ApprovedAt = Now().UTC().Format(time.RFC3339)
	if len(comments) > 0 {
		g.Comments = comments[0]
	}
	return g
}

// Reject returns a copy of the gate with status rejected. Unlike Approve,
// comments are required here.
func Reject(g domain.Gate, approver, comments string) domain.Gate {
	g.Status = domain.GateRejected
	g.Approver = approver
	g.RejectedAt = Now().UTC().Format(time.RFC3339)
	g.Comments = comments
	return g
}

// AllApproved reports whether every gate is approved; a single pending or
// rejected gate makes it false.
func AllApproved(gs []domain.Gate) bool {
	for _, g := range gs {
		if g.Status != domain.GateApproved {
			return false
		}
	}
	return true
}

// NextPending returns the first pending gate in list order, which is template
// order. It is a cursor, not a gatekeeper: gates may be approved out of turn.
func NextPending(gs []domain.Gate) (domain.Gate, bool) {
	for _, g := range gs {
		if g.Status == domain.GatePending {
			return g, true
		}
	}
	return domain.Gate{}, false
}

// CurrentPhase derives the project phase from the approved gate names,
// evaluated in fixed priority order. PhaseVerify is never produced; project
// types without a SPEC_APPROVED gate skip PhaseDesign entirely.
func CurrentPhase(gs []domain.Gate) domain.Phase {
	if AllApproved(gs) {
		return domain.PhaseComplete
	}
	approved := map[string]bool{}
	for _, g := range gs {
		if g.Status == domain.GateApproved {
			approved[g.Name] = true
		}
	}
	switch {
	case approved[DesignApproved] || approved[OutlineApproved]:
		return domain.PhaseBuild
	case approved[SpecApproved]:
		return domain.PhaseDesign
	default:
		return domain.PhaseSpec
	}
}
