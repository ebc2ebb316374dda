// Package project is the aggregate layer: it owns identity plus gates, tasks
// and budget, recomputes the phase on demand, and produces the persistence
// snapshot. It never mutates gate, task or budget contents itself.
package project

import (
	"time"

	"gateline/internal/domain"
	"gateline/internal/gates"
)

var Now = time.Now

// New constructs the initial state for a project: phase SPEC and a freshly
// instantiated gate template for the type. Tasks and budget start unset.
func New(name string, pt domain.ProjectType, owner, description string) domain.ProjectState {
	now := Now().UTC().Format(time.RFC3339)
	return domain.ProjectState{
		Identity: domain.ProjectIdentity{
			Name:        name,
			Type:        pt,
			Owner:       owner,
			Description: description,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Phase: domain.PhaseSpec,
		Gates: gates.CreateForProject(pt),
	}
}

// UpdatePhase returns a copy with the phase rederived from the gates and the
// identity's UpdatedAt bumped. Gates, tasks and budget are left untouched.
func UpdatePhase(s domain.ProjectState) domain.ProjectState {
	s.Phase = gates.CurrentPhase(s.Gates)
	s.Identity.UpdatedAt = Now().UTC().Format(time.RFC3339)
	return s
}

// SnapshotVersion is the schema version written into serialized snapshots.
const SnapshotVersion = "1.0"

// GateSnapshot is the persisted gate shape: description and rejection stamp
// are dropped from the snapshot.
type GateSnapshot struct {
	ID         string            `json:"id" yaml:"id"`
	Name       string            `json:"name" yaml:"name"`
	Status     domain.GateStatus `json:"status" yaml:"status"`
	Approver   string            `json:"approver,omitempty" yaml:"approver,omitempty"`
	ApprovedAt string            `json:"approved_at,omitempty" yaml:"approved_at,omitempty"`
	Comments   string            `json:"comments,omitempty" yaml:"comments,omitempty"`
}

// TaskSummary is the lossy task view carried by the snapshot. Full task detail
// is persisted through a separate channel.
type TaskSummary struct {
	ProjectID string `json:"project_id" yaml:"project_id"`
	Progress  int    `json:"progress" yaml:"progress"`
	TaskCount int    `json:"task_count" yaml:"task_count"`
}

// Snapshot is the persisted project-state document.
type Snapshot struct {
	Version  string                 `json:"version" yaml:"version"`
	Identity domain.ProjectIdentity `json:"identity" yaml:"identity"`
	Phase    domain.Phase           `json:"phase" yaml:"phase"`
	Gates    []GateSnapshot         `json:"gates" yaml:"gates"`
	Budget   *domain.Budget         `json:"budget,omitempty" yaml:"budget,omitempty"`
	Tasks    *TaskSummary           `json:"tasks,omitempty" yaml:"tasks,omitempty"`
}

// Serialize produces the lossy persistence snapshot: identity, phase, gates
// and budget verbatim; tasks reduced to a progress summary.
func Serialize(s domain.ProjectState) Snapshot {
	snap := Snapshot{
		Version:  SnapshotVersion,
		Identity: s.Identity,
		Phase:    s.Phase,
		Budget:   s.Budget,
	}
	snap.Gates = make([]GateSnapshot, 0, len(s.Gates))
	for _, g := range s.Gates {
		snap.Gates = append(snap.Gates, GateSnapshot{
			ID:         g.ID,
			Name:       g.Name,
			Status:     g.Status,
			Approver:   g.Approver,
			ApprovedAt: g.ApprovedAt,
			Comments:   g.Comments,
		})
	}
	if s.Tasks != nil {
		snap.Tasks = &TaskSummary{
			ProjectID: s.Tasks.ProjectID,
			Progress:  s.Tasks.Progress,
			TaskCount: len(s.Tasks.Tasks),
		}
	}
	return snap
}
