package server

import (
	"gateline/internal/domain"
	"gateline/internal/repo"
)

// Request payloads

type CreateProjectRequest struct {
	ID          *string `json:"id,omitempty"`
	Name        string  `json:"name"`
	Type        string  `json:"type,omitempty" enum:"software,physical,documentation,infrastructure"`
	Owner       string  `json:"owner"`
	Description *string `json:"description,omitempty"`
	Repository  *string `json:"repository,omitempty"`
}

type GateDecisionRequest struct {
	Comments *string `json:"comments,omitempty"`
}

type AssigneeRequest struct {
	Kind string `json:"kind" enum:"human,agent"`
	Name string `json:"name"`
}

type CreateTaskRequest struct {
	Title           string           `json:"title"`
	Type            string           `json:"type,omitempty" enum:"implementation,test,documentation,review,design,procurement,approval,research"`
	SuccessCriteria string           `json:"success_criteria"`
	ParentID        *string          `json:"parent_id,omitempty"`
	BlockedBy       []string         `json:"blocked_by,omitempty"`
	Assignee        *AssigneeRequest `json:"assignee,omitempty"`
}

type UpdateTaskRequest struct {
	Status       *string          `json:"status,omitempty" enum:"backlog,ready,in_progress,blocked,done"`
	Assignee     *AssigneeRequest `json:"assignee,omitempty"`
	AddBlockedBy []string         `json:"add_blocked_by,omitempty"`
}

type SetBudgetRequest struct {
	Kind      string  `json:"kind" enum:"physical,software"`
	Allocated float64 `json:"allocated"`
}

type AddBudgetItemRequest struct {
	Name        string  `json:"name"`
	Category    string  `json:"category,omitempty"`
	PlannedCost float64 `json:"planned_cost"`
	Quantity    int     `json:"quantity,omitempty"`
}

type AddLicenseRequest struct {
	Name        string  `json:"name"`
	MonthlyCost float64 `json:"monthly_cost"`
}

type UpdateBudgetItemRequest struct {
	Status     *string  `json:"status,omitempty"`
	ActualCost *float64 `json:"actual_cost,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID        string                 `json:"id"`
	Identity  domain.ProjectIdentity `json:"identity"`
	Phase     domain.Phase           `json:"phase" enum:"SPEC,DESIGN,BUILD,VERIFY,COMPLETE"`
	GateCount int                    `json:"gate_count"`
}

type GateDecisionResponse struct {
	Gate  domain.Gate  `json:"gate"`
	Phase domain.Phase `json:"phase" enum:"SPEC,DESIGN,BUILD,VERIFY,COMPLETE"`
}

type BudgetResponse struct {
	Budget domain.Budget `json:"budget"`
	Report any           `json:"report"`
}

func projectResponse(id string, ident domain.ProjectIdentity, phase domain.Phase, gateCount int) ProjectResponse {
	return ProjectResponse{ID: id, Identity: ident, Phase: phase, GateCount: gateCount}
}

func mapProjects(items []repo.ProjectRow) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, ProjectResponse{ID: p.ID, Identity: p.Identity, Phase: p.Phase})
	}
	return out
}

func (r *AssigneeRequest) toDomain() *domain.Assignee {
	if r == nil {
		return nil
	}
	return &domain.Assignee{Kind: domain.AssigneeKind(r.Kind), Name: r.Name}
}
