package domain

// ProjectType selects the gate vocabulary a project is created with.
type ProjectType string

const (
	ProjectSoftware       ProjectType = "software"
	ProjectPhysical       ProjectType = "physical"
	ProjectDocumentation  ProjectType = "documentation"
	ProjectInfrastructure ProjectType = "infrastructure"
)

// Phase is the overall lifecycle stage derived from approved gates.
// VERIFY is a valid value but no gate configuration currently produces it.
type Phase string

const (
	PhaseSpec     Phase = "SPEC"
	PhaseDesign   Phase = "DESIGN"
	PhaseBuild    Phase = "BUILD"
	PhaseVerify   Phase = "VERIFY"
	PhaseComplete Phase = "COMPLETE"
)

type GateStatus string

const (
	GatePending  GateStatus = "pending"
	GateApproved GateStatus = "approved"
	GateRejected GateStatus = "rejected"
)

// Gate is a named approval checkpoint. Gates are value objects owned by the
// ProjectState that contains them; lifecycle functions return copies.
type Gate struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Status      GateStatus `json:"status" yaml:"status" enum:"pending,approved,rejected"`
	Approver    string     `json:"approver,omitempty" yaml:"approver,omitempty"`
	ApprovedAt  string     `json:"approved_at,omitempty" yaml:"approved_at,omitempty" format:"date-time"`
	RejectedAt  string     `json:"rejected_at,omitempty" yaml:"rejected_at,omitempty" format:"date-time"`
	Comments    string     `json:"comments,omitempty" yaml:"comments,omitempty"`
}

type TaskType string

const (
	TaskImplementation TaskType = "implementation"
	TaskTest           TaskType = "test"
	TaskDocumentation  TaskType = "documentation"
	TaskReview         TaskType = "review"
	TaskDesign         TaskType = "design"
	TaskProcurement    TaskType = "procurement"
	TaskApproval       TaskType = "approval"
	TaskResearch       TaskType = "research"
)

type TaskStatus string

const (
	TaskBacklog    TaskStatus = "backlog"
	TaskReady      TaskStatus = "ready"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskDone       TaskStatus = "done"
)

type AssigneeKind string

const (
	AssigneeHuman AssigneeKind = "human"
	AssigneeAgent AssigneeKind = "agent"
)

type Assignee struct {
	Kind AssigneeKind `json:"kind" yaml:"kind" enum:"human,agent"`
	Name string       `json:"name" yaml:"name"`
}

// Task is a unit of work. BlockedBy holds weak references by id: an id that
// resolves to no task in the working set is ignored, never an error.
type Task struct {
	ID              string     `json:"id" yaml:"id"`
	Title           string     `json:"title" yaml:"title"`
	Type            TaskType   `json:"type" yaml:"type"`
	Status          TaskStatus `json:"status" yaml:"status" enum:"backlog,ready,in_progress,blocked,done"`
	SuccessCriteria string     `json:"success_criteria" yaml:"success_criteria"`
	ParentID        *string    `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	BlockedBy       []string   `json:"blocked_by,omitempty" yaml:"blocked_by,omitempty"`
	Assignee        *Assignee  `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	CreatedAt       string     `json:"created_at" yaml:"created_at" format:"date-time"`
	UpdatedAt       string     `json:"updated_at" yaml:"updated_at" format:"date-time"`
	CompletedAt     *string    `json:"completed_at,omitempty" yaml:"completed_at,omitempty" format:"date-time"`
}

// TaskList is a project's tasks in insertion order plus derived progress.
type TaskList struct {
	ProjectID string `json:"project_id" yaml:"project_id"`
	Tasks     []Task `json:"tasks" yaml:"tasks"`
	Progress  int    `json:"progress" yaml:"progress"`
}

type ProjectIdentity struct {
	Name        string      `json:"name" yaml:"name"`
	Type        ProjectType `json:"type" yaml:"type" enum:"software,physical,documentation,infrastructure"`
	Owner       string      `json:"owner" yaml:"owner"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Repository  string      `json:"repository,omitempty" yaml:"repository,omitempty"`
	CreatedAt   string      `json:"created_at" yaml:"created_at" format:"date-time"`
	UpdatedAt   string      `json:"updated_at" yaml:"updated_at" format:"date-time"`
}

// ProjectState is the aggregate root for one project. Gates, tasks and budget
// are mutated by their own packages and reassigned by the caller; the
// aggregator itself only recomputes the phase.
type ProjectState struct {
	Identity ProjectIdentity `json:"identity" yaml:"identity"`
	Phase    Phase           `json:"phase" yaml:"phase"`
	Gates    []Gate          `json:"gates" yaml:"gates"`
	Tasks    *TaskList       `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	Budget   *Budget         `json:"budget,omitempty" yaml:"budget,omitempty"`
}
