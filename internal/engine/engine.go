// Package engine orchestrates the domain packages over SQLite: every write is
// a single transaction that persists the change and appends to the event log.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gateline/internal/budget"
	"gateline/internal/config"
	"gateline/internal/domain"
	"gateline/internal/events"
	"gateline/internal/gates"
	"gateline/internal/project"
	"gateline/internal/repo"
	"gateline/internal/state"
	"gateline/internal/tasks"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// slugify turns a project name into a stable id.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// InitOptions are parameters for creating a project.
type InitOptions struct {
	ID          string
	Name        string
	Type        domain.ProjectType
	Owner       string
	Description string
	Repository  string
	ActorID     string
}

// InitProject creates a project with its gate template instantiated. Gate
// descriptions from the config override the built-in table per gate name.
func (e Engine) InitProject(ctx context.Context, opts InitOptions) (string, domain.ProjectState, error) {
	if opts.Name == "" {
		return "", domain.ProjectState{}, errors.New("name is required")
	}
	if opts.Owner == "" {
		return "", domain.ProjectState{}, errors.New("owner is required")
	}
	id := opts.ID
	if id == "" {
		id = slugify(opts.Name)
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := e.nowStamp()
	s := domain.ProjectState{
		Identity: domain.ProjectIdentity{
			Name:        opts.Name,
			Type:        opts.Type,
			Owner:       opts.Owner,
			Description: opts.Description,
			Repository:  opts.Repository,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Phase: domain.PhaseSpec,
		Gates: gates.CreateForProject(opts.Type),
	}
	if e.Config != nil {
		for i, g := range s.Gates {
			if d, ok := e.Config.Gates.Descriptions[g.Name]; ok {
				s.Gates[i].Description = d
			}
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.ProjectState{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertProject(ctx, tx, id, s); err != nil {
		return "", domain.ProjectState{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.init", id, "project", id, opts.ActorID, events.EventPayload{
		"name": opts.Name, "type": string(s.Identity.Type), "gates": len(s.Gates),
	}); err != nil {
		return "", domain.ProjectState{}, err
	}
	if err := tx.Commit(); err != nil {
		return "", domain.ProjectState{}, err
	}
	return id, s, nil
}

// ResolveProject returns the id of the workspace's only project when none is
// given.
func (e Engine) ResolveProject(ctx context.Context, projectID string) (string, error) {
	if projectID != "" {
		return projectID, nil
	}
	p, err := e.Repo.SingleProject(ctx)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

// DeleteProject removes a project and everything hanging off it. The event
// log keeps its history; a project.deleted entry marks the removal.
func (e Engine) DeleteProject(ctx context.Context, projectID, actorID string) error {
	ident, _, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteProject(ctx, tx, projectID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "project.deleted", projectID, "project", projectID, actorID, events.EventPayload{
		"name": ident.Name,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// GetState assembles the full aggregate for a project: identity, gates in
// template order, the task list with derived progress, and the budget when one
// has been set.
func (e Engine) GetState(ctx context.Context, projectID string) (domain.ProjectState, error) {
	ident, phase, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.ProjectState{}, err
	}
	gs, err := e.Repo.ListGates(ctx, projectID)
	if err != nil {
		return domain.ProjectState{}, err
	}
	ts, err := e.Repo.ListTasks(ctx, projectID)
	if err != nil {
		return domain.ProjectState{}, err
	}
	b, err := e.Repo.GetBudget(ctx, projectID)
	if err != nil {
		return domain.ProjectState{}, err
	}
	s := domain.ProjectState{
		Identity: ident,
		Phase:    phase,
		Gates:    gs,
		Budget:   b,
	}
	if len(ts) > 0 {
		s.Tasks = &domain.TaskList{
			ProjectID: projectID,
			Tasks:     ts,
			Progress:  tasks.Progress(ts),
		}
	}
	return s, nil
}

// --- gates ---

// ApproveGate marks a gate approved and rederives the project phase. Gates may
// be approved in any order and re-approved; each approval re-stamps approver
// and timestamp.
func (e Engine) ApproveGate(ctx context.Context, projectID, gateID, approver, comments string) (domain.Gate, domain.Phase, error) {
	return e.resolveGate(ctx, projectID, gateID, approver, comments, true)
}

// RejectGate marks a gate rejected. Comments are required for rejections.
func (e Engine) RejectGate(ctx context.Context, projectID, gateID, approver, comments string) (domain.Gate, domain.Phase, error) {
	if comments == "" {
		return domain.Gate{}, "", errors.New("comments are required when rejecting a gate")
	}
	return e.resolveGate(ctx, projectID, gateID, approver, comments, false)
}

func (e Engine) resolveGate(ctx context.Context, projectID, gateID, approver, comments string, approve bool) (domain.Gate, domain.Phase, error) {
	if approver == "" {
		return domain.Gate{}, "", errors.New("approver is required")
	}
	_, oldPhase, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Gate{}, "", err
	}
	gs, err := e.Repo.ListGates(ctx, projectID)
	if err != nil {
		return domain.Gate{}, "", err
	}
	idx := -1
	for i, g := range gs {
		if g.ID == gateID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Gate{}, "", fmt.Errorf("gate %s: %w", gateID, repo.ErrNotFound)
	}

	stamp := e.nowStamp()
	g := gs[idx]
	if approve {
		g.Status = domain.GateApproved
		g.Approver = approver
		g.ApprovedAt = stamp
		if comments != "" {
			g.Comments = comments
		}
	} else {
		g.Status = domain.GateRejected
		g.Approver = approver
		g.RejectedAt = stamp
		g.Comments = comments
	}
	gs[idx] = g
	newPhase := gates.CurrentPhase(gs)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Gate{}, "", err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateGate(ctx, tx, projectID, g); err != nil {
		return domain.Gate{}, "", err
	}
	evtType := "gate.approved"
	if !approve {
		evtType = "gate.rejected"
	}
	if err := e.Events.Append(ctx, tx, evtType, projectID, "gate", g.ID, approver, events.EventPayload{
		"name": g.Name, "comments": comments,
	}); err != nil {
		return domain.Gate{}, "", err
	}
	if newPhase != oldPhase {
		if err := e.Repo.UpdateProjectPhase(ctx, tx, projectID, newPhase, stamp); err != nil {
			return domain.Gate{}, "", err
		}
		if err := e.Events.Append(ctx, tx, "phase.changed", projectID, "project", projectID, approver, events.EventPayload{
			"from": string(oldPhase), "to": string(newPhase),
		}); err != nil {
			return domain.Gate{}, "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Gate{}, "", err
	}
	return g, newPhase, nil
}

// NextGate returns the first pending gate in template order.
func (e Engine) NextGate(ctx context.Context, projectID string) (domain.Gate, bool, error) {
	gs, err := e.Repo.ListGates(ctx, projectID)
	if err != nil {
		return domain.Gate{}, false, err
	}
	g, ok := gates.NextPending(gs)
	return g, ok, nil
}

// --- tasks ---

// TaskCreateOptions are parameters for creating a task. BlockedBy ids are
// stored as given; ids that match no task are simply inert.
type TaskCreateOptions struct {
	ProjectID       string
	Title           string
	Type            domain.TaskType
	SuccessCriteria string
	ParentID        string
	BlockedBy       []string
	Assignee        *domain.Assignee
	ActorID         string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.SuccessCriteria == "" {
		return domain.Task{}, errors.New("success criteria are required")
	}
	if opts.Type == "" {
		opts.Type = domain.TaskImplementation
	}
	if _, _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}

	now := e.nowStamp()
	t := domain.Task{
		ID:              fmt.Sprintf("task-%d-%s", e.now().UnixMilli(), uuid.NewString()[:8]),
		Title:           opts.Title,
		Type:            opts.Type,
		Status:          domain.TaskBacklog,
		SuccessCriteria: opts.SuccessCriteria,
		BlockedBy:       opts.BlockedBy,
		Assignee:        opts.Assignee,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if opts.ParentID != "" {
		t.ParentID = &opts.ParentID
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, opts.ProjectID, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", opts.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{
		"title": t.Title, "type": string(t.Type),
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

var validTaskStatus = map[domain.TaskStatus]bool{
	domain.TaskBacklog:    true,
	domain.TaskReady:      true,
	domain.TaskInProgress: true,
	domain.TaskBlocked:    true,
	domain.TaskDone:       true,
}

// SetTaskStatus applies a status transition. Any transition is allowed; moving
// to done stamps CompletedAt and moving away from done leaves it in place.
func (e Engine) SetTaskStatus(ctx context.Context, taskID string, status domain.TaskStatus, actorID string) (domain.Task, error) {
	if !validTaskStatus[status] {
		return domain.Task{}, fmt.Errorf("invalid task status %q", status)
	}
	t, projectID, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	from := t.Status
	now := e.nowStamp()
	t.Status = status
	t.UpdatedAt = now
	if status == domain.TaskDone {
		t.CompletedAt = &now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.status", projectID, "task", t.ID, actorID, events.EventPayload{
		"from": string(from), "to": string(status),
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// AssignTask sets or clears the task assignee.
func (e Engine) AssignTask(ctx context.Context, taskID string, assignee *domain.Assignee, actorID string) (domain.Task, error) {
	t, projectID, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	t.Assignee = assignee
	t.UpdatedAt = e.nowStamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	payload := events.EventPayload{}
	if assignee != nil {
		payload["kind"] = string(assignee.Kind)
		payload["name"] = assignee.Name
	}
	if err := e.Events.Append(ctx, tx, "task.assigned", projectID, "task", t.ID, actorID, payload); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// AddTaskDependencies records additional blocked-by ids for a task. The ids
// are not checked against existing tasks.
func (e Engine) AddTaskDependencies(ctx context.Context, taskID string, deps []string, actorID string) (domain.Task, error) {
	_, projectID, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.AddDependencies(ctx, tx, taskID, deps); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.deps.added", projectID, "task", taskID, actorID, events.EventPayload{
		"blocked_by": deps,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t, _, err := e.Repo.GetTask(ctx, taskID)
	return t, err
}

// RemoveTaskDependencies drops blocked-by ids from a task. Ids that were never
// recorded are ignored.
func (e Engine) RemoveTaskDependencies(ctx context.Context, taskID string, deps []string, actorID string) (domain.Task, error) {
	_, projectID, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.RemoveDependencies(ctx, tx, taskID, deps); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.deps.removed", projectID, "task", taskID, actorID, events.EventPayload{
		"blocked_by": deps,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t, _, err := e.Repo.GetTask(ctx, taskID)
	return t, err
}

// GetTask loads one task with its dependencies.
func (e Engine) GetTask(ctx context.Context, taskID string) (domain.Task, string, error) {
	return e.Repo.GetTask(ctx, taskID)
}

// ListTasks returns the project's tasks sorted by workable priority.
func (e Engine) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	ts, err := e.Repo.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return tasks.SortByPriority(ts), nil
}

// ReadyTasks returns tasks that can be worked on now.
func (e Engine) ReadyTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	ts, err := e.Repo.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return tasks.Ready(ts), nil
}

// --- budget ---

// SetBudget replaces the project's budget wholesale.
func (e Engine) SetBudget(ctx context.Context, projectID string, b domain.Budget, actorID string) error {
	if b.Kind != domain.BudgetPhysical && b.Kind != domain.BudgetSoftware {
		return fmt.Errorf("invalid budget kind %q", b.Kind)
	}
	if _, _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.UpsertBudget(ctx, tx, projectID, b); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "budget.set", projectID, "budget", projectID, actorID, events.EventPayload{
		"kind": string(b.Kind), "allocated": b.Allocated,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// AddBudgetItem appends a planned physical line item to a physical budget.
func (e Engine) AddBudgetItem(ctx context.Context, projectID, name, category string, plannedCost float64, quantity int, actorID string) (domain.BudgetItem, error) {
	b, err := e.requireBudget(ctx, projectID, domain.BudgetPhysical)
	if err != nil {
		return domain.BudgetItem{}, err
	}
	item := budget.NewItem(name, category, plannedCost, quantity)
	b.Items = append(b.Items, item)
	return item, e.writeBudget(ctx, projectID, *b, "budget.item.added", item.ID, actorID, events.EventPayload{
		"name": item.Name, "planned_cost": item.PlannedCost, "quantity": item.Quantity,
	})
}

// AddLicense appends a pending license to a software budget.
func (e Engine) AddLicense(ctx context.Context, projectID, name string, monthlyCost float64, actorID string) (domain.LicenseItem, error) {
	b, err := e.requireBudget(ctx, projectID, domain.BudgetSoftware)
	if err != nil {
		return domain.LicenseItem{}, err
	}
	l := budget.NewLicense(name, monthlyCost)
	b.Licenses = append(b.Licenses, l)
	return l, e.writeBudget(ctx, projectID, *b, "budget.license.added", l.ID, actorID, events.EventPayload{
		"name": l.Name, "monthly_cost": l.MonthlyCost,
	})
}

// SetBudgetItemStatus updates a physical item's or license's status, matched
// by id across whichever list the budget carries.
func (e Engine) SetBudgetItemStatus(ctx context.Context, projectID, itemID, status, actorID string) error {
	b, err := e.Repo.GetBudget(ctx, projectID)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("budget: %w", repo.ErrNotFound)
	}
	found := false
	switch b.Kind {
	case domain.BudgetSoftware:
		for _, l := range b.Licenses {
			if l.ID == itemID {
				found = true
			}
		}
		b.Licenses = budget.UpdateLicenseStatus(b.Licenses, itemID, domain.LicenseStatus(status))
	default:
		for _, item := range b.Items {
			if item.ID == itemID {
				found = true
			}
		}
		b.Items = budget.UpdateItemStatus(b.Items, itemID, domain.BudgetItemStatus(status))
	}
	if !found {
		return fmt.Errorf("budget item %s: %w", itemID, repo.ErrNotFound)
	}
	return e.writeBudget(ctx, projectID, *b, "budget.item.status", itemID, actorID, events.EventPayload{
		"status": status,
	})
}

// RecordActualCost marks a physical item purchased at the actual unit cost.
func (e Engine) RecordActualCost(ctx context.Context, projectID, itemID string, actual float64, actorID string) error {
	b, err := e.requireBudget(ctx, projectID, domain.BudgetPhysical)
	if err != nil {
		return err
	}
	found := false
	for _, item := range b.Items {
		if item.ID == itemID {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("budget item %s: %w", itemID, repo.ErrNotFound)
	}
	b.Items = budget.RecordActualCost(b.Items, itemID, actual)
	return e.writeBudget(ctx, projectID, *b, "budget.item.purchased", itemID, actorID, events.EventPayload{
		"actual_cost": actual,
	})
}

func (e Engine) requireBudget(ctx context.Context, projectID string, kind domain.BudgetKind) (*domain.Budget, error) {
	b, err := e.Repo.GetBudget(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("budget: %w", repo.ErrNotFound)
	}
	if b.Kind != kind {
		return nil, fmt.Errorf("budget is %s, not %s", b.Kind, kind)
	}
	return b, nil
}

func (e Engine) writeBudget(ctx context.Context, projectID string, b domain.Budget, evtType, entityID, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.UpsertBudget(ctx, tx, projectID, b); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evtType, projectID, "budget", entityID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// BudgetReport is the derived spend view of a budget.
type BudgetReport struct {
	Kind           domain.BudgetKind `json:"kind"`
	Allocated      float64           `json:"allocated"`
	Spent          float64           `json:"spent"`
	Remaining      float64           `json:"remaining"`
	EstimatedTotal float64           `json:"estimated_total"`
	OverBudget     bool              `json:"over_budget"`
	MonthlyCost    float64           `json:"monthly_cost,omitempty"`
	AnnualCost     float64           `json:"annual_cost,omitempty"`
}

// GetBudgetReport computes the spend rollups for a project's budget.
func (e Engine) GetBudgetReport(ctx context.Context, projectID string) (*domain.Budget, BudgetReport, error) {
	b, err := e.Repo.GetBudget(ctx, projectID)
	if err != nil {
		return nil, BudgetReport{}, err
	}
	if b == nil {
		return nil, BudgetReport{}, fmt.Errorf("budget: %w", repo.ErrNotFound)
	}
	r := BudgetReport{
		Kind:           b.Kind,
		Allocated:      b.Allocated,
		Spent:          budget.Spent(*b),
		Remaining:      budget.Remaining(*b),
		EstimatedTotal: budget.EstimatedTotal(*b),
		OverBudget:     budget.IsOverBudget(*b),
	}
	if b.Kind == domain.BudgetSoftware {
		r.MonthlyCost = budget.MonthlyCost(b.Licenses)
		r.AnnualCost = budget.AnnualCost(b.Licenses)
	}
	return b, r, nil
}

// --- snapshot ---

// ExportState serializes the project aggregate to project-state.yaml in the
// workspace. The snapshot drops task detail down to a progress summary.
func (e Engine) ExportState(ctx context.Context, projectID, workspace, actorID string) (project.Snapshot, error) {
	s, err := e.GetState(ctx, projectID)
	if err != nil {
		return project.Snapshot{}, err
	}
	snap := project.Serialize(s)
	if err := state.Write(workspace, snap); err != nil {
		return project.Snapshot{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return project.Snapshot{}, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "state.exported", projectID, "project", projectID, actorID, events.EventPayload{
		"path": state.Path(workspace), "version": snap.Version,
	}); err != nil {
		return project.Snapshot{}, err
	}
	return snap, tx.Commit()
}

// LatestEvents returns the newest events matching the optional filters.
func (e Engine) LatestEvents(ctx context.Context, limit int, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.Repo.LatestEvents(ctx, limit, projectID, evtType, entityKind, entityID)
}
