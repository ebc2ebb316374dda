package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gateline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- projects ---

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, id string, s domain.ProjectState) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,type,owner,description,repository,phase,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		id, s.Identity.Name, string(s.Identity.Type), s.Identity.Owner, nullable(s.Identity.Description), nullable(s.Identity.Repository),
		string(s.Phase), s.Identity.CreatedAt, s.Identity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	for pos, g := range s.Gates {
		if err := r.insertGate(ctx, tx, id, g, pos); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.ProjectIdentity, domain.Phase, error) {
	var ident domain.ProjectIdentity
	var phase, ptype string
	var desc, repository sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT name,type,owner,description,repository,phase,created_at,updated_at FROM projects WHERE id=?`, id).
		Scan(&ident.Name, &ptype, &ident.Owner, &desc, &repository, &phase, &ident.CreatedAt, &ident.UpdatedAt)
	if err == sql.ErrNoRows {
		return ident, "", ErrNotFound
	}
	if err != nil {
		return ident, "", err
	}
	ident.Type = domain.ProjectType(ptype)
	if desc.Valid {
		ident.Description = desc.String
	}
	if repository.Valid {
		ident.Repository = repository.String
	}
	return ident, domain.Phase(phase), nil
}

type ProjectRow struct {
	ID       string
	Identity domain.ProjectIdentity
	Phase    domain.Phase
}

func (r Repo) ListProjects(ctx context.Context) ([]ProjectRow, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,type,owner,COALESCE(description,''),COALESCE(repository,''),phase,created_at,updated_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ProjectRow
	for rows.Next() {
		var p ProjectRow
		var ptype, phase string
		if err := rows.Scan(&p.ID, &p.Identity.Name, &ptype, &p.Identity.Owner, &p.Identity.Description, &p.Identity.Repository, &phase, &p.Identity.CreatedAt, &p.Identity.UpdatedAt); err != nil {
			return nil, err
		}
		p.Identity.Type = domain.ProjectType(ptype)
		p.Phase = domain.Phase(phase)
		res = append(res, p)
	}
	return res, nil
}

// SingleProject resolves the workspace's sole project when none is specified.
func (r Repo) SingleProject(ctx context.Context) (ProjectRow, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return ProjectRow{}, err
	}
	if len(projects) == 0 {
		return ProjectRow{}, ErrNotFound
	}
	if len(projects) > 1 {
		return ProjectRow{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) UpdateProjectPhase(ctx context.Context, tx *sql.Tx, id string, phase domain.Phase, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET phase=?, updated_at=? WHERE id=?`, string(phase), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProject removes the project row; gates, tasks and budget rows cascade.
func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- gates ---

func (r Repo) insertGate(ctx context.Context, tx *sql.Tx, projectID string, g domain.Gate, position int) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO gates(project_id,id,name,description,status,approver,approved_at,rejected_at,comments,position) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		projectID, g.ID, g.Name, g.Description, string(g.Status), nullable(g.Approver), nullable(g.ApprovedAt), nullable(g.RejectedAt), nullable(g.Comments), position)
	if err != nil {
		return fmt.Errorf("insert gate %s: %w", g.ID, err)
	}
	return nil
}

func (r Repo) UpdateGate(ctx context.Context, tx *sql.Tx, projectID string, g domain.Gate) error {
	res, err := tx.ExecContext(ctx, `UPDATE gates SET status=?, approver=?, approved_at=?, rejected_at=?, comments=? WHERE project_id=? AND id=?`,
		string(g.Status), nullable(g.Approver), nullable(g.ApprovedAt), nullable(g.RejectedAt), nullable(g.Comments), projectID, g.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetGate(ctx context.Context, projectID, gateID string) (domain.Gate, error) {
	var g domain.Gate
	var approver, approvedAt, rejectedAt, comments sql.NullString
	var status string
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,description,status,approver,approved_at,rejected_at,comments FROM gates WHERE project_id=? AND id=?`, projectID, gateID).
		Scan(&g.ID, &g.Name, &g.Description, &status, &approver, &approvedAt, &rejectedAt, &comments)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	g.Status = domain.GateStatus(status)
	if approver.Valid {
		g.Approver = approver.String
	}
	if approvedAt.Valid {
		g.ApprovedAt = approvedAt.String
	}
	if rejectedAt.Valid {
		g.RejectedAt = rejectedAt.String
	}
	if comments.Valid {
		g.Comments = comments.String
	}
	return g, nil
}

// ListGates returns a project's gates in template order.
func (r Repo) ListGates(ctx context.Context, projectID string) ([]domain.Gate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,description,status,approver,approved_at,rejected_at,comments FROM gates WHERE project_id=? ORDER BY position ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Gate
	for rows.Next() {
		var g domain.Gate
		var approver, approvedAt, rejectedAt, comments sql.NullString
		var status string
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &status, &approver, &approvedAt, &rejectedAt, &comments); err != nil {
			return nil, err
		}
		g.Status = domain.GateStatus(status)
		if approver.Valid {
			g.Approver = approver.String
		}
		if approvedAt.Valid {
			g.ApprovedAt = approvedAt.String
		}
		if rejectedAt.Valid {
			g.RejectedAt = rejectedAt.String
		}
		if comments.Valid {
			g.Comments = comments.String
		}
		res = append(res, g)
	}
	return res, nil
}

// --- tasks ---

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, projectID string, t domain.Task) error {
	var pos int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),-1)+1 FROM tasks WHERE project_id=?`, projectID).Scan(&pos); err != nil {
		return err
	}
	var assigneeKind, assigneeName any
	if t.Assignee != nil {
		assigneeKind = string(t.Assignee.Kind)
		assigneeName = t.Assignee.Name
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,project_id,title,type,status,success_criteria,parent_id,assignee_kind,assignee_name,position,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, projectID, t.Title, string(t.Type), string(t.Status), t.SuccessCriteria, nullableStringPtr(t.ParentID),
		assigneeKind, assigneeName, pos, t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	for _, dep := range t.BlockedBy {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_deps(task_id, blocked_by_task_id) VALUES (?,?)`, t.ID, dep); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	var assigneeKind, assigneeName any
	if t.Assignee != nil {
		assigneeKind = string(t.Assignee.Kind)
		assigneeName = t.Assignee.Name
	}
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, type=?, status=?, success_criteria=?, parent_id=?, assignee_kind=?, assignee_name=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Title, string(t.Type), string(t.Status), t.SuccessCriteria, nullableStringPtr(t.ParentID),
		assigneeKind, assigneeName, t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTask(scan func(dest ...any) error) (domain.Task, string, error) {
	var t domain.Task
	var projectID, ttype, status string
	var parentID, assigneeKind, assigneeName, completedAt sql.NullString
	err := scan(&t.ID, &projectID, &t.Title, &ttype, &status, &t.SuccessCriteria, &parentID, &assigneeKind, &assigneeName, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err != nil {
		return t, "", err
	}
	t.Type = domain.TaskType(ttype)
	t.Status = domain.TaskStatus(status)
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	if assigneeKind.Valid && assigneeName.Valid {
		t.Assignee = &domain.Assignee{Kind: domain.AssigneeKind(assigneeKind.String), Name: assigneeName.String}
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, projectID, nil
}

const taskColumns = `id,project_id,title,type,status,success_criteria,parent_id,assignee_kind,assignee_name,created_at,updated_at,completed_at`

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, string, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, projectID, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, "", ErrNotFound
	}
	if err != nil {
		return t, "", err
	}
	t.BlockedBy, err = r.ListTaskDependencies(ctx, t.ID)
	return t, projectID, err
}

// ListTasks returns a project's tasks in insertion order with dependencies
// resolved.
func (r Repo) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id=? ORDER BY position ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, _, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		deps, err := r.ListTaskDependencies(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].BlockedBy = deps
	}
	return res, nil
}

func (r Repo) ListTaskDependencies(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT blocked_by_task_id FROM task_deps WHERE task_id=?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deps []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

func (r Repo) AddDependencies(ctx context.Context, tx *sql.Tx, taskID string, deps []string) error {
	for _, d := range deps {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_deps(task_id, blocked_by_task_id) VALUES (?,?)`, taskID, d); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) RemoveDependencies(ctx context.Context, tx *sql.Tx, taskID string, deps []string) error {
	for _, d := range deps {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_deps WHERE task_id=? AND blocked_by_task_id=?`, taskID, d); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, nil
}

// --- budget ---

// UpsertBudget replaces the project's budget and all of its items.
func (r Repo) UpsertBudget(ctx context.Context, tx *sql.Tx, projectID string, b domain.Budget) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO budgets(project_id,kind,allocated) VALUES (?,?,?)
ON CONFLICT(project_id) DO UPDATE SET kind=excluded.kind, allocated=excluded.allocated`, projectID, string(b.Kind), b.Allocated); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM budget_items WHERE project_id=?`, projectID); err != nil {
		return err
	}
	pos := 0
	for _, item := range b.Items {
		if _, err := tx.ExecContext(ctx, `INSERT INTO budget_items(id,project_id,name,category,planned_cost,actual_cost,quantity,monthly_cost,kind,status,position)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			item.ID, projectID, item.Name, nullable(item.Category), item.PlannedCost, nullableFloatPtr(item.ActualCost),
			item.Quantity, 0, string(domain.BudgetPhysical), string(item.Status), pos); err != nil {
			return err
		}
		pos++
	}
	for _, l := range b.Licenses {
		if _, err := tx.ExecContext(ctx, `INSERT INTO budget_items(id,project_id,name,category,planned_cost,actual_cost,quantity,monthly_cost,kind,status,position)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			l.ID, projectID, l.Name, nil, 0, nil, 1, l.MonthlyCost, string(domain.BudgetSoftware), string(l.Status), pos); err != nil {
			return err
		}
		pos++
	}
	return nil
}

// GetBudget returns nil when no budget has been set for the project.
func (r Repo) GetBudget(ctx context.Context, projectID string) (*domain.Budget, error) {
	var b domain.Budget
	var kind string
	err := r.DB.QueryRowContext(ctx, `SELECT kind,allocated FROM budgets WHERE project_id=?`, projectID).Scan(&kind, &b.Allocated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Kind = domain.BudgetKind(kind)
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(category,''),planned_cost,actual_cost,quantity,monthly_cost,kind,status FROM budget_items WHERE project_id=? ORDER BY position ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, name, category, itemKind, status string
		var planned, monthly float64
		var actual sql.NullFloat64
		var quantity int
		if err := rows.Scan(&id, &name, &category, &planned, &actual, &quantity, &monthly, &itemKind, &status); err != nil {
			return nil, err
		}
		if domain.BudgetKind(itemKind) == domain.BudgetSoftware {
			b.Licenses = append(b.Licenses, domain.LicenseItem{
				ID:          id,
				Name:        name,
				MonthlyCost: monthly,
				Status:      domain.LicenseStatus(status),
			})
			continue
		}
		item := domain.BudgetItem{
			ID:          id,
			Name:        name,
			Category:    category,
			PlannedCost: planned,
			Quantity:    quantity,
			Status:      domain.BudgetItemStatus(status),
		}
		if actual.Valid {
			v := actual.Float64
			item.ActualCost = &v
		}
		b.Items = append(b.Items, item)
	}
	return &b, rows.Err()
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
