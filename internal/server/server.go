// Package server exposes the engine over HTTP with a uniform error envelope.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"gateline/internal/domain"
	"gateline/internal/engine"
	"gateline/internal/repo"
	"gateline/internal/tasks"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	BasePath  string
	Workspace string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"gate spec-approved: not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Gateline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Gateline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerGates(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerBudget(group, cfg.Engine)
	registerExport(group, cfg.Engine, cfg.Workspace)
	registerEvents(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case strings.Contains(lowered, "multiple projects"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "budget is"):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.InitOptions{
			Name:    input.Body.Name,
			Type:    domain.ProjectType(input.Body.Type),
			Owner:   input.Body.Owner,
			ActorID: actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		if input.Body.Repository != nil {
			opts.Repository = *input.Body.Repository
		}
		id, s, err := e.InitProject(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(id, s.Identity, s.Phase, len(s.Gates))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete project",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProject(ctx, input.ProjectID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-state",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/state",
		Summary:     "Full project state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.ProjectState `json:"body"`
	}, error) {
		s, err := e.GetState(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProjectState `json:"body"`
		}{Body: s}, nil
	})
}

func registerGates(api huma.API, e engine.Engine) {
	type projectPath struct {
		ProjectID string `path:"project_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-gates",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/gates",
		Summary:     "List gates in template order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []domain.Gate `json:"body"`
	}, error) {
		if _, _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		gs, err := e.Repo.ListGates(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Gate `json:"body"`
		}{Body: gs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "next-gate",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/gates/next",
		Summary:     "First pending gate",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body struct {
			Gate *domain.Gate `json:"gate"`
		} `json:"body"`
	}, error) {
		if _, _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		g, ok, err := e.NextGate(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Gate *domain.Gate `json:"gate"`
			} `json:"body"`
		}{}
		if ok {
			out.Body.Gate = &g
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-gate",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/gates/{gate_id}",
		Summary:     "Get one gate",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		GateID    string `path:"gate_id"`
	}) (*struct {
		Body domain.Gate `json:"body"`
	}, error) {
		g, err := e.Repo.GetGate(ctx, input.ProjectID, input.GateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Gate `json:"body"`
		}{Body: g}, nil
	})

	type gateDecision struct {
		ProjectID string              `path:"project_id"`
		GateID    string              `path:"gate_id"`
		Body      GateDecisionRequest `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "approve-gate",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/gates/{gate_id}/approve",
		Summary:     "Approve a gate",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *gateDecision) (*struct {
		Body GateDecisionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		comments := ""
		if input.Body.Comments != nil {
			comments = *input.Body.Comments
		}
		g, phase, err := e.ApproveGate(ctx, input.ProjectID, input.GateID, actorID, comments)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GateDecisionResponse `json:"body"`
		}{Body: GateDecisionResponse{Gate: g, Phase: phase}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-gate",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/gates/{gate_id}/reject",
		Summary:     "Reject a gate",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *gateDecision) (*struct {
		Body GateDecisionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		comments := ""
		if input.Body.Comments != nil {
			comments = *input.Body.Comments
		}
		g, phase, err := e.RejectGate(ctx, input.ProjectID, input.GateID, actorID, comments)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GateDecisionResponse `json:"body"`
		}{Body: GateDecisionResponse{Gate: g, Phase: phase}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskCreateOptions{
			ProjectID:       input.ProjectID,
			Title:           input.Body.Title,
			Type:            domain.TaskType(input.Body.Type),
			SuccessCriteria: input.Body.SuccessCriteria,
			BlockedBy:       input.Body.BlockedBy,
			Assignee:        input.Body.Assignee.toDomain(),
			ActorID:         actorID,
		}
		if input.Body.ParentID != nil {
			opts.ParentID = *input.Body.ParentID
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks by priority",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Ready     bool   `query:"ready"`
	}) (*struct {
		Body domain.TaskList `json:"body"`
	}, error) {
		if _, _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		var (
			ts  []domain.Task
			err error
		)
		if input.Ready {
			ts, err = e.ReadyTasks(ctx, input.ProjectID)
		} else {
			ts, err = e.ListTasks(ctx, input.ProjectID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		all, err := e.Repo.ListTasks(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskList `json:"body"`
		}{Body: domain.TaskList{ProjectID: input.ProjectID, Tasks: ts, Progress: tasks.Progress(all)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task status, assignee or dependencies",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, _, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.Status != nil {
			t, err = e.SetTaskStatus(ctx, input.TaskID, domain.TaskStatus(*input.Body.Status), actorID)
			if err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.Assignee != nil {
			t, err = e.AssignTask(ctx, input.TaskID, input.Body.Assignee.toDomain(), actorID)
			if err != nil {
				return nil, handleError(err)
			}
		}
		if len(input.Body.AddBlockedBy) > 0 {
			t, err = e.AddTaskDependencies(ctx, input.TaskID, input.Body.AddBlockedBy, actorID)
			if err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerBudget(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-budget",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/budget",
		Summary:     "Set project budget",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      SetBudgetRequest `json:"body"`
	}) (*struct {
		Body BudgetResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := domain.Budget{Kind: domain.BudgetKind(input.Body.Kind), Allocated: input.Body.Allocated}
		if existing, err := e.Repo.GetBudget(ctx, input.ProjectID); err == nil && existing != nil && existing.Kind == b.Kind {
			b.Items = existing.Items
			b.Licenses = existing.Licenses
		}
		if err := e.SetBudget(ctx, input.ProjectID, b, actorID); err != nil {
			return nil, handleError(err)
		}
		return budgetResponse(ctx, e, input.ProjectID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-budget",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/budget",
		Summary:     "Budget with spend report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body BudgetResponse `json:"body"`
	}, error) {
		return budgetResponse(ctx, e, input.ProjectID)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-budget-item",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/budget/items",
		Summary:       "Add physical line item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      AddBudgetItemRequest `json:"body"`
	}) (*struct {
		Body domain.BudgetItem `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, err := e.AddBudgetItem(ctx, input.ProjectID, input.Body.Name, input.Body.Category, input.Body.PlannedCost, input.Body.Quantity, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.BudgetItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-license",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/budget/licenses",
		Summary:       "Add software license",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      AddLicenseRequest `json:"body"`
	}) (*struct {
		Body domain.LicenseItem `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.AddLicense(ctx, input.ProjectID, input.Body.Name, input.Body.MonthlyCost, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.LicenseItem `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-budget-item",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/budget/items/{item_id}",
		Summary:     "Update item status or record actual cost",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		ItemID    string                  `path:"item_id"`
		Body      UpdateBudgetItemRequest `json:"body"`
	}) (*struct {
		Body BudgetResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.ActualCost != nil {
			if err := e.RecordActualCost(ctx, input.ProjectID, input.ItemID, *input.Body.ActualCost, actorID); err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.Status != nil {
			if err := e.SetBudgetItemStatus(ctx, input.ProjectID, input.ItemID, *input.Body.Status, actorID); err != nil {
				return nil, handleError(err)
			}
		}
		return budgetResponse(ctx, e, input.ProjectID)
	})
}

func budgetResponse(ctx context.Context, e engine.Engine, projectID string) (*struct {
	Body BudgetResponse `json:"body"`
}, error) {
	b, report, err := e.GetBudgetReport(ctx, projectID)
	if err != nil {
		return nil, handleError(err)
	}
	return &struct {
		Body BudgetResponse `json:"body"`
	}{Body: BudgetResponse{Budget: *b, Report: report}}, nil
}

func registerExport(api huma.API, e engine.Engine, workspace string) {
	huma.Register(api, huma.Operation{
		OperationID: "export-state",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/export",
		Summary:     "Write project-state.yaml snapshot",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		snap, err := e.ExportState(ctx, input.ProjectID, workspace, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"version": snap.Version, "phase": string(snap.Phase)}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		ProjectID  string `query:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		evts, err := e.LatestEvents(ctx, input.Limit, input.ProjectID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: evts}, nil
	})
}
