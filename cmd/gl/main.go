package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gateline/internal/config"
	"gateline/internal/db"
	"gateline/internal/domain"
	"gateline/internal/engine"
	"gateline/internal/migrate"
	"gateline/internal/repo"
	"gateline/internal/server"
	"gateline/internal/state"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Gateline CLI",
	Long: `Gateline tracks project lifecycle with approval gates.
- Workspace: your project directory with gateline.yml and a .gateline database.
- Gates: named approval checkpoints instantiated from the project type's template.
- Phase: SPEC/DESIGN/BUILD/COMPLETE, derived from which gates are approved.
- Tasks: work items with blocked-by dependencies; 'gl task list --ready' shows what is workable.
- Budget: physical line items or software licenses with spend rollups.
- Snapshot: 'gl export' writes project-state.yaml for other tools to read.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GATELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (defaults to the workspace's only project)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(gateCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(budgetCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var name, projectType, owner, description, repository, id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a project in this workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(name, projectType, owner)), 0o644); err != nil {
					return err
				}
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			projectID, s, err := e.InitProject(cmd.Context(), engine.InitOptions{
				ID:          id,
				Name:        name,
				Type:        domain.ProjectType(projectType),
				Owner:       owner,
				Description: description,
				Repository:  repository,
				ActorID:     viper.GetString("actor-id"),
			})
			if err != nil {
				return err
			}
			if _, err := e.ExportState(cmd.Context(), projectID, workspace, viper.GetString("actor-id")); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"id": projectID, "phase": s.Phase, "gates": len(s.Gates)})
			}
			fmt.Printf("Initialized project %s (%s) with %d gates in phase %s\n", projectID, s.Identity.Type, len(s.Gates), s.Phase)
			fmt.Printf("Database: %s\n", db.Path(workspace))
			fmt.Printf("Wrote %s\n", state.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (derived from name if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&projectType, "type", "software", "project type (software, physical, documentation, infrastructure)")
	cmd.Flags().StringVar(&owner, "owner", "", "project owner")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&repository, "repository", "", "repository URL")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Project status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				s, err := e.GetState(ctx, projectID)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountTasksByStatus(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": projectID, "state": s, "task_counts": counts})
				}
				fmt.Printf("Project: %s (%s, owner %s)\n", s.Identity.Name, s.Identity.Type, s.Identity.Owner)
				fmt.Printf("Phase: %s\n", s.Phase)
				approved := 0
				for _, g := range s.Gates {
					if g.Status == domain.GateApproved {
						approved++
					}
				}
				fmt.Printf("Gates: %d/%d approved\n", approved, len(s.Gates))
				if s.Tasks != nil {
					fmt.Printf("Tasks: %d (%d%% done)\n", len(s.Tasks.Tasks), s.Tasks.Progress)
				} else {
					fmt.Println("Tasks: none")
				}
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func gateCmd() *cobra.Command {
	gate := &cobra.Command{
		Use:   "gate",
		Short: "Manage approval gates",
		Long:  "Gates are the project's approval checkpoints. They may be approved in any order; the phase is derived from which named gates are approved.",
	}
	gate.AddCommand(gateListCmd())
	gate.AddCommand(gateNextCmd())
	gate.AddCommand(gateApproveCmd())
	gate.AddCommand(gateRejectCmd())
	return gate
}

func gateListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List gates in template order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				gs, err := e.Repo.ListGates(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(gs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Approver", "Approved At"})
				for _, g := range gs {
					tw.AppendRow(table.Row{g.ID, g.Name, g.Status, g.Approver, g.ApprovedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func gateNextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show the first pending gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				g, ok, err := e.NextGate(ctx, projectID)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("No pending gates")
					return nil
				}
				return printJSONOrTable(g)
			})
		},
	}
	return cmd
}

func gateApproveCmd() *cobra.Command {
	var comments string
	cmd := &cobra.Command{
		Use:   "approve <gate-id>",
		Short: "Approve a gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				g, phase, err := e.ApproveGate(ctx, projectID, args[0], viper.GetString("actor-id"), comments)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"gate": g, "phase": phase})
				}
				fmt.Printf("Approved %s; project phase is now %s\n", g.Name, phase)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&comments, "comments", "", "approval comments")
	return cmd
}

func gateRejectCmd() *cobra.Command {
	var comments string
	cmd := &cobra.Command{
		Use:   "reject <gate-id>",
		Short: "Reject a gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				g, phase, err := e.RejectGate(ctx, projectID, args[0], viper.GetString("actor-id"), comments)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"gate": g, "phase": phase})
				}
				fmt.Printf("Rejected %s; project phase is now %s\n", g.Name, phase)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&comments, "comments", "", "rejection comments (required)")
	_ = cmd.MarkFlagRequired("comments")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks start in backlog and flow through ready/in_progress to done. A task with unfinished blocked-by dependencies never shows up in 'task list --ready'.",
	}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskAssignCmd())
	task.AddCommand(taskBlockCmd())
	task.AddCommand(taskUnblockCmd())
	return task
}

func taskAddCmd() *cobra.Command {
	var title, taskType, criteria, parent string
	var blockedBy []string
	var assigneeKind, assigneeName string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				opts := engine.TaskCreateOptions{
					ProjectID:       projectID,
					Title:           title,
					Type:            domain.TaskType(taskType),
					SuccessCriteria: criteria,
					ParentID:        parent,
					BlockedBy:       blockedBy,
					ActorID:         viper.GetString("actor-id"),
				}
				if assigneeName != "" {
					opts.Assignee = &domain.Assignee{Kind: domain.AssigneeKind(assigneeKind), Name: assigneeName}
				}
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&taskType, "type", "implementation", "task type")
	cmd.Flags().StringVar(&criteria, "criteria", "", "success criteria")
	cmd.Flags().StringVar(&parent, "parent", "", "parent task id")
	cmd.Flags().StringArrayVar(&blockedBy, "blocked-by", []string{}, "blocking task id (repeatable)")
	cmd.Flags().StringVar(&assigneeKind, "assignee-kind", "human", "assignee kind (human or agent)")
	cmd.Flags().StringVar(&assigneeName, "assignee", "", "assignee name")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("criteria")
	return cmd
}

func taskListCmd() *cobra.Command {
	var ready bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks by priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				var (
					ts  []domain.Task
					err error
				)
				if ready {
					ts, err = e.ReadyTasks(ctx, projectID)
				} else {
					ts, err = e.ListTasks(ctx, projectID)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Type", "Status", "Assignee", "Blocked By"})
				for _, t := range ts {
					assignee := ""
					if t.Assignee != nil {
						assignee = t.Assignee.Name
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Type, t.Status, assignee, strings.Join(t.BlockedBy, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&ready, "ready", false, "only tasks that can be worked on now")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Set task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				t, err := e.SetTaskStatus(ctx, args[0], domain.TaskStatus(args[1]), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "assign <task-id> <name>",
		Short: "Assign a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				t, err := e.AssignTask(ctx, args[0], &domain.Assignee{
					Kind: domain.AssigneeKind(kind),
					Name: args[1],
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "human", "assignee kind (human or agent)")
	return cmd
}

func taskBlockCmd() *cobra.Command {
	var on []string
	cmd := &cobra.Command{
		Use:   "block <task-id>",
		Short: "Add blocked-by dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				t, err := e.AddTaskDependencies(ctx, args[0], on, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringArrayVar(&on, "on", []string{}, "blocking task id (repeatable)")
	_ = cmd.MarkFlagRequired("on")
	return cmd
}

func taskUnblockCmd() *cobra.Command {
	var on []string
	cmd := &cobra.Command{
		Use:   "unblock <task-id>",
		Short: "Remove blocked-by dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				t, err := e.RemoveTaskDependencies(ctx, args[0], on, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringArrayVar(&on, "on", []string{}, "blocking task id to remove (repeatable)")
	_ = cmd.MarkFlagRequired("on")
	return cmd
}

func budgetCmd() *cobra.Command {
	b := &cobra.Command{
		Use:   "budget",
		Short: "Manage the project budget",
		Long:  "A budget is either physical (line items with planned/actual costs and quantities) or software (monthly licenses). 'gl budget show' includes the spend rollups.",
	}
	b.AddCommand(budgetInitCmd())
	b.AddCommand(budgetShowCmd())
	b.AddCommand(budgetItemCmd())
	b.AddCommand(budgetLicenseCmd())
	return b
}

func budgetInitCmd() *cobra.Command {
	var kind string
	var allocated float64
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or replace the budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				b := domain.Budget{Kind: domain.BudgetKind(kind), Allocated: allocated}
				if err := e.SetBudget(ctx, projectID, b, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("Budget set: %s, %.2f allocated\n", kind, allocated)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "budget kind (physical or software)")
	cmd.Flags().Float64Var(&allocated, "allocated", 0, "allocated amount")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("allocated")
	return cmd
}

func budgetShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show budget with spend report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				b, report, err := e.GetBudgetReport(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"budget": b, "report": report})
				}
				fmt.Printf("Budget (%s): %.2f allocated, %.2f spent, %.2f remaining\n", b.Kind, report.Allocated, report.Spent, report.Remaining)
				fmt.Printf("Estimated total: %.2f", report.EstimatedTotal)
				if report.OverBudget {
					fmt.Print("  OVER BUDGET")
				}
				fmt.Println()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				if b.Kind == domain.BudgetSoftware {
					tw.AppendHeader(table.Row{"ID", "Name", "Monthly", "Status"})
					for _, l := range b.Licenses {
						tw.AppendRow(table.Row{l.ID, l.Name, l.MonthlyCost, l.Status})
					}
					tw.Render()
					fmt.Printf("Monthly: %.2f  Annual: %.2f\n", report.MonthlyCost, report.AnnualCost)
					return nil
				}
				tw.AppendHeader(table.Row{"ID", "Name", "Category", "Planned", "Actual", "Qty", "Status"})
				for _, item := range b.Items {
					actual := ""
					if item.ActualCost != nil {
						actual = fmt.Sprintf("%.2f", *item.ActualCost)
					}
					tw.AppendRow(table.Row{item.ID, item.Name, item.Category, item.PlannedCost, actual, item.Quantity, item.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func budgetItemCmd() *cobra.Command {
	item := &cobra.Command{Use: "item", Short: "Manage physical line items"}
	item.AddCommand(budgetItemAddCmd())
	item.AddCommand(budgetItemStatusCmd())
	item.AddCommand(budgetItemPurchasedCmd())
	return item
}

func budgetItemAddCmd() *cobra.Command {
	var name, category string
	var planned float64
	var quantity int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a planned line item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				item, err := e.AddBudgetItem(ctx, projectID, name, category, planned, quantity, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "item name")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().Float64Var(&planned, "planned", 0, "planned unit cost")
	cmd.Flags().IntVar(&quantity, "quantity", 1, "quantity")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("planned")
	return cmd
}

func budgetItemStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <item-id> <status>",
		Short: "Set item status (planned, purchased, cancelled)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				return e.SetBudgetItemStatus(ctx, projectID, args[0], args[1], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func budgetItemPurchasedCmd() *cobra.Command {
	var actual float64
	cmd := &cobra.Command{
		Use:   "purchased <item-id>",
		Short: "Mark an item purchased at its actual unit cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				return e.RecordActualCost(ctx, projectID, args[0], actual, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().Float64Var(&actual, "actual", 0, "actual unit cost")
	_ = cmd.MarkFlagRequired("actual")
	return cmd
}

func budgetLicenseCmd() *cobra.Command {
	lic := &cobra.Command{Use: "license", Short: "Manage software licenses"}
	lic.AddCommand(budgetLicenseAddCmd())
	lic.AddCommand(budgetLicenseStatusCmd())
	return lic
}

func budgetLicenseAddCmd() *cobra.Command {
	var name string
	var monthly float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a license",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				l, err := e.AddLicense(ctx, projectID, name, monthly, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "license name")
	cmd.Flags().Float64Var(&monthly, "monthly", 0, "monthly cost")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("monthly")
	return cmd
}

func budgetLicenseStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <license-id> <status>",
		Short: "Set license status (pending, active, cancelled)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				return e.SetBudgetItemStatus(ctx, projectID, args[0], args[1], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the project-state.yaml snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				workspace := viper.GetString("workspace")
				snap, err := e.ExportState(ctx, projectID, workspace, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snap)
				}
				fmt.Printf("Wrote %s (version %s, phase %s)\n", state.Path(workspace), snap.Version, snap.Phase)
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				events, err := e.LatestEvents(ctx, n, projectID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("GATELINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" && cfg != nil {
				authCfg.JWTSecret = cfg.Server.JWTSecret
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("GATELINE_JWT_SECRET is required for bearer auth")
			}
			if cfg != nil {
				authCfg.AllowLegacyActorHeader = cfg.Server.AllowLegacyActorHeader
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
			}
			if basePath == "" {
				basePath = "/v0"
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Workspace: workspace, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Gateline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default /v0)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	projectID, err := e.ResolveProject(ctx, viper.GetString("project"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("no project in this workspace; run gl init first")
		}
		return err
	}
	return fn(ctx, e, projectID)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
