package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ThunderOpsAI/product-automation-engine/internal/agent"
	"github.com/ThunderOpsAI/product-automation-engine/internal/config"
	"github.com/ThunderOpsAI/product-automation-engine/internal/db"
	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
	"github.com/ThunderOpsAI/product-automation-engine/internal/engine"
	"github.com/ThunderOpsAI/product-automation-engine/internal/gen"
	"github.com/ThunderOpsAI/product-automation-engine/internal/images"
	"github.com/ThunderOpsAI/product-automation-engine/internal/migrate"
	"github.com/ThunderOpsAI/product-automation-engine/internal/notify"
	"github.com/ThunderOpsAI/product-automation-engine/internal/pipeline"
	"github.com/ThunderOpsAI/product-automation-engine/internal/publish"
	"github.com/ThunderOpsAI/product-automation-engine/internal/ratelimit"
	"github.com/ThunderOpsAI/product-automation-engine/internal/repo"
	"github.com/ThunderOpsAI/product-automation-engine/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "factory",
	Short: "Digital product factory CLI",
	Long: `Factory runs an automated pipeline that researches niches, assembles
digital products, brands them, and publishes marketplace listings.
Every agent stage ends at a confidence gate: output scoring at or above
the stage threshold completes the task, anything below queues for a
human decision. Approvals are reviewed with 'factory approval'.`,
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
	_ = godotenv.Load(filepath.Join(viper.GetString("workspace"), ".env"))
	viper.SetEnvPrefix("FACTORY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("reviewer", "local-operator", "reviewer identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("reviewer", rootCmd.PersistentFlags().Lookup("reviewer"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(productCmd())
	rootCmd.AddCommand(listingCmd())
	rootCmd.AddCommand(supportCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace with default config and schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("Wrote", cfgPath)
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("Workspace ready at", db.Path(workspace))
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			return migrate.Migrate(conn)
		},
	}
}

func pipelineCmd() *cobra.Command {
	p := &cobra.Command{Use: "pipeline", Short: "Run production pipelines"}
	p.AddCommand(pipelineRunCmd())
	p.AddCommand(pipelineOptimizeCmd())
	return p
}

func pipelineRunCmd() *cobra.Command {
	var maxNiches int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daily production pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a application) error {
				result, err := a.runner.RunDaily(ctx, maxNiches)
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().IntVar(&maxNiches, "max-niches", 0, "number of niches to process (0 = config default)")
	return cmd
}

func pipelineOptimizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Run an optimization pass over live listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a application) error {
				output, res, err := a.runner.RunOptimization(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"status":         res.Status,
					"approval_id":    res.ApprovalID,
					"experiments":    output.Experiments,
					"auto_applied":   output.AutoApplied,
					"needs_approval": output.NeedsApproval,
				})
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Inspect and manage tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskReconcileCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var taskType, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{Type: taskType, Status: status, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Confidence", "Created"})
				for _, t := range tasks {
					conf := ""
					if t.ConfidenceScore != nil {
						conf = fmt.Sprintf("%.1f", *t.ConfidenceScore)
					}
					tw.AppendRow(table.Row{t.ID, t.Type, t.Status, conf, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskType, "type", "", "filter by agent type")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskCreateCmd() *cobra.Command {
	var taskType string
	var priority int
	var inputJSON string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pending task",
		RunE: func(cmd *cobra.Command, args []string) error {
			var input domain.Payload
			if inputJSON != "" {
				if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
					return fmt.Errorf("invalid --input: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, domain.AgentKind(taskType), priority, input)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&taskType, "type", "", "agent type")
	cmd.Flags().IntVar(&priority, "priority", 5, "priority 1-10")
	cmd.Flags().StringVar(&inputJSON, "input", "", "input payload as JSON")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func taskReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Fail running tasks past the staleness cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				failed, err := e.ReconcileStale(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"failed_task_ids": failed, "count": len(failed)})
			})
		},
	}
}

func approvalCmd() *cobra.Command {
	app := &cobra.Command{Use: "approval", Short: "Review the approval queue"}
	app.AddCommand(approvalListCmd())
	app.AddCommand(approvalApproveCmd())
	app.AddCommand(approvalRejectCmd())
	return app
}

func approvalListCmd() *cobra.Command {
	var status, system string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approvals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListApprovals(ctx, repo.ApprovalFilters{Status: status, System: system, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Task", "Stage", "Status", "Reason"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.TaskID, a.System, a.Status, a.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "pending", "filter by status")
	cmd.Flags().StringVar(&system, "system", "", "filter by agent stage")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func approvalApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a pending item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Approve(ctx, args[0], viper.GetString("reviewer"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func approvalRejectCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Reject(ctx, args[0], viper.GetString("reviewer"), note)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "rejection note")
	return cmd
}

func productCmd() *cobra.Command {
	parent := &cobra.Command{Use: "product", Short: "Product catalog"}
	parent.AddCommand(productListCmd())
	return parent
}

func productListCmd() *cobra.Command {
	var status, niche string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List products",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProducts(ctx, repo.ProductFilters{Status: status, Niche: niche, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Niche", "Price", "Status"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Title, p.Niche, fmt.Sprintf("$%.2f", p.PriceUSD), p.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&niche, "niche", "", "filter by niche")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func listingCmd() *cobra.Command {
	parent := &cobra.Command{Use: "listing", Short: "Marketplace listings"}
	parent.AddCommand(listingListCmd())
	return parent
}

func listingListCmd() *cobra.Command {
	var status, platform string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List marketplace listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListListings(ctx, repo.ListingFilters{Status: status, Platform: platform, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Platform", "Status", "Views", "URL"})
				for _, l := range items {
					tw.AppendRow(table.Row{l.ID, l.Platform, l.Status, l.ViewsTotal, l.URL})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&platform, "platform", "", "filter by platform")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func supportCmd() *cobra.Command {
	sup := &cobra.Command{Use: "support", Short: "Support ticket operations"}
	sup.AddCommand(supportTriageCmd())
	sup.AddCommand(supportListCmd())
	return sup
}

func supportTriageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "triage <ticket_id>",
		Short: "Run triage for a support ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a application) error {
				t, err := a.engine.CreateTask(ctx, domain.AgentSupportTriage, 5, domain.Payload{"ticket_id": args[0]})
				if err != nil {
					return err
				}
				decision, res, err := a.agents.TriageTicket(ctx, t.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"status":   res.Status,
					"action":   decision.Action,
					"response": decision.Response,
				})
			})
		},
	}
}

func supportListCmd() *cobra.Command {
	var unresolvedOnly bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List support tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				filters := repo.TicketFilters{Limit: limit}
				if unresolvedOnly {
					resolved := false
					filters.Resolved = &resolved
				}
				items, err := e.Repo.ListSupportTickets(ctx, filters)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().BoolVar(&unresolvedOnly, "unresolved", false, "only unresolved tickets")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Snapshot today's metrics and send the operator digest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a application) error {
				metric, err := a.runner.DailySummary(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(metric)
			})
		},
	}
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var kind string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Events.Latest(ctx, n, kind)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&kind, "kind", "", "event kind filter")
	lg.AddCommand(tail)
	return lg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noAuth bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a application) error {
				if addr == "" {
					addr = a.cfg.Server.Addr
				}
				authCfg := server.AuthConfig{
					JWTSecret: os.Getenv("FACTORY_JWT_SECRET"),
					APIToken:  os.Getenv("FACTORY_API_TOKEN"),
					Disabled:  noAuth,
				}
				if !noAuth && authCfg.JWTSecret == "" && authCfg.APIToken == "" {
					return fmt.Errorf("FACTORY_JWT_SECRET or FACTORY_API_TOKEN is required (or pass --no-auth)")
				}
				launcher := pipeline.NewLauncher(a.runner)
				handler, err := server.New(server.Config{
					Engine:   a.engine,
					Agents:   a.agents,
					Runner:   a.runner,
					Launcher: launcher,
					Settings: a.cfg,
					BasePath: basePath,
					Auth:     authCfg,
				})
				if err != nil {
					return err
				}
				sched := server.StartScheduler(a.runner)
				defer sched.Stop()

				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving factory API on http://%s%s\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "disable authentication")
	return cmd
}

// --- helpers ---

// application bundles everything a command needs once the workspace is
// opened and migrated.
type application struct {
	conn    *sql.DB
	cfg     *config.Config
	engine  engine.Engine
	agents  agent.Agents
	runner  pipeline.Runner
	limiter *ratelimit.MemoryLimiter
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
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
	return fn(ctx, engine.New(conn, cfg))
}

func withApp(ctx context.Context, fn func(context.Context, application) error) error {
	workspace := viper.GetString("workspace")
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
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	limiter := ratelimit.NewMemoryLimiter(cfg.Limits.PerService, 10, time.Duration(cfg.Limits.WindowSeconds)*time.Second)
	defer limiter.Close()

	var mailer notify.Mailer = notify.LogMailer{Logger: logger}
	if key := os.Getenv("FACTORY_RESEND_API_KEY"); key != "" {
		mailer = &notify.Resend{APIKey: key, From: cfg.Notify.FromEmail, Limiter: limiter, Logger: logger}
	}

	e := engine.New(conn, cfg)
	agents := agent.Agents{
		Engine: e,
		Repo:   e.Repo,
		Gen: &gen.Gemini{
			APIKey:     os.Getenv("FACTORY_GEMINI_API_KEY"),
			Model:      cfg.Generation.Model,
			Limiter:    limiter,
			MaxRetries: cfg.Generation.MaxRetries,
			Backoff:    time.Duration(cfg.Generation.BackoffBaseMS) * time.Millisecond,
			Logger:     logger,
		},
		Images:    images.Placeholder{Dir: filepath.Join(workspace, ".factory", "images")},
		Mailer:    mailer,
		Publisher: publish.Stub{Limiter: limiter, Logger: logger},
		Config:    cfg,
		Log:       logger,
	}
	runner := pipeline.Runner{
		Agents: agents,
		Engine: e,
		Repo:   e.Repo,
		Events: e.Events,
		Mailer: mailer,
		Config: cfg,
		Log:    logger,
	}
	return fn(ctx, application{
		conn:    conn,
		cfg:     cfg,
		engine:  e,
		agents:  agents,
		runner:  runner,
		limiter: limiter,
	})
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
