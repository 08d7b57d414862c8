// Package server exposes the factory HTTP API. Errors use a single
// envelope with a machine code plus human message; pipeline launches
// return 202 and run in the background.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ThunderOpsAI/product-automation-engine/internal/agent"
	"github.com/ThunderOpsAI/product-automation-engine/internal/config"
	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
	"github.com/ThunderOpsAI/product-automation-engine/internal/engine"
	"github.com/ThunderOpsAI/product-automation-engine/internal/events"
	"github.com/ThunderOpsAI/product-automation-engine/internal/pipeline"
	"github.com/ThunderOpsAI/product-automation-engine/internal/ratelimit"
	"github.com/ThunderOpsAI/product-automation-engine/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Agents   agent.Agents
	Runner   pipeline.Runner
	Launcher *pipeline.Launcher
	Settings *config.Config
	BasePath string
	Auth     AuthConfig
	Limiter  ratelimit.Limiter
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the factory API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
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
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	if cfg.Limiter != nil {
		router.Use(ratelimit.Middleware(cfg.Limiter))
	}
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Product Factory API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerTasks(group, cfg.Engine)
	registerApprovals(group, cfg.Engine)
	registerPipeline(group, cfg)
	registerSupport(group, cfg)
	registerCatalog(group, cfg.Engine.Repo)
	registerMetrics(group, cfg)
	registerEvents(group, cfg.Engine.Events)

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
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrTaskFinalized):
		return newAPIError(http.StatusConflict, "task_finalized", err.Error(), nil)
	case errors.Is(err, engine.ErrApprovalResolved):
		return newAPIError(http.StatusConflict, "approval_resolved", err.Error(), nil)
	case errors.Is(err, pipeline.ErrBusy):
		return newAPIError(http.StatusTooManyRequests, "pipeline_busy", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
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
	case http.StatusTooManyRequests:
		return "rate_limited"
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

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if input.Body.Type == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "type is required", nil)
		}
		priority := 5
		if input.Body.Priority != nil {
			priority = *input.Body.Priority
		}
		t, err := e.CreateTask(ctx, domain.AgentKind(input.Body.Type), priority, input.Body.Input)
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
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type"`
		Status string `query:"status"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			Type:   input.Type,
			Status: input.Status,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconcile-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/reconcile",
		Summary:     "Fail stale running tasks",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ReconcileResponse `json:"body"`
	}, error) {
		failed, err := e.ReconcileStale(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReconcileResponse `json:"body"`
		}{Body: ReconcileResponse{FailedTaskIDs: failed, Count: len(failed)}}, nil
	})
}

func registerApprovals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-approvals",
		Method:      http.MethodGet,
		Path:        "/approvals",
		Summary:     "List approvals",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" default:"pending"`
		System string `query:"system"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Approval `json:"body"`
	}, error) {
		items, err := e.Repo.ListApprovals(ctx, repo.ApprovalFilters{
			Status: input.Status,
			System: input.System,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Approval `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-approval",
		Method:      http.MethodPost,
		Path:        "/approvals/{id}/approve",
		Summary:     "Approve a pending item",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ResolveApprovalRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		reviewer := reviewerFor(ctx, input.Body.Reviewer)
		if reviewer == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "reviewer is required", nil)
		}
		t, err := e.Approve(ctx, input.ID, reviewer)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-approval",
		Method:      http.MethodPost,
		Path:        "/approvals/{id}/reject",
		Summary:     "Reject a pending item",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ResolveApprovalRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		reviewer := reviewerFor(ctx, input.Body.Reviewer)
		if reviewer == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "reviewer is required", nil)
		}
		t, err := e.Reject(ctx, input.ID, reviewer, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerPipeline(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "run-pipeline",
		Method:        http.MethodPost,
		Path:          "/pipeline/daily",
		Summary:       "Launch a daily production run",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusUnauthorized, http.StatusTooManyRequests},
	}, func(ctx context.Context, input *struct {
		Body RunPipelineRequest `json:"body"`
	}) (*struct {
		Body AcceptedResponse `json:"body"`
	}, error) {
		if err := cfg.Launcher.LaunchDaily(ctx, input.Body.MaxNiches); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AcceptedResponse `json:"body"`
		}{Body: AcceptedResponse{Status: "accepted"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "run-optimization",
		Method:        http.MethodPost,
		Path:          "/pipeline/optimize",
		Summary:       "Launch an optimization pass",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusUnauthorized, http.StatusTooManyRequests},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AcceptedResponse `json:"body"`
	}, error) {
		if err := cfg.Launcher.LaunchOptimization(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AcceptedResponse `json:"body"`
		}{Body: AcceptedResponse{Status: "accepted"}}, nil
	})
}

func registerSupport(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "incoming-support",
		Method:        http.MethodPost,
		Path:          "/support/incoming",
		Summary:       "Ingest a support message and triage it",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body IncomingSupportRequest `json:"body"`
	}) (*struct {
		Body IncomingSupportResponse `json:"body"`
	}, error) {
		if input.Body.Message == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "message is required", nil)
		}
		e := cfg.Engine
		ticket := domain.SupportTicket{
			ID:            uuid.NewString(),
			SaleID:        input.Body.SaleID,
			Platform:      input.Body.Platform,
			CustomerEmail: input.Body.CustomerEmail,
			Message:       input.Body.Message,
			CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertSupportTicket(ctx, ticket); err != nil {
			return nil, handleError(err)
		}
		t, err := e.CreateTask(ctx, domain.AgentSupportTriage, 5, domain.Payload{"ticket_id": ticket.ID})
		if err != nil {
			return nil, handleError(err)
		}
		log := cfg.Runner.Log
		if log == nil {
			log = slog.Default()
		}
		go func(taskID, ticketID string) {
			bctx := context.WithoutCancel(ctx)
			if _, _, err := cfg.Agents.TriageTicket(bctx, taskID, ticketID); err != nil {
				log.Error("support triage failed", "ticket", ticketID, "err", err)
			}
		}(t.ID, ticket.ID)
		return &struct {
			Body IncomingSupportResponse `json:"body"`
		}{Body: IncomingSupportResponse{TicketID: ticket.ID, TaskID: t.ID}}, nil
	})
}

func registerCatalog(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-products",
		Method:      http.MethodGet,
		Path:        "/products",
		Summary:     "List products",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Niche  string `query:"niche"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Product `json:"body"`
	}, error) {
		items, err := r.ListProducts(ctx, repo.ProductFilters{Status: input.Status, Niche: input.Niche, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Product `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-listings",
		Method:      http.MethodGet,
		Path:        "/listings",
		Summary:     "List listings",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		Platform string `query:"platform"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Listing `json:"body"`
	}, error) {
		items, err := r.ListListings(ctx, repo.ListingFilters{Status: input.Status, Platform: input.Platform, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Listing `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-experiments",
		Method:      http.MethodGet,
		Path:        "/experiments",
		Summary:     "List experiments",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ListingID string `query:"listing_id"`
		Status    string `query:"status"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Experiment `json:"body"`
	}, error) {
		items, err := r.ListExperiments(ctx, repo.ExperimentFilters{ListingID: input.ListingID, Status: input.Status, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Experiment `json:"body"`
		}{Body: items}, nil
	})
}

func registerMetrics(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-daily-metrics",
		Method:      http.MethodGet,
		Path:        "/metrics/daily",
		Summary:     "List daily revenue metrics",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Since string `query:"since"`
		Until string `query:"until"`
	}) (*struct {
		Body []domain.DailyMetric `json:"body"`
	}, error) {
		items, err := cfg.Engine.Repo.ListDailyMetrics(ctx, input.Since, input.Until)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.DailyMetric `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-daily-summary",
		Method:      http.MethodPost,
		Path:        "/notifications/daily-summary",
		Summary:     "Snapshot today's metrics and mail the digest",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.DailyMetric `json:"body"`
	}, error) {
		metric, err := cfg.Runner.DailySummary(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DailyMetric `json:"body"`
		}{Body: metric}, nil
	})
}

func registerEvents(api huma.API, w events.Writer) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Kind  string `query:"kind"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body []events.Event `json:"body"`
	}, error) {
		items, err := w.Latest(ctx, input.Limit, input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []events.Event `json:"body"`
		}{Body: items}, nil
	})
}
