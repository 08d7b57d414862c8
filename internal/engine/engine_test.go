package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThunderOpsAI/product-automation-engine/internal/config"
	"github.com/ThunderOpsAI/product-automation-engine/internal/db"
	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
	"github.com/ThunderOpsAI/product-automation-engine/internal/engine"
	"github.com/ThunderOpsAI/product-automation-engine/internal/migrate"
	"github.com/ThunderOpsAI/product-automation-engine/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	env := &testEnv{Ctx: context.Background(), Now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return env.Now }
	env.Engine = eng
	return env
}

func (env *testEnv) startedTask(t *testing.T, kind domain.AgentKind) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, kind, 5, nil)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := env.Engine.StartTask(env.Ctx, task.ID); err != nil {
		t.Fatalf("start task: %v", err)
	}
	return task
}

func TestGateCompletesAboveThreshold(t *testing.T) {
	env := newTestEnv(t)
	task := env.startedTask(t, domain.AgentMarketIntel)

	res, err := env.Engine.Gate(env.Ctx, task.ID, domain.AgentMarketIntel,
		domain.Payload{"briefs": []any{}}, 8.5, domain.Payload{"total_briefs": 3})
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if res.Status != domain.TaskCompleted {
		t.Fatalf("status = %q, want completed", res.Status)
	}
	if res.ApprovalID != "" {
		t.Fatalf("unexpected approval %q", res.ApprovalID)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TaskCompleted || got.CompletedAt == nil {
		t.Fatalf("task not finalized: %+v", got)
	}
	if got.ConfidenceScore == nil || *got.ConfidenceScore != 8.5 {
		t.Fatalf("confidence not stored: %+v", got.ConfidenceScore)
	}
}

func TestGateQueuesBelowThreshold(t *testing.T) {
	env := newTestEnv(t)
	task := env.startedTask(t, domain.AgentEnhancement)

	// enhancement threshold is 8
	res, err := env.Engine.Gate(env.Ctx, task.ID, domain.AgentEnhancement,
		domain.Payload{"product_id": "p1"}, 7.0, nil)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if res.Status != domain.TaskNeedsApproval || res.ApprovalID == "" {
		t.Fatalf("got %+v, want needs_approval with approval id", res)
	}
	a, err := env.Engine.Repo.GetApproval(env.Ctx, res.ApprovalID)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != domain.ApprovalPending || a.System != "enhancement" {
		t.Fatalf("approval = %+v", a)
	}
	if a.Reason != "enhancement confidence 7.0 below threshold 8.0" {
		t.Fatalf("reason = %q", a.Reason)
	}
}

func TestGateApprovalContextSummarizesOutput(t *testing.T) {
	env := newTestEnv(t)
	task := env.startedTask(t, domain.AgentEnhancement)

	res, err := env.Engine.Gate(env.Ctx, task.ID, domain.AgentEnhancement,
		domain.Payload{"niche": "productivity planners", "files": []any{"a", "b"}}, 6.0, nil)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	a, err := env.Engine.Repo.GetApproval(env.Ctx, res.ApprovalID)
	if err != nil {
		t.Fatal(err)
	}
	if a.Context["summary"] != "productivity planners" {
		t.Fatalf("summary = %v", a.Context["summary"])
	}
	// The snapshot stays small for reviewers; the full output lives on
	// the task row.
	if _, ok := a.Context["output"]; ok {
		t.Fatal("approval context must not embed the full output payload")
	}
}

func TestGateExactThresholdCompletes(t *testing.T) {
	env := newTestEnv(t)
	task := env.startedTask(t, domain.AgentOptimization)

	// optimization threshold is 6; equal counts as passing
	res, err := env.Engine.Gate(env.Ctx, task.ID, domain.AgentOptimization, nil, 6.0, nil)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if res.Status != domain.TaskCompleted {
		t.Fatalf("status = %q, want completed", res.Status)
	}
}

func TestGateRejectsFinalizedTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.startedTask(t, domain.AgentMarketIntel)
	if _, err := env.Engine.Gate(env.Ctx, task.ID, domain.AgentMarketIntel, nil, 9, nil); err != nil {
		t.Fatalf("first gate: %v", err)
	}
	_, err := env.Engine.Gate(env.Ctx, task.ID, domain.AgentMarketIntel, nil, 9, nil)
	if !errors.Is(err, engine.ErrTaskFinalized) {
		t.Fatalf("err = %v, want ErrTaskFinalized", err)
	}
}

func TestApproveCompletesTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.startedTask(t, domain.AgentBranding)
	res, err := env.Engine.Gate(env.Ctx, task.ID, domain.AgentBranding, domain.Payload{"x": 1}, 4, nil)
	if err != nil {
		t.Fatal(err)
	}

	got, err := env.Engine.Approve(env.Ctx, res.ApprovalID, "alex")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != domain.TaskCompleted {
		t.Fatalf("task status = %q", got.Status)
	}
	a, err := env.Engine.Repo.GetApproval(env.Ctx, res.ApprovalID)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != domain.ApprovalApproved || a.ReviewedBy != "alex" {
		t.Fatalf("approval = %+v", a)
	}

	// second resolution conflicts
	if _, err := env.Engine.Reject(env.Ctx, res.ApprovalID, "sam", ""); !errors.Is(err, engine.ErrApprovalResolved) {
		t.Fatalf("err = %v, want ErrApprovalResolved", err)
	}
}

func TestRejectFailsTaskWithReviewerMessage(t *testing.T) {
	env := newTestEnv(t)
	task := env.startedTask(t, domain.AgentListing)
	res, err := env.Engine.Gate(env.Ctx, task.ID, domain.AgentListing, nil, 3, nil)
	if err != nil {
		t.Fatal(err)
	}

	got, err := env.Engine.Reject(env.Ctx, res.ApprovalID, "sam", "weak copy")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != domain.TaskFailed {
		t.Fatalf("task status = %q", got.Status)
	}
	if got.ErrorMessage != "rejected by sam: weak copy" {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
}

func TestRejectWithoutNote(t *testing.T) {
	env := newTestEnv(t)
	task := env.startedTask(t, domain.AgentSupportTriage)
	res, err := env.Engine.Gate(env.Ctx, task.ID, domain.AgentSupportTriage, nil, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.Reject(env.Ctx, res.ApprovalID, "sam", "")
	if err != nil {
		t.Fatal(err)
	}
	if got.ErrorMessage != "rejected by sam" {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
}

func TestReconcileStaleFailsOldRunningTasks(t *testing.T) {
	env := newTestEnv(t)
	stale := env.startedTask(t, domain.AgentMarketIntel)

	// advance past the 60 minute cutoff, then start a fresh task
	env.Now = env.Now.Add(2 * time.Hour)
	fresh := env.startedTask(t, domain.AgentBranding)

	failed, err := env.Engine.ReconcileStale(env.Ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(failed) != 1 || failed[0] != stale.ID {
		t.Fatalf("failed = %v, want [%s]", failed, stale.ID)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, stale.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TaskFailed {
		t.Fatalf("stale task status = %q", got.Status)
	}
	f, err := env.Engine.Repo.GetTask(env.Ctx, fresh.ID)
	if err != nil {
		t.Fatal(err)
	}
	if f.Status != domain.TaskRunning {
		t.Fatalf("fresh task status = %q", f.Status)
	}
}

func TestCreateTaskRejectsUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTask(env.Ctx, domain.AgentKind("mystery"), 5, nil); err == nil {
		t.Fatal("expected error for unknown agent kind")
	}
}

func TestOnePendingApprovalPerTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.startedTask(t, domain.AgentBranding)
	res, err := env.Engine.Gate(env.Ctx, task.ID, domain.AgentBranding, nil, 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	pending, err := env.Engine.Repo.PendingApprovalForTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if pending.ID != res.ApprovalID {
		t.Fatalf("pending = %s, want %s", pending.ID, res.ApprovalID)
	}
	if _, err := env.Engine.Repo.PendingApprovalForTask(env.Ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
