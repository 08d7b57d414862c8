package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ThunderOpsAI/product-automation-engine/internal/config"
	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
	"github.com/ThunderOpsAI/product-automation-engine/internal/events"
	"github.com/ThunderOpsAI/product-automation-engine/internal/repo"
)

var (
	// ErrTaskFinalized is returned when a lifecycle transition targets a
	// task already in a terminal status.
	ErrTaskFinalized = errors.New("task already finalized")
	// ErrApprovalResolved is returned when an approval decision targets
	// an approval that is no longer pending.
	ErrApprovalResolved = errors.New("approval already resolved")
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

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// CreateTask inserts a pending task for one agent stage.
func (e Engine) CreateTask(ctx context.Context, kind domain.AgentKind, priority int, input domain.Payload) (domain.Task, error) {
	if !domain.ValidAgentKind(kind) {
		return domain.Task{}, fmt.Errorf("unknown agent kind %q", kind)
	}
	now := e.timestamp()
	t := domain.Task{
		ID:        uuid.NewString(),
		Type:      kind,
		Status:    domain.TaskPending,
		Priority:  priority,
		Input:     input,
		CreatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,type,status,priority,input,created_at) VALUES (?,?,?,?,?,?)`,
		t.ID, t.Type, t.Status, t.Priority, mustPayloadText(t.Input), t.CreatedAt); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskCreated, t.ID, events.EventPayload{"type": string(kind), "priority": priority}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// StartTask moves a pending task to running.
func (e Engine) StartTask(ctx context.Context, taskID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if domain.TerminalTaskStatus(t.Status) {
		return fmt.Errorf("task %s is %s: %w", taskID, t.Status, ErrTaskFinalized)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status=? WHERE id=?`, domain.TaskRunning, taskID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TaskStarted, taskID, events.EventPayload{"type": string(t.Type)}); err != nil {
		return err
	}
	return tx.Commit()
}

// FailTask finalizes a task as failed with an error message.
func (e Engine) FailTask(ctx context.Context, taskID, message string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if domain.TerminalTaskStatus(t.Status) {
		return fmt.Errorf("task %s is %s: %w", taskID, t.Status, ErrTaskFinalized)
	}
	now := e.timestamp()
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, error_message=?, completed_at=? WHERE id=?`,
		domain.TaskFailed, message, now, taskID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TaskFailed, taskID, events.EventPayload{"type": string(t.Type), "error": message}); err != nil {
		return err
	}
	return tx.Commit()
}

// GateResult reports how the confidence gate disposed of a task.
type GateResult struct {
	Status     string `json:"status"`
	ApprovalID string `json:"approval_id,omitempty"`
	Threshold  float64
}

// Gate is the single completion path for agent output. Confidence at or
// above the stage threshold completes the task; anything below routes it
// to the approvals queue. The task update and the approval insert commit
// in one transaction.
func (e Engine) Gate(ctx context.Context, taskID string, kind domain.AgentKind, output domain.Payload, confidence float64, evidence domain.Payload) (GateResult, error) {
	threshold, err := domain.Threshold(kind)
	if err != nil {
		return GateResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return GateResult{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return GateResult{}, err
	}
	if domain.TerminalTaskStatus(t.Status) {
		return GateResult{}, fmt.Errorf("task %s is %s: %w", taskID, t.Status, ErrTaskFinalized)
	}

	now := e.timestamp()
	t.Output = output
	t.Evidence = evidence
	t.ConfidenceScore = &confidence
	res := GateResult{Threshold: threshold}

	if confidence >= threshold {
		t.Status = domain.TaskCompleted
		t.CompletedAt = &now
		if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
			return GateResult{}, err
		}
		if err := e.Events.Append(ctx, tx, events.TaskCompleted, taskID, events.EventPayload{
			"type":       string(kind),
			"confidence": confidence,
		}); err != nil {
			return GateResult{}, err
		}
		res.Status = domain.TaskCompleted
		if err := tx.Commit(); err != nil {
			return GateResult{}, err
		}
		return res, nil
	}

	t.Status = domain.TaskNeedsApproval
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return GateResult{}, err
	}
	approval := domain.Approval{
		ID:     uuid.NewString(),
		TaskID: taskID,
		System: string(kind),
		Reason: fmt.Sprintf("%s confidence %.1f below threshold %.1f", kind, confidence, threshold),
		Context: domain.Payload{
			"summary":    outputSummary(output),
			"confidence": confidence,
			"threshold":  threshold,
		},
		Status: domain.ApprovalPending,
	}
	if err := e.Repo.InsertApprovalTx(ctx, tx, approval); err != nil {
		return GateResult{}, fmt.Errorf("insert approval: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskNeedsReview, taskID, events.EventPayload{
		"type":        string(kind),
		"confidence":  confidence,
		"threshold":   threshold,
		"approval_id": approval.ID,
	}); err != nil {
		return GateResult{}, err
	}
	res.Status = domain.TaskNeedsApproval
	res.ApprovalID = approval.ID
	if err := tx.Commit(); err != nil {
		return GateResult{}, err
	}
	return res, nil
}

// outputSummary condenses gated output for reviewers: a title or niche
// when present, an item count for list-shaped output, otherwise the
// first few keys.
func outputSummary(output domain.Payload) string {
	if output == nil {
		return "no output"
	}
	if v, ok := output["title"].(string); ok && v != "" {
		return v
	}
	if v, ok := output["niche"].(string); ok && v != "" {
		return v
	}
	for _, v := range output {
		if items, ok := v.([]any); ok {
			return fmt.Sprintf("%d items", len(items))
		}
	}
	keys := make([]string, 0, len(output))
	for k := range output {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 5 {
		keys = keys[:5]
	}
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += k
	}
	return out
}

// Approve resolves a pending approval and completes its task.
func (e Engine) Approve(ctx context.Context, approvalID, reviewer string) (domain.Task, error) {
	return e.resolve(ctx, approvalID, reviewer, "", true)
}

// Reject resolves a pending approval and fails its task.
func (e Engine) Reject(ctx context.Context, approvalID, reviewer, note string) (domain.Task, error) {
	return e.resolve(ctx, approvalID, reviewer, note, false)
}

func (e Engine) resolve(ctx context.Context, approvalID, reviewer, note string, approve bool) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetApprovalTx(ctx, tx, approvalID)
	if err != nil {
		return domain.Task{}, err
	}
	if a.Status != domain.ApprovalPending {
		return domain.Task{}, fmt.Errorf("approval %s is %s: %w", approvalID, a.Status, ErrApprovalResolved)
	}
	t, err := e.Repo.GetTaskTx(ctx, tx, a.TaskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.TaskNeedsApproval {
		return domain.Task{}, fmt.Errorf("task %s is %s: %w", t.ID, t.Status, ErrTaskFinalized)
	}

	now := e.timestamp()
	a.ReviewedBy = reviewer
	a.ReviewedAt = &now
	t.CompletedAt = &now
	if approve {
		a.Status = domain.ApprovalApproved
		t.Status = domain.TaskCompleted
	} else {
		a.Status = domain.ApprovalRejected
		t.Status = domain.TaskFailed
		t.ErrorMessage = fmt.Sprintf("rejected by %s", reviewer)
		if note != "" {
			t.ErrorMessage += ": " + note
		}
	}
	if err := e.Repo.UpdateApprovalTx(ctx, tx, a); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ApprovalResolved, approvalID, events.EventPayload{
		"task_id":  t.ID,
		"status":   a.Status,
		"reviewer": reviewer,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ReconcileStale fails running tasks older than the configured limit.
// Recovers from crashed runs that left tasks permanently running.
func (e Engine) ReconcileStale(ctx context.Context) ([]string, error) {
	minutes := 60
	if e.Config != nil && e.Config.Pipeline.StaleTaskMinutes > 0 {
		minutes = e.Config.Pipeline.StaleTaskMinutes
	}
	cutoff := e.now().UTC().Add(-time.Duration(minutes) * time.Minute).Format(time.RFC3339)
	stale, err := e.Repo.StaleRunningTasks(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	var failed []string
	for _, t := range stale {
		if err := e.FailTask(ctx, t.ID, fmt.Sprintf("stale: still running after %dm", minutes)); err != nil {
			if errors.Is(err, ErrTaskFinalized) {
				continue
			}
			return failed, err
		}
		failed = append(failed, t.ID)
	}
	return failed, nil
}

func mustPayloadText(p domain.Payload) string {
	s, err := p.MarshalText()
	if err != nil {
		return "{}"
	}
	return s
}
