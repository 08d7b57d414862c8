package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
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

func payloadText(p domain.Payload) (string, error) {
	return p.MarshalText()
}

const taskColumns = `id,type,status,priority,input,output,evidence,confidence_score,error_message,created_at,completed_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var input, output, evidence string
	var confidence sql.NullFloat64
	var completedAt sql.NullString
	err := scan(&t.ID, &t.Type, &t.Status, &t.Priority, &input, &output, &evidence, &confidence, &t.ErrorMessage, &t.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if t.Input, err = domain.ParsePayload(input); err != nil {
		return t, fmt.Errorf("task %s input: %w", t.ID, err)
	}
	if t.Output, err = domain.ParsePayload(output); err != nil {
		return t, fmt.Errorf("task %s output: %w", t.ID, err)
	}
	if t.Evidence, err = domain.ParsePayload(evidence); err != nil {
		return t, fmt.Errorf("task %s evidence: %w", t.ID, err)
	}
	if confidence.Valid {
		t.ConfidenceScore = &confidence.Float64
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	input, err := payloadText(t.Input)
	if err != nil {
		return err
	}
	output, err := payloadText(t.Output)
	if err != nil {
		return err
	}
	evidence, err := payloadText(t.Evidence)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Type, t.Status, t.Priority, input, output, evidence, nullableFloatPtr(t.ConfidenceScore), t.ErrorMessage, t.CreatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

// UpdateTaskStatus sets status only; used when a task starts running.
func (r Repo) UpdateTaskStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTaskTx rewrites a task's mutable fields inside a transaction.
func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	output, err := payloadText(t.Output)
	if err != nil {
		return err
	}
	evidence, err := payloadText(t.Evidence)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE tasks SET status=?, output=?, evidence=?, confidence_score=?, error_message=?, completed_at=? WHERE id=?`,
		t.Status, output, evidence, nullableFloatPtr(t.ConfidenceScore), t.ErrorMessage, nullableStringPtr(t.CompletedAt), t.ID)
	return err
}

type TaskFilters struct {
	Type   string
	Status string
	Limit  int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// StaleRunningTasks returns running tasks created at or before the cutoff.
func (r Repo) StaleRunningTasks(ctx context.Context, cutoff string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status='running' AND created_at<=? ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
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
	return res, rows.Err()
}

const approvalColumns = `id,task_id,system,reason,context,status,reviewed_by,reviewed_at`

func scanApproval(scan func(dest ...any) error) (domain.Approval, error) {
	var a domain.Approval
	var contextText string
	var reviewedAt sql.NullString
	err := scan(&a.ID, &a.TaskID, &a.System, &a.Reason, &contextText, &a.Status, &a.ReviewedBy, &reviewedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if a.Context, err = domain.ParsePayload(contextText); err != nil {
		return a, fmt.Errorf("approval %s context: %w", a.ID, err)
	}
	if reviewedAt.Valid {
		a.ReviewedAt = &reviewedAt.String
	}
	return a, nil
}

func (r Repo) InsertApprovalTx(ctx context.Context, tx *sql.Tx, a domain.Approval) error {
	contextText, err := payloadText(a.Context)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO approvals_queue(`+approvalColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.TaskID, a.System, a.Reason, contextText, a.Status, a.ReviewedBy, nullableStringPtr(a.ReviewedAt))
	return err
}

func (r Repo) GetApproval(ctx context.Context, id string) (domain.Approval, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals_queue WHERE id=?`, id)
	return scanApproval(row.Scan)
}

func (r Repo) GetApprovalTx(ctx context.Context, tx *sql.Tx, id string) (domain.Approval, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals_queue WHERE id=?`, id)
	return scanApproval(row.Scan)
}

func (r Repo) UpdateApprovalTx(ctx context.Context, tx *sql.Tx, a domain.Approval) error {
	_, err := tx.ExecContext(ctx, `UPDATE approvals_queue SET status=?, reviewed_by=?, reviewed_at=? WHERE id=?`,
		a.Status, a.ReviewedBy, nullableStringPtr(a.ReviewedAt), a.ID)
	return err
}

type ApprovalFilters struct {
	Status string
	System string
	Limit  int
}

func (r Repo) ListApprovals(ctx context.Context, f ApprovalFilters) ([]domain.Approval, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.System != "" {
		clauses = append(clauses, "system=?")
		args = append(args, f.System)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + approvalColumns + ` FROM approvals_queue ` + where + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Approval
	for rows.Next() {
		a, err := scanApproval(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// PendingApprovalForTask returns the single pending approval for a task,
// or ErrNotFound when none exists.
func (r Repo) PendingApprovalForTask(ctx context.Context, taskID string) (domain.Approval, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals_queue WHERE task_id=? AND status='pending'`, taskID)
	return scanApproval(row.Scan)
}
