package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event kinds recorded by the engine and the pipeline.
const (
	TaskCreated      = "task.created"
	TaskStarted      = "task.started"
	TaskCompleted    = "task.completed"
	TaskNeedsReview  = "task.needs_approval"
	TaskFailed       = "task.failed"
	ApprovalResolved = "approval.resolved"
	PipelineStarted  = "pipeline.started"
	PipelineFinished = "pipeline.finished"
	ExperimentOpened = "experiment.started"
	ExperimentClosed = "experiment.completed"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside the caller's transaction so the event
// commits or rolls back together with the state change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, kind, refID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,kind,ref_id,payload) VALUES (?,?,?,?)`,
		ts, kind, refID, string(data))
	return err
}

// Record opens its own short transaction for callers without one.
func (w Writer) Record(ctx context.Context, kind, refID string, payload EventPayload) error {
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, kind, refID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// Event is one append-only audit row.
type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Kind    string `json:"kind"`
	RefID   string `json:"ref_id,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// Latest returns the most recent events, newest first, optionally
// filtered by kind.
func (w Writer) Latest(ctx context.Context, limit int, kind string) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,ts,kind,ref_id,payload FROM events`
	var args []any
	if kind != "" {
		query += ` WHERE kind=?`
		args = append(args, kind)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := w.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Kind, &e.RefID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
