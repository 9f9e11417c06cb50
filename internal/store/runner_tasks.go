package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
)

// RunnerTaskRow mirrors a runner task in the relational store so operators
// can query runs with SQL. The bolt registry stays authoritative.
type RunnerTaskRow struct {
	TaskID      string          `json:"task_id" db:"task_id"`
	ProjectID   string          `json:"project_id" db:"project_id"`
	OwnerUser   string          `json:"owner_user" db:"owner_user"`
	OwnerOrg    string          `json:"owner_org" db:"owner_org"`
	Status      string          `json:"status" db:"status"`
	Saturated   bool            `json:"saturated" db:"saturated"`
	ResumedFrom sql.NullString  `json:"resumed_from" db:"resumed_from"`
	Checkpoint  json.RawMessage `json:"checkpoint,omitempty" db:"checkpoint"`
}

// MirrorRunnerTask upserts the relational mirror of a task.
func (s *Store) MirrorRunnerTask(ctx context.Context, row *RunnerTaskRow) error {
	var resumedFrom interface{}
	if row.ResumedFrom.Valid {
		resumedFrom = row.ResumedFrom.String
	}
	checkpoint := row.Checkpoint
	if len(checkpoint) == 0 {
		checkpoint = json.RawMessage("null")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runner_tasks (task_id, project_id, owner_user, owner_org, status, saturated, resumed_from, checkpoint)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (task_id) DO UPDATE SET
			status = EXCLUDED.status,
			saturated = EXCLUDED.saturated,
			checkpoint = EXCLUDED.checkpoint,
			updated_at = NOW()`,
		row.TaskID, row.ProjectID, row.OwnerUser, row.OwnerOrg, row.Status, row.Saturated, resumedFrom, []byte(checkpoint))
	if err != nil {
		return fmt.Errorf("mirror runner task: %w", err)
	}
	return nil
}

// ListRunnerTasks returns mirrored tasks for a project, most recent first.
func (s *Store) ListRunnerTasks(ctx context.Context, projectID string, limit int) ([]RunnerTaskRow, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []RunnerTaskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT task_id, project_id, owner_user, owner_org, status, saturated, resumed_from, checkpoint
		FROM runner_tasks WHERE project_id = $1
		ORDER BY updated_at DESC LIMIT $2`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runner tasks: %w", err)
	}
	return rows, nil
}

// GetRunnerTaskMirror loads one mirrored task.
func (s *Store) GetRunnerTaskMirror(ctx context.Context, taskID string) (*RunnerTaskRow, error) {
	var row RunnerTaskRow
	err := s.db.GetContext(ctx, &row, `
		SELECT task_id, project_id, owner_user, owner_org, status, saturated, resumed_from, checkpoint
		FROM runner_tasks WHERE task_id = $1`, taskID)
	if err == sql.ErrNoRows {
		return nil, qerr.NotFoundf("task %s not found", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("get runner task mirror: %w", err)
	}
	return &row, nil
}
