package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/urdimbre/urdimbre-go/internal/models"
)

// auditTx appends one audit row inside a caller-owned transaction so the
// mutation and its trail commit together.
func (s *Store) auditTx(ctx context.Context, tx *sqlx.Tx, projectID, actor, action, entity string, before, after any) error {
	beforeJSON, err := marshalState(before)
	if err != nil {
		return err
	}
	afterJSON, err := marshalState(after)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log (project_id, actor, action, entity, before_state, after_state)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		projectID, actor, action, entity, beforeJSON, afterJSON)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Audit appends a standalone audit row outside any mutation transaction.
func (s *Store) Audit(ctx context.Context, projectID, actor, action, entity string, before, after any) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return s.auditTx(ctx, tx, projectID, actor, action, entity, before, after)
	})
}

func marshalState(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal audit state: %w", err)
	}
	return data, nil
}

// ListAudit returns the most recent audit entries for a project, optionally
// filtered by action.
func (s *Store) ListAudit(ctx context.Context, projectID, action string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, project_id, actor, action, entity, before_state, after_state, ts
		FROM audit_log
		WHERE project_id = $1 AND ($2 = '' OR action = $2)
		ORDER BY ts DESC LIMIT $3`,
		projectID, action, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var before, after []byte
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Actor, &e.Action, &e.Entity, &before, &after, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Before = before
		e.After = after
		out = append(out, e)
	}
	return out, rows.Err()
}
