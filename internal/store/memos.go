package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/models"
)

// InsertMemoStatements persists tagged analytic statements. Each statement is
// normalised first, so an unsupported OBSERVATION arrives as INTERPRETATION.
func (s *Store) InsertMemoStatements(ctx context.Context, projectID string, stmts []models.MemoStatement) error {
	for i := range stmts {
		stmts[i].Normalize()
		if stmts[i].Text == "" {
			return qerr.Validation("memo statement requires text")
		}
		meta, err := json.Marshal(stmts[i].Metadata)
		if err != nil {
			return fmt.Errorf("marshal memo metadata: %w", err)
		}
		if stmts[i].Metadata == nil {
			meta = []byte("{}")
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO memo_statements (project_id, memo_type, text, evidence_ids, metadata)
			VALUES ($1, $2, $3, $4, $5)`,
			projectID, stmts[i].Type, stmts[i].Text, pq.Array(stmts[i].EvidenceIDs), meta)
		if err != nil {
			return fmt.Errorf("insert memo statement: %w", err)
		}
	}
	return nil
}

// ListMemoStatements returns statements for a project, optionally filtered by
// epistemic type.
func (s *Store) ListMemoStatements(ctx context.Context, projectID string, memoType models.EpistemicType, limit int) ([]models.MemoStatement, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryxContext(ctx, `
		SELECT memo_type, text, evidence_ids, metadata
		FROM memo_statements
		WHERE project_id = $1 AND ($2 = '' OR memo_type = $2)
		ORDER BY created_at DESC LIMIT $3`,
		projectID, string(memoType), limit)
	if err != nil {
		return nil, fmt.Errorf("list memo statements: %w", err)
	}
	defer rows.Close()

	var out []models.MemoStatement
	for rows.Next() {
		var m models.MemoStatement
		var evidence pq.StringArray
		var meta []byte
		if err := rows.Scan(&m.Type, &m.Text, &evidence, &meta); err != nil {
			return nil, err
		}
		m.EvidenceIDs = []string(evidence)
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &m.Metadata)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertComparison stores a constant-comparison memo between two fragments
// under a stable id so the same pair never produces two rows.
func (s *Store) InsertComparison(ctx context.Context, comparisonID, projectID, fragmentA, fragmentB, memo string) error {
	if fragmentA == fragmentB {
		return qerr.Validation("cannot compare a fragment with itself")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fragment_comparisons (comparison_id, project_id, fragment_a, fragment_b, memo)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (comparison_id) DO UPDATE SET memo = EXCLUDED.memo`,
		comparisonID, projectID, fragmentA, fragmentB, memo)
	if err != nil {
		return fmt.Errorf("insert comparison: %w", err)
	}
	return nil
}

// GetComparison loads a stored comparison memo by id.
func (s *Store) GetComparison(ctx context.Context, comparisonID string) (string, error) {
	var memo string
	err := s.db.GetContext(ctx, &memo,
		`SELECT memo FROM fragment_comparisons WHERE comparison_id = $1`, comparisonID)
	if err != nil {
		return "", qerr.NotFoundf("comparison %s not found", comparisonID)
	}
	return memo, nil
}

// UpsertInterviewReport stores the per-interview summary row behind the
// report artifacts surface.
func (s *Store) UpsertInterviewReport(ctx context.Context, projectID, archivo, resumen string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interview_reports (project_id, archivo, resumen)
		VALUES ($1, $2, $3)`,
		projectID, archivo, resumen)
	if err != nil {
		return fmt.Errorf("insert interview report: %w", err)
	}
	return nil
}
