package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/models"
)

// InsertResult reports what happened to a batch of candidate inserts.
type InsertResult struct {
	Inserted   int      `json:"inserted"`
	Duplicates int      `json:"duplicates"`
	Similar    []string `json:"similar,omitempty"`
}

// InsertCandidates adds rows to the validation tray. Duplicate
// (project, fragment, codigo) triples are dropped silently — candidate
// inserts are an idempotent sink for the runner. With checkSimilar the
// result carries near-matching existing code names for the tray UI.
func (s *Store) InsertCandidates(ctx context.Context, rows []*models.CandidateCode, checkSimilar bool) (*InsertResult, error) {
	result := &InsertResult{}
	if len(rows) == 0 {
		return result, nil
	}
	for _, c := range rows {
		// Callers may omit the status; the tray default applies before
		// validation so the omission is not rejected.
		if c.Status == "" {
			c.Status = models.CandidatePendiente
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO candidate_codes
				(project_id, codigo, fragment_id, archivo, cita, source_origin, score_confidence, status, memo)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (project_id, fragment_id, codigo) WHERE fragment_id IS NOT NULL AND status <> 'rechazado'
			DO NOTHING
		`
		for _, c := range rows {
			var fragID interface{}
			if c.FragmentID != nil {
				fragID = *c.FragmentID
			}
			res, err := tx.ExecContext(ctx, query,
				c.ProjectID, c.Codigo, fragID, c.Archivo, c.Cita, c.SourceOrigin, c.ScoreConfidence, c.Status, c.Memo)
			if err != nil {
				return fmt.Errorf("insert candidate %q: %w", c.Codigo, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				result.Inserted++
			} else {
				result.Duplicates++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if checkSimilar {
		similar, err := s.similarCodeNames(ctx, rows)
		if err != nil {
			s.logger.Warn("similar-code check failed", "error", err)
		} else {
			result.Similar = similar
		}
	}
	return result, nil
}

// similarCodeNames flags existing ledger codes sharing a name prefix with the
// batch; a cheap guard against near-duplicate vocabularies.
func (s *Store) similarCodeNames(ctx context.Context, rows []*models.CandidateCode) ([]string, error) {
	seen := map[string]bool{}
	var similar []string
	for _, c := range rows {
		prefix := c.Codigo
		if len(prefix) > 6 {
			prefix = prefix[:6]
		}
		var names []string
		err := s.db.SelectContext(ctx, &names,
			`SELECT DISTINCT codigo FROM candidate_codes
			 WHERE project_id = $1 AND codigo ILIKE $2 || '%' AND codigo <> $3
			 LIMIT 5`,
			c.ProjectID, prefix, c.Codigo)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				similar = append(similar, n)
			}
		}
	}
	return similar, nil
}

// GetCandidate loads one ledger row.
func (s *Store) GetCandidate(ctx context.Context, id int64) (*models.CandidateCode, error) {
	var c models.CandidateCode
	var fragID sql.NullString
	var promotedAt sql.NullTime
	err := s.db.QueryRowxContext(ctx, `
		SELECT id, project_id, codigo, fragment_id, archivo, cita, source_origin,
		       score_confidence, status, memo, promoted_at, created_at
		FROM candidate_codes WHERE id = $1`, id).
		Scan(&c.ID, &c.ProjectID, &c.Codigo, &fragID, &c.Archivo, &c.Cita, &c.SourceOrigin,
			&c.ScoreConfidence, &c.Status, &c.Memo, &promotedAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, qerr.NotFoundf("candidate %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	if fragID.Valid {
		v := fragID.String
		c.FragmentID = &v
	}
	if promotedAt.Valid {
		t := promotedAt.Time
		c.PromotedAt = &t
	}
	return &c, nil
}

// Promote turns a validated candidate into a promoted open code. The open
// code insert and the promoted_at stamp happen in a single transaction.
func (s *Store) Promote(ctx context.Context, candidateID int64, actor string) (*models.OpenCode, error) {
	c, err := s.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if c.Status == models.CandidateRechazado {
		return nil, qerr.Validationf("candidate %d was rejected and cannot be promoted", candidateID)
	}
	if c.FragmentID == nil {
		return nil, qerr.Validationf("candidate %d is a hypothesis without evidence and cannot be promoted", candidateID)
	}

	oc := &models.OpenCode{
		ProjectID:  c.ProjectID,
		Codigo:     c.Codigo,
		FragmentID: *c.FragmentID,
		Archivo:    c.Archivo,
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO open_codes (project_id, codigo, fragment_id, archivo)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (project_id, fragment_id, codigo) DO UPDATE SET archivo = EXCLUDED.archivo
			RETURNING id, created_at`,
			oc.ProjectID, oc.Codigo, oc.FragmentID, oc.Archivo).
			Scan(&oc.ID, &oc.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert open code: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE candidate_codes SET status = 'validado', promoted_at = NOW() WHERE id = $1`,
			candidateID)
		if err != nil {
			return fmt.Errorf("stamp promoted_at: %w", err)
		}
		if c.Archivo != "" {
			if err := s.touchInterview(ctx, tx, c.ProjectID, c.Archivo, time.Now()); err != nil {
				return fmt.Errorf("touch interview: %w", err)
			}
		}
		return s.auditTx(ctx, tx, c.ProjectID, actor, "promote", fmt.Sprintf("candidate:%d", candidateID), c, oc)
	})
	if err != nil {
		return nil, err
	}
	return oc, nil
}

// Reject marks a candidate rejected with an optional reason memo.
func (s *Store) Reject(ctx context.Context, candidateID int64, actor, reason string) error {
	c, err := s.GetCandidate(ctx, candidateID)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE candidate_codes SET status = 'rechazado',
				memo = CASE WHEN $2 <> '' THEN $2 ELSE memo END
			WHERE id = $1`, candidateID, reason)
		if err != nil {
			return fmt.Errorf("reject candidate: %w", err)
		}
		return s.auditTx(ctx, tx, c.ProjectID, actor, "reject", fmt.Sprintf("candidate:%d", candidateID), c, nil)
	})
}

// EditCandidate renames the proposed code before validation.
func (s *Store) EditCandidate(ctx context.Context, candidateID int64, actor, newCodigo string) error {
	if strings.TrimSpace(newCodigo) == "" {
		return qerr.Validation("new code name is empty")
	}
	c, err := s.GetCandidate(ctx, candidateID)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE candidate_codes SET codigo = $2 WHERE id = $1`, candidateID, newCodigo)
		if err != nil {
			return fmt.Errorf("edit candidate: %w", err)
		}
		after := *c
		after.Codigo = newCodigo
		return s.auditTx(ctx, tx, c.ProjectID, actor, "edit", fmt.Sprintf("candidate:%d", candidateID), c, &after)
	})
}

// Merge folds every pending candidate of code `from` into code `to` within a
// project, and repoints promoted rows, deduplicating on conflict.
func (s *Store) Merge(ctx context.Context, projectID, from, to, actor string) error {
	if from == to {
		return qerr.Validation("cannot merge a code into itself")
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		// Candidates whose target pair already exists become duplicates
		// and are rejected rather than renamed.
		_, err := tx.ExecContext(ctx, `
			UPDATE candidate_codes SET status = 'rechazado', memo = 'merged into ' || $3
			WHERE project_id = $1 AND codigo = $2 AND fragment_id IN (
				SELECT fragment_id FROM candidate_codes
				WHERE project_id = $1 AND codigo = $3 AND fragment_id IS NOT NULL
			)`, projectID, from, to)
		if err != nil {
			return fmt.Errorf("merge: reject duplicates: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE candidate_codes SET codigo = $3
			WHERE project_id = $1 AND codigo = $2 AND status <> 'rechazado'`,
			projectID, from, to)
		if err != nil {
			return fmt.Errorf("merge candidates: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM open_codes oc
			WHERE oc.project_id = $1 AND oc.codigo = $2 AND EXISTS (
				SELECT 1 FROM open_codes o2
				WHERE o2.project_id = $1 AND o2.codigo = $3 AND o2.fragment_id = oc.fragment_id
			)`, projectID, from, to)
		if err != nil {
			return fmt.Errorf("merge: drop duplicate open codes: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE open_codes SET codigo = $3 WHERE project_id = $1 AND codigo = $2`,
			projectID, from, to)
		if err != nil {
			return fmt.Errorf("merge open codes: %w", err)
		}
		return s.auditTx(ctx, tx, projectID, actor, "merge", "code:"+from,
			map[string]string{"from": from}, map[string]string{"to": to})
	})
}

// CountPending is the canonical backlog query. The runner snapshots it
// before and after a run; both snapshots must use this method.
func (s *Store) CountPending(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM candidate_codes WHERE project_id = $1 AND status = 'pendiente'`,
		projectID)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// NextCandidate pulls the next tray entry by strategy for the coding flow.
func (s *Store) NextCandidate(ctx context.Context, projectID, archivo, strategy string) (*models.CandidateCode, error) {
	order := "created_at DESC"
	switch strategy {
	case "", "recent":
	case "oldest":
		order = "created_at ASC"
	case "random":
		order = "random()"
	default:
		return nil, qerr.Validationf("unknown next-candidate strategy %q", strategy)
	}
	query := fmt.Sprintf(`
		SELECT id FROM candidate_codes
		WHERE project_id = $1 AND status = 'pendiente' AND ($2 = '' OR archivo = $2)
		ORDER BY %s LIMIT 1`, order)

	var id int64
	err := s.db.GetContext(ctx, &id, query, projectID, archivo)
	if err == sql.ErrNoRows {
		return nil, qerr.NotFound("no pending candidates")
	}
	if err != nil {
		return nil, fmt.Errorf("next candidate: %w", err)
	}
	return s.GetCandidate(ctx, id)
}

// ListCandidates returns tray entries filtered by status.
func (s *Store) ListCandidates(ctx context.Context, projectID string, status models.CandidateStatus, limit int) ([]*models.CandidateCode, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id FROM candidate_codes
		WHERE project_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC LIMIT $3`,
		projectID, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []*models.CandidateCode
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		c, err := s.GetCandidate(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CodingStats summarises the ledger for a project. Empty projects return
// zeros, never an error.
type CodingStats struct {
	Fragments       int `json:"fragments" db:"fragments"`
	CodedFragments  int `json:"coded_fragments" db:"coded_fragments"`
	OpenCodes       int `json:"open_codes" db:"open_codes"`
	DistinctCodes   int `json:"distinct_codes" db:"distinct_codes"`
	PendingTray     int `json:"pending_tray" db:"pending_tray"`
	ValidatedTray   int `json:"validated_tray" db:"validated_tray"`
	RejectedTray    int `json:"rejected_tray" db:"rejected_tray"`
	HypothesesTray  int `json:"hypotheses_tray" db:"hypotheses_tray"`
	AxialRelations  int `json:"axial_relations" db:"axial_relations"`
}

// Stats computes coding statistics for a project.
func (s *Store) Stats(ctx context.Context, projectID string) (*CodingStats, error) {
	var st CodingStats
	err := s.db.GetContext(ctx, &st, `
		SELECT
			(SELECT COUNT(*) FROM fragments WHERE project_id = $1) AS fragments,
			(SELECT COUNT(DISTINCT fragment_id) FROM open_codes WHERE project_id = $1) AS coded_fragments,
			(SELECT COUNT(*) FROM open_codes WHERE project_id = $1) AS open_codes,
			(SELECT COUNT(DISTINCT codigo) FROM open_codes WHERE project_id = $1) AS distinct_codes,
			(SELECT COUNT(*) FROM candidate_codes WHERE project_id = $1 AND status = 'pendiente') AS pending_tray,
			(SELECT COUNT(*) FROM candidate_codes WHERE project_id = $1 AND status = 'validado') AS validated_tray,
			(SELECT COUNT(*) FROM candidate_codes WHERE project_id = $1 AND status = 'rechazado') AS rejected_tray,
			(SELECT COUNT(*) FROM candidate_codes WHERE project_id = $1 AND status = 'hipotesis') AS hypotheses_tray,
			(SELECT COUNT(*) FROM axial_relations WHERE project_id = $1) AS axial_relations`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("coding stats: %w", err)
	}
	return &st, nil
}

// touchInterview bumps updated_at for recency-sensitive orderings.
func (s *Store) touchInterview(ctx context.Context, tx *sqlx.Tx, projectID, archivo string, when time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE interviews SET updated_at = $3 WHERE project_id = $1 AND archivo = $2`,
		projectID, archivo, when)
	return err
}
