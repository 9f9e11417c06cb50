package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/models"
)

type fragmentRow struct {
	FragmentID string         `db:"fragment_id"`
	ProjectID  string         `db:"project_id"`
	Archivo    string         `db:"archivo"`
	ParIdx     int            `db:"par_idx"`
	Speaker    sql.NullString `db:"speaker"`
	Text       string         `db:"text"`
	CharLen    int            `db:"char_len"`
	Metadata   []byte         `db:"metadata"`
	CreatedAt  sql.NullTime   `db:"created_at"`
}

func (r fragmentRow) toModel() *models.Fragment {
	f := &models.Fragment{
		FragmentID: r.FragmentID,
		ProjectID:  r.ProjectID,
		Archivo:    r.Archivo,
		ParIdx:     r.ParIdx,
		Text:       r.Text,
		CharLen:    r.CharLen,
	}
	if r.Speaker.Valid {
		sp := r.Speaker.String
		f.Speaker = &sp
	}
	if r.CreatedAt.Valid {
		f.CreatedAt = r.CreatedAt.Time
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &f.Metadata)
	}
	return f
}

// UpsertFragments writes fragments idempotently; re-ingesting the same
// document leaves the row count unchanged.
func (s *Store) UpsertFragments(ctx context.Context, fragments []*models.Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO fragments (fragment_id, project_id, archivo, par_idx, speaker, text, char_len, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (project_id, fragment_id) DO UPDATE SET
				text = EXCLUDED.text,
				char_len = EXCLUDED.char_len,
				speaker = EXCLUDED.speaker,
				updated_at = NOW()
		`
		for _, f := range fragments {
			meta, err := json.Marshal(f.Metadata)
			if err != nil {
				return fmt.Errorf("marshal fragment metadata: %w", err)
			}
			if f.Metadata == nil {
				meta = []byte("{}")
			}
			var speaker interface{}
			if f.Speaker != nil {
				speaker = *f.Speaker
			}
			if _, err := tx.ExecContext(ctx, query,
				f.FragmentID, f.ProjectID, f.Archivo, f.ParIdx, speaker, f.Text, f.CharLen, meta); err != nil {
				return fmt.Errorf("upsert fragment %s: %w", f.FragmentID, err)
			}
		}
		return nil
	})
}

// GetFragment loads one fragment by its tenant-scoped key.
func (s *Store) GetFragment(ctx context.Context, projectID, fragmentID string) (*models.Fragment, error) {
	var row fragmentRow
	err := s.db.GetContext(ctx, &row,
		`SELECT fragment_id, project_id, archivo, par_idx, speaker, text, char_len, metadata, created_at
		 FROM fragments WHERE project_id = $1 AND fragment_id = $2`,
		projectID, fragmentID)
	if err == sql.ErrNoRows {
		return nil, qerr.NotFoundf("fragment %s not found in project %s", fragmentID, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("get fragment: %w", err)
	}
	return row.toModel(), nil
}

// ListFragmentIDs returns the fragment ids of one interview in paragraph
// order; the runner walks interviews through this.
func (s *Store) ListFragmentIDs(ctx context.Context, projectID, archivo string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT fragment_id FROM fragments WHERE project_id = $1 AND archivo = $2 ORDER BY par_idx`,
		projectID, archivo)
	if err != nil {
		return nil, fmt.Errorf("list fragment ids: %w", err)
	}
	return ids, nil
}

// FilterExistingFragments returns the subset of ids present in the relational
// store. The runner uses this to drop vector-store orphans before acting on
// suggestions.
func (s *Store) FilterExistingFragments(ctx context.Context, projectID string, ids []string) (map[string]bool, error) {
	exists := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return exists, nil
	}
	var found []string
	err := s.db.SelectContext(ctx, &found,
		`SELECT fragment_id FROM fragments WHERE project_id = $1 AND fragment_id = ANY($2)`,
		projectID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("filter fragments: %w", err)
	}
	for _, id := range found {
		exists[id] = true
	}
	return exists, nil
}

// UpdateFragmentMetadata merges new keys into the metadata map. Metadata is
// the only mutable part of a fragment.
func (s *Store) UpdateFragmentMetadata(ctx context.Context, projectID, fragmentID string, patch map[string]any) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal metadata patch: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE fragments SET metadata = metadata || $3::jsonb, updated_at = NOW()
		 WHERE project_id = $1 AND fragment_id = $2`,
		projectID, fragmentID, data)
	if err != nil {
		return fmt.Errorf("update fragment metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return qerr.NotFoundf("fragment %s not found in project %s", fragmentID, projectID)
	}
	return nil
}

// DeleteFragment removes a fragment; open codes cascade in the relational
// store, the caller sweeps the vector and graph representations.
func (s *Store) DeleteFragment(ctx context.Context, projectID, fragmentID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM fragments WHERE project_id = $1 AND fragment_id = $2`,
		projectID, fragmentID)
	if err != nil {
		return fmt.Errorf("delete fragment: %w", err)
	}
	return nil
}

// CountFragments returns the number of fragments in a project.
func (s *Store) CountFragments(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM fragments WHERE project_id = $1`, projectID)
	if err != nil {
		return 0, fmt.Errorf("count fragments: %w", err)
	}
	return n, nil
}

// UpsertInterview registers or touches an interview row at ingest time.
func (s *Store) UpsertInterview(ctx context.Context, projectID, archivo, areaTematica, actorPrincipal string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interviews (project_id, archivo, area_tematica, actor_principal)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, archivo) DO UPDATE SET
			area_tematica = CASE WHEN EXCLUDED.area_tematica <> '' THEN EXCLUDED.area_tematica ELSE interviews.area_tematica END,
			actor_principal = CASE WHEN EXCLUDED.actor_principal <> '' THEN EXCLUDED.actor_principal ELSE interviews.actor_principal END,
			updated_at = NOW()`,
		projectID, archivo, areaTematica, actorPrincipal)
	if err != nil {
		return fmt.Errorf("upsert interview: %w", err)
	}
	return nil
}

// ListInterviews returns interview summaries with fragment and coded counts.
func (s *Store) ListInterviews(ctx context.Context, projectID string) ([]models.InterviewInfo, error) {
	var rows []models.InterviewInfo
	err := s.db.SelectContext(ctx, &rows, `
		SELECT i.archivo, i.project_id, i.area_tematica, i.actor_principal, i.ingested_at, i.updated_at,
		       COUNT(DISTINCT f.fragment_id) AS fragments,
		       COUNT(DISTINCT o.fragment_id) AS coded_fragments
		FROM interviews i
		LEFT JOIN fragments f ON f.project_id = i.project_id AND f.archivo = i.archivo
		LEFT JOIN open_codes o ON o.project_id = f.project_id AND o.fragment_id = f.fragment_id
		WHERE i.project_id = $1
		GROUP BY i.archivo, i.project_id, i.area_tematica, i.actor_principal, i.ingested_at, i.updated_at
		ORDER BY i.ingested_at`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("list interviews: %w", err)
	}
	return rows, nil
}

// LexicalRank scores a candidate pool of fragments against a query using the
// full-text index; this is the BM25 leg of hybrid retrieval. Scores are raw
// ts_rank values, normalised by the caller against the pool maximum.
func (s *Store) LexicalRank(ctx context.Context, projectID, query string, fragmentIDs []string) (map[string]float64, error) {
	ranks := make(map[string]float64, len(fragmentIDs))
	if len(fragmentIDs) == 0 || query == "" {
		return ranks, nil
	}
	rows, err := s.db.QueryxContext(ctx, `
		SELECT fragment_id,
		       ts_rank(to_tsvector('spanish', text), plainto_tsquery('spanish', $2)) AS rank
		FROM fragments
		WHERE project_id = $1 AND fragment_id = ANY($3)`,
		projectID, query, pq.Array(fragmentIDs))
	if err != nil {
		return nil, fmt.Errorf("lexical rank: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("scan lexical rank: %w", err)
		}
		ranks[id] = rank
	}
	return ranks, rows.Err()
}
