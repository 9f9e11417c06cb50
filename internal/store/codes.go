package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/models"
)

// ListOpenCodes returns promoted codes for a project, optionally filtered to
// one code name.
func (s *Store) ListOpenCodes(ctx context.Context, projectID, codigo string, limit int) ([]*models.OpenCode, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []*models.OpenCode
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, project_id, codigo, fragment_id, archivo, created_at
		FROM open_codes
		WHERE project_id = $1 AND ($2 = '' OR codigo = $2)
		ORDER BY created_at DESC LIMIT $3`,
		projectID, codigo, limit)
	if err != nil {
		return nil, fmt.Errorf("list open codes: %w", err)
	}
	return rows, nil
}

// DistinctCodeNames returns the code vocabulary of a project.
func (s *Store) DistinctCodeNames(ctx context.Context, projectID string) ([]string, error) {
	var names []string
	err := s.db.SelectContext(ctx, &names,
		`SELECT DISTINCT codigo FROM open_codes WHERE project_id = $1 ORDER BY codigo`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("distinct code names: %w", err)
	}
	return names, nil
}

// CodesForFragments maps fragment id → promoted code names. find_similar_codes
// builds its neighbourhood vote from this.
func (s *Store) CodesForFragments(ctx context.Context, projectID string, fragmentIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(fragmentIDs))
	if len(fragmentIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryxContext(ctx, `
		SELECT fragment_id, codigo FROM open_codes
		WHERE project_id = $1 AND fragment_id = ANY($2)`,
		projectID, pq.Array(fragmentIDs))
	if err != nil {
		return nil, fmt.Errorf("codes for fragments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var fragID, codigo string
		if err := rows.Scan(&fragID, &codigo); err != nil {
			return nil, err
		}
		out[fragID] = append(out[fragID], codigo)
	}
	return out, rows.Err()
}

// CodedFragmentIDs returns the set of fragments of one interview that carry
// at least one promoted code; the runner excludes them when include_coded is
// false.
func (s *Store) CodedFragmentIDs(ctx context.Context, projectID, archivo string) (map[string]bool, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT fragment_id FROM open_codes
		WHERE project_id = $1 AND ($2 = '' OR archivo = $2)`,
		projectID, archivo)
	if err != nil {
		return nil, fmt.Errorf("coded fragment ids: %w", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// IsFragmentCoded reports whether a fragment carries a specific code; the
// axial evidence gate checks each evidence id through this.
func (s *Store) IsFragmentCoded(ctx context.Context, projectID, fragmentID, codigo string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM open_codes
		WHERE project_id = $1 AND fragment_id = $2 AND codigo = $3`,
		projectID, fragmentID, codigo)
	if err != nil {
		return false, fmt.Errorf("is fragment coded: %w", err)
	}
	return n > 0, nil
}

// DeleteOpenCode removes a promoted (codigo, fragment) pair; the coding
// service mirrors the removal into the graph projection and audit log.
func (s *Store) DeleteOpenCode(ctx context.Context, projectID, fragmentID, codigo, actor string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM open_codes
			WHERE project_id = $1 AND fragment_id = $2 AND codigo = $3`,
			projectID, fragmentID, codigo)
		if err != nil {
			return fmt.Errorf("delete open code: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return qerr.NotFoundf("open code %q not found on fragment %s", codigo, fragmentID)
		}
		return s.auditTx(ctx, tx, projectID, actor, "unassign", "code:"+codigo,
			map[string]string{"fragment_id": fragmentID, "codigo": codigo}, nil)
	})
}

// InsertAxialRelation records a validated Category→Code relation. The caller
// (axial engine) has already enforced the evidence gate.
func (s *Store) InsertAxialRelation(ctx context.Context, rel *models.AxialRelation, actor string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO axial_relations (project_id, categoria, codigo, tipo, evidencia, memo)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (project_id, categoria, codigo, tipo) DO UPDATE SET
				evidencia = EXCLUDED.evidencia,
				memo = EXCLUDED.memo
			RETURNING id, created_at`,
			rel.ProjectID, rel.Categoria, rel.Codigo, rel.Tipo, pq.Array(rel.Evidencia), rel.Memo).
			Scan(&rel.ID, &rel.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert axial relation: %w", err)
		}
		return s.auditTx(ctx, tx, rel.ProjectID, actor, "axial_assign",
			fmt.Sprintf("categoria:%s", rel.Categoria), nil, rel)
	})
}

// ListAxialRelations returns the axial ledger for a project.
func (s *Store) ListAxialRelations(ctx context.Context, projectID string) ([]*models.AxialRelation, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, project_id, categoria, codigo, tipo, evidencia, memo, created_at
		FROM axial_relations WHERE project_id = $1 ORDER BY categoria, codigo`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("list axial relations: %w", err)
	}
	defer rows.Close()

	var out []*models.AxialRelation
	for rows.Next() {
		var rel models.AxialRelation
		var evidencia pq.StringArray
		if err := rows.Scan(&rel.ID, &rel.ProjectID, &rel.Categoria, &rel.Codigo, &rel.Tipo,
			&evidencia, &rel.Memo, &rel.CreatedAt); err != nil {
			return nil, err
		}
		rel.Evidencia = []string(evidencia)
		out = append(out, &rel)
	}
	return out, rows.Err()
}

// SaturationPoint is one interview on the cumulative saturation curve.
type SaturationPoint struct {
	Archivo         string `json:"archivo" db:"archivo"`
	NewCodes        int    `json:"new_codes" db:"new_codes"`
	CumulativeCodes int    `json:"cumulative_codes" db:"-"`
}

// SaturationCurve computes cumulative distinct open codes per interview in
// ingest order: for each interview, how many code names appear there for the
// first time.
func (s *Store) SaturationCurve(ctx context.Context, projectID string) ([]SaturationPoint, error) {
	// Each code's first appearance is pinned to one interview by key, not by
	// timestamp; interviews ingested in the same instant must not both claim
	// the code.
	rows, err := s.db.QueryxContext(ctx, `
		WITH firsts AS (
			SELECT DISTINCT ON (o.codigo) o.codigo, i.archivo
			FROM open_codes o
			JOIN interviews i ON i.project_id = o.project_id AND i.archivo = o.archivo
			WHERE o.project_id = $1
			ORDER BY o.codigo, i.ingested_at, i.archivo
		)
		SELECT i.archivo,
		       COUNT(f.codigo) AS new_codes
		FROM interviews i
		LEFT JOIN firsts f ON f.archivo = i.archivo
		WHERE i.project_id = $1
		GROUP BY i.archivo, i.ingested_at
		ORDER BY i.ingested_at, i.archivo`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("saturation curve: %w", err)
	}
	defer rows.Close()

	var points []SaturationPoint
	for rows.Next() {
		var p SaturationPoint
		if err := rows.Scan(&p.Archivo, &p.NewCodes); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cum := 0
	for i := range points {
		cum += points[i].NewCodes
		points[i].CumulativeCodes = cum
	}
	return points, nil
}

// DetectPlateau reports whether the tail of the saturation curve has gone
// flat: over the last `window` interviews, fewer than `threshold` new codes
// appeared. A curve shorter than the window is never a plateau.
func DetectPlateau(points []SaturationPoint, window, threshold int) bool {
	if window <= 0 || len(points) < window {
		return false
	}
	tail := points[len(points)-window:]
	newInTail := 0
	for _, p := range tail {
		newInTail += p.NewCodes
	}
	return newInTail < threshold
}

// InterviewReportTail returns the most recent per-interview report rows for
// the report artifacts surface.
type InterviewReport struct {
	ID        int64  `json:"id" db:"id"`
	ProjectID string `json:"project_id" db:"project_id"`
	Archivo   string `json:"archivo" db:"archivo"`
	Resumen   string `json:"resumen" db:"resumen"`
}

func (s *Store) InterviewReportTail(ctx context.Context, projectID string, limit int) ([]InterviewReport, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []InterviewReport
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, project_id, archivo, resumen
		FROM interview_reports WHERE project_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("interview report tail: %w", err)
	}
	return rows, nil
}

// CodeFrequencies returns promoted-code usage counts sorted descending.
func (s *Store) CodeFrequencies(ctx context.Context, projectID string) (map[string]int, []string, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT codigo, COUNT(*) AS n FROM open_codes
		WHERE project_id = $1 GROUP BY codigo`,
		projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("code frequencies: %w", err)
	}
	defer rows.Close()

	freqs := map[string]int{}
	for rows.Next() {
		var codigo string
		var n int
		if err := rows.Scan(&codigo, &n); err != nil {
			return nil, nil, err
		}
		freqs[codigo] = n
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	names := make([]string, 0, len(freqs))
	for name := range freqs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return freqs[names[i]] > freqs[names[j]] })
	return freqs, names, nil
}
