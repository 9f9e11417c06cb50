package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// migration is one ordered, idempotent schema step. Each runs in its own
// transaction so a failure leaves earlier steps applied and recorded.
type migration struct {
	version int
	name    string
	up      string
}

var migrations = []migration{
	{1, "schema_migrations", `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INT PRIMARY KEY,
			name        TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{2, "projects", `
		CREATE TABLE IF NOT EXISTS projects (
			project_id  TEXT NOT NULL,
			org_id      TEXT NOT NULL,
			nombre      TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (org_id, project_id)
		)`},
	{3, "fragments", `
		CREATE TABLE IF NOT EXISTS fragments (
			fragment_id TEXT NOT NULL,
			project_id  TEXT NOT NULL,
			archivo     TEXT NOT NULL,
			par_idx     INT NOT NULL CHECK (par_idx >= 0),
			speaker     TEXT,
			text        TEXT NOT NULL,
			char_len    INT NOT NULL,
			metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (project_id, fragment_id),
			UNIQUE (project_id, archivo, par_idx)
		)`},
	{4, "fragments_fts", `
		CREATE INDEX IF NOT EXISTS fragments_fts_idx
		ON fragments USING GIN (to_tsvector('spanish', text))`},
	{5, "candidate_codes", `
		CREATE TABLE IF NOT EXISTS candidate_codes (
			id               BIGSERIAL PRIMARY KEY,
			project_id       TEXT NOT NULL,
			codigo           TEXT NOT NULL,
			fragment_id      TEXT,
			archivo          TEXT NOT NULL DEFAULT '',
			cita             TEXT NOT NULL DEFAULT '' CHECK (char_length(cita) <= 500),
			source_origin    TEXT NOT NULL CHECK (source_origin IN ('manual','llm','semantic_suggestion','link_prediction')),
			score_confidence DOUBLE PRECISION NOT NULL CHECK (score_confidence >= 0 AND score_confidence <= 1),
			status           TEXT NOT NULL DEFAULT 'pendiente' CHECK (status IN ('pendiente','validado','rechazado','hipotesis')),
			memo             TEXT NOT NULL DEFAULT '',
			promoted_at      TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (status <> 'hipotesis' OR fragment_id IS NULL)
		)`},
	{6, "candidate_codes_dedupe", `
		CREATE UNIQUE INDEX IF NOT EXISTS candidate_codes_dedupe_idx
		ON candidate_codes (project_id, fragment_id, codigo)
		WHERE fragment_id IS NOT NULL AND status <> 'rechazado'`},
	{7, "open_codes", `
		CREATE TABLE IF NOT EXISTS open_codes (
			id          BIGSERIAL PRIMARY KEY,
			project_id  TEXT NOT NULL,
			codigo      TEXT NOT NULL,
			fragment_id TEXT NOT NULL,
			archivo     TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (project_id, fragment_id, codigo),
			FOREIGN KEY (project_id, fragment_id) REFERENCES fragments (project_id, fragment_id) ON DELETE CASCADE
		)`},
	{8, "axial_relations", `
		CREATE TABLE IF NOT EXISTS axial_relations (
			id          BIGSERIAL PRIMARY KEY,
			project_id  TEXT NOT NULL,
			categoria   TEXT NOT NULL,
			codigo      TEXT NOT NULL,
			tipo        TEXT NOT NULL CHECK (tipo IN ('partede','causa','condicion','consecuencia')),
			evidencia   TEXT[] NOT NULL,
			memo        TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (project_id, categoria, codigo, tipo)
		)`},
	{9, "memo_statements", `
		CREATE TABLE IF NOT EXISTS memo_statements (
			id           BIGSERIAL PRIMARY KEY,
			project_id   TEXT NOT NULL,
			memo_type    TEXT NOT NULL CHECK (memo_type IN ('OBSERVATION','INTERPRETATION','HYPOTHESIS','NORMATIVE_INFERENCE')),
			text         TEXT NOT NULL,
			evidence_ids TEXT[] NOT NULL DEFAULT '{}',
			metadata     JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (memo_type <> 'OBSERVATION' OR cardinality(evidence_ids) > 0)
		)`},
	{10, "audit_log", `
		CREATE TABLE IF NOT EXISTS audit_log (
			id           BIGSERIAL PRIMARY KEY,
			project_id   TEXT NOT NULL,
			actor        TEXT NOT NULL,
			action       TEXT NOT NULL,
			entity       TEXT NOT NULL,
			before_state JSONB,
			after_state  JSONB,
			ts           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{11, "interviews", `
		CREATE TABLE IF NOT EXISTS interviews (
			project_id      TEXT NOT NULL,
			archivo         TEXT NOT NULL,
			area_tematica   TEXT NOT NULL DEFAULT '',
			actor_principal TEXT NOT NULL DEFAULT '',
			ingested_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (project_id, archivo)
		)`},
	{12, "runner_tasks_mirror", `
		CREATE TABLE IF NOT EXISTS runner_tasks (
			task_id      TEXT PRIMARY KEY,
			project_id   TEXT NOT NULL,
			owner_user   TEXT NOT NULL DEFAULT '',
			owner_org    TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			saturated    BOOLEAN NOT NULL DEFAULT FALSE,
			resumed_from TEXT,
			checkpoint   JSONB,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{13, "interview_reports", `
		CREATE TABLE IF NOT EXISTS interview_reports (
			id          BIGSERIAL PRIMARY KEY,
			project_id  TEXT NOT NULL,
			archivo     TEXT NOT NULL,
			resumen     TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{14, "fragment_comparisons", `
		CREATE TABLE IF NOT EXISTS fragment_comparisons (
			comparison_id TEXT PRIMARY KEY,
			project_id    TEXT NOT NULL,
			fragment_a    TEXT NOT NULL,
			fragment_b    TEXT NOT NULL,
			memo          TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
}

// Migrate applies pending migrations in order, one transaction each.
func (s *Store) Migrate(ctx context.Context) error {
	// Bootstrap the version table outside the loop so version checks work.
	if _, err := s.db.ExecContext(ctx, migrations[0].up); err != nil {
		return fmt.Errorf("bootstrap schema_migrations: %w", err)
	}

	for _, m := range migrations {
		applied, err := s.migrationApplied(ctx, m.version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		err = s.inTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, m.up); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`,
				m.version, m.name)
			return err
		})
		if err != nil {
			return err
		}
		s.logger.Info("migration applied", "version", m.version, "name", m.name)
	}
	return nil
}

func (s *Store) migrationApplied(ctx context.Context, version int) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM schema_migrations WHERE version = $1`, version)
	if err != nil {
		return false, fmt.Errorf("check migration %d: %w", version, err)
	}
	return n > 0, nil
}
